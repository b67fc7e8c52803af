package augment

import (
	"math/rand/v2"
	"testing"

	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func testBatch() *data.Batch {
	images := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		-1, 0, 1,
		5, 5, 6,
		0, 10, 20,
	})
	return &data.Batch{
		Images:  images,
		Labels:  [][]int{{0, 1, 2, 3}, {4, 3, 2, 1}},
		Indices: []int{10, 11, 12, 13},
	}
}

func TestFromName(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for name, want := range map[string]string{"": "none", "none": "none", "bc+": "bc+", "MIXUP": "mixup"} {
		s, err := FromName(name, DefaultMixupAlpha, rng)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}
	_, err := FromName("cutmix", DefaultMixupAlpha, rng)
	require.Error(t, err)
}

func TestNone(t *testing.T) {
	batch := testBatch()
	out, mix := None{}.Augment(batch, data.NumClasses)
	assert.Same(t, batch, out)
	require.Equal(t, 2, mix.NumHeads())
	assert.False(t, mix.IsSoft(0))
	assert.Equal(t, 1.0, mix.Lambda)
	got := mix.Combine(1, func(labels []int) float64 { return float64(labels[0]) })
	assert.Equal(t, 4.0, got)
}

func TestMixup(t *testing.T) {
	batch := testBatch()
	original := batch.Clone()
	strategy := NewMixup(DefaultMixupAlpha, rand.New(rand.NewPCG(3, 4)))
	for range 10 {
		out, mix := strategy.Augment(batch, data.NumClasses)
		lambda := mix.Lambda
		assert.True(t, lambda >= 0 && lambda <= 1)
		perm := mix.Permutation
		for ii := range batch.Size() {
			want := make([]float64, 3)
			floats.ScaleTo(want, lambda, batch.Images.RawRowView(ii))
			floats.AddScaled(want, 1-lambda, batch.Images.RawRowView(perm[ii]))
			assert.InDeltaSlice(t, want, out.Images.RawRowView(ii), 1e-12)
		}
		for head := range batch.Labels {
			sides := mix.Heads[head].Sides
			require.Len(t, sides, 2)
			assert.Equal(t, batch.Labels[head], sides[0].Labels)
			assert.InDelta(t, 1.0, sides[0].Weight+sides[1].Weight, 1e-12)
			for ii := range batch.Size() {
				assert.Equal(t, batch.Labels[head][perm[ii]], sides[1].Labels[ii])
			}
		}
	}
	assert.True(t, mat.Equal(original.Images, batch.Images))
	assert.Equal(t, original.Labels, batch.Labels)
}

func TestBetweenClass(t *testing.T) {
	batch := testBatch()
	original := batch.Clone()
	strategy := NewBetweenClass(rand.New(rand.NewPCG(5, 6)))
	out, mix := strategy.Augment(batch, data.NumClasses)
	require.Equal(t, batch.Size(), out.Size())
	for head := range batch.Labels {
		require.True(t, mix.IsSoft(head))
		dense := mix.Heads[head].Dense
		rows, cols := dense.Dims()
		assert.Equal(t, batch.Size(), rows)
		assert.Equal(t, data.NumClasses, cols)
		for ii := range rows {
			row := dense.RawRowView(ii)
			assert.InDelta(t, 1.0, floats.Sum(row), 1e-12)
			assert.Equal(t, floats.MaxIdx(row), out.Labels[head][ii])
			assert.Equal(t, out.Labels[head][ii], mix.Heads[head].Sides[0].Labels[ii])
		}
	}
	assert.True(t, mat.Equal(original.Images, batch.Images))
	assert.Equal(t, original.Labels, batch.Labels)

	// An example paired with itself ends up with its own one-hot label and a zero mean image.
	single := &data.Batch{
		Images: mat.NewDense(1, 3, []float64{1, 2, 3}),
		Labels: [][]int{{2}},
	}
	out, mix = strategy.Augment(single, data.NumClasses)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 0, 0}, mix.Heads[0].Dense.RawRowView(0), 1e-12)
	assert.InDelta(t, 0.0, floats.Sum(out.Images.RawRowView(0)), 1e-9)
}

func TestBlendRatio(t *testing.T) {
	assert.Equal(t, 0.3, BlendRatio(0.3, 1, 0))
	assert.InDelta(t, 0.3, BlendRatio(0.3, 2, 2), 1e-12)
	// A louder first image gets a smaller weight.
	assert.Less(t, BlendRatio(0.5, 4, 1), 0.5)
	assert.InDelta(t, 0.2, BlendRatio(0.5, 4, 1), 1e-12)
}
