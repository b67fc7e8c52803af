package models

import (
	"math/rand/v2"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testSpec() Spec {
	return Spec{Name: "shallow", NumHeads: 2, NumClasses: 5, ImageSize: 6, Channels: 3, Seed: 1}
}

func randomImages(rng *rand.Rand, batchSize, rowLen int) *mat.Dense {
	images := mat.NewDense(batchSize, rowLen, nil)
	for ii := range batchSize {
		for jj := range rowLen {
			images.Set(ii, jj, rng.NormFloat64())
		}
	}
	return images
}

func TestNew(t *testing.T) {
	m, err := New(testSpec())
	require.NoError(t, err)
	assert.Equal(t, "shallow", m.Name())
	assert.Equal(t, 2, m.NumHeads())
	// hidden: 48*64 + 64, heads: 2 * (64*5 + 5).
	wantCount := 48*64 + 64 + 2*(64*5+5)
	assert.Equal(t, wantCount, ParamsCount(m))
	assert.Equal(t, humanize.Comma(int64(wantCount)), ParamsCountString(m))
	for _, p := range m.Params() {
		switch p.Name {
		case "hidden/weights", "hidden/biases":
			assert.Equal(t, SharedParam, p.Head, p.Name)
		case "head_0/weights", "head_0/biases":
			assert.Equal(t, 0, p.Head, p.Name)
		default:
			assert.Equal(t, 1, p.Head, p.Name)
		}
	}

	spec := testSpec()
	spec.Name = "resnet50"
	_, err = New(spec)
	require.ErrorContains(t, err, "no builder was registered")
	spec.Name = "transformer"
	_, err = New(spec)
	require.ErrorContains(t, err, "unknown model")
}

func TestShallowForward(t *testing.T) {
	m, err := New(testSpec())
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	logits, err := m.Forward(randomImages(rng, 3, 6*6*3), true)
	require.NoError(t, err)
	require.Len(t, logits, 2)
	rows, cols := logits[1].Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 5, cols)

	_, err = m.Forward(randomImages(rng, 3, 10), false)
	require.Error(t, err)

	// Same seed, same model.
	other, err := New(testSpec())
	require.NoError(t, err)
	assert.True(t, mat.Equal(m.Params()[0].Value, other.Params()[0].Value))
}

// TestShallowBackward compares the gradients with central differences of the loss
// L = Σ_head Σ coefs[head] ⊙ logits[head].
func TestShallowBackward(t *testing.T) {
	m, err := New(testSpec())
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(3, 4))
	images := randomImages(rng, 4, 6*6*3)
	coefs := []*mat.Dense{randomImages(rng, 4, 5), randomImages(rng, 4, 5)}
	lossFn := func() float64 {
		logits, err := m.Forward(images, true)
		require.NoError(t, err)
		var loss float64
		for head := range logits {
			var prod mat.Dense
			prod.MulElem(logits[head], coefs[head])
			loss += mat.Sum(&prod)
		}
		return loss
	}

	lossFn()
	ZeroGrads(m.Params())
	require.NoError(t, m.Backward(coefs))

	const eps = 1e-6
	for _, p := range m.Params() {
		rows, cols := p.Value.Dims()
		for _, pos := range [][2]int{{0, 0}, {rows - 1, cols - 1}, {rows / 2, cols / 2}} {
			original := p.Value.At(pos[0], pos[1])
			p.Value.Set(pos[0], pos[1], original+eps)
			plus := lossFn()
			p.Value.Set(pos[0], pos[1], original-eps)
			minus := lossFn()
			p.Value.Set(pos[0], pos[1], original)
			assert.InDeltaf(t, (plus-minus)/(2*eps), p.Grad.At(pos[0], pos[1]), 1e-5, "param %s at %v", p.Name, pos)
		}
	}
}

func TestShallowBackwardSkipsHead(t *testing.T) {
	m, err := New(testSpec())
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(5, 6))
	_, err = m.Forward(randomImages(rng, 2, 6*6*3), true)
	require.NoError(t, err)
	ZeroGrads(m.Params())
	require.NoError(t, m.Backward([]*mat.Dense{randomImages(rng, 2, 5), nil}))
	for _, p := range m.Params() {
		norm := mat.Norm(p.Grad, 2)
		if p.Name == "head_1/weights" || p.Name == "head_1/biases" {
			assert.Zero(t, norm, p.Name)
		}
	}
	assert.NotZero(t, mat.Norm(m.Params()[2].Grad, 2))
	require.Error(t, m.Backward([]*mat.Dense{nil}))
}
