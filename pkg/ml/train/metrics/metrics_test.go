package metrics

import (
	"testing"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMeanMetric(t *testing.T) {
	// Batches of 32, 32 and 4 with means 1, 2 and 10: the epoch mean is per example.
	loss := NewMeanLoss("train_loss", "loss")
	loss.Update(1, 32)
	loss.Update(2, 32)
	loss.Update(10, 4)
	assert.InDelta(t, (32*1+32*2+4*10)/68.0, loss.Value(), 1e-12)
	assert.Equal(t, 68.0, loss.Weight())
	assert.Equal(t, LossMetricType, loss.MetricType())
	assert.Equal(t, "2.118", loss.PrettyPrint(2.1176))

	loss.Reset()
	assert.Equal(t, 0.0, loss.Value())

	acc := NewMeanAccuracy("train_dis_acc", "acc")
	acc.Update(0.5, 2)
	acc.Update(1, 2)
	assert.Equal(t, "75.00%", acc.PrettyPrint(acc.Value()))
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.75, Accuracy([]int{0, 1, 2, 3}, []int{0, 1, 2, 4}))
	assert.Equal(t, 0.0, Accuracy(nil, nil))

	preds := ArgMax(mat.NewDense(3, 3, []float64{
		0.1, 0.8, 0.1,
		3, -1, 2,
		0, 0, 5,
	}))
	assert.Equal(t, []int{1, 0, 2}, preds)
}

func TestMixedAccuracy(t *testing.T) {
	preds := []int{0, 1, 2, 3}
	a := []int{0, 1, 2, 3}
	b := []int{1, 1, 0, 0}
	for _, lambda := range []float64{0, 0.3, 0.5, 1} {
		want := lambda*1 + (1-lambda)*0.25
		assert.InDelta(t, want, MixedAccuracy(preds, a, b, lambda), 1e-12)

		mix := &augment.Mix{Heads: []augment.Targets{{Sides: []augment.Side{
			{Labels: a, Weight: lambda},
			{Labels: b, Weight: 1 - lambda},
		}}}}
		assert.InDelta(t, want, AccuracyWithMix(preds, mix, 0), 1e-12)
	}
}

func TestConfusionMatrix(t *testing.T) {
	cm := ConfusionMatrix([]int{0, 2, 2, 0}, []int{0, 2, 0, 0}, 5)
	rows, cols := cm.Dims()
	require.Equal(t, 5, rows)
	require.Equal(t, 5, cols)
	assert.Equal(t, 2.0, cm.At(0, 0))
	assert.Equal(t, 1.0, cm.At(2, 0))
	assert.Equal(t, 1.0, cm.At(2, 2))
	total := 0.0
	for ii := range 5 {
		for jj := range 5 {
			total += cm.At(ii, jj)
		}
	}
	assert.Equal(t, 4.0, total)
	for ii := range 5 {
		assert.Zero(t, cm.At(1, ii))
		assert.Zero(t, cm.At(ii, 4))
	}
}

func TestMacroScores(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	yPred := []int{0, 1, 1, 1}
	scores := MacroScores(yTrue, yPred)
	assert.InDelta(t, 0.75, scores.Accuracy, 1e-12)
	// class 0: p=1, r=0.5, f1=2/3; class 1: p=2/3, r=1, f1=0.8.
	assert.InDelta(t, (1+2.0/3)/2, scores.Precision, 1e-12)
	assert.InDelta(t, 0.75, scores.Recall, 1e-12)
	assert.InDelta(t, (2.0/3+0.8)/2, scores.F1, 1e-12)

	// A class only predicted (never true) counts with zero recall and precision.
	scores = MacroScores([]int{0, 0}, []int{0, 3})
	assert.InDelta(t, 0.5, scores.Precision, 1e-12)
	assert.InDelta(t, 0.25, scores.Recall, 1e-12)

	assert.Equal(t, Scores{}, MacroScores(nil, nil))
}
