package plots

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testCurves() Curves {
	var curves Curves
	curves.Add("val_loss", "V/loss", TypeLoss, []float64{1.6, 1.3, 1.2})
	curves.Add("val_acc", "V/acc", TypeAccuracy, []float64{20, 35, 41})
	curves.Add("train_loss", "T/loss", TypeLoss, []float64{1.5, 1.1, 0.9})
	return curves
}

func TestCurves(t *testing.T) {
	curves := testCurves()
	assert.Equal(t, 3, curves.NumEpochs())
	assert.Equal(t, []string{TypeAccuracy, TypeLoss}, curves.MetricTypes())
	assert.Equal(t, []string{"val_acc", "train_loss", "val_loss"}, curves.Names())
	assert.Len(t, curves.OfType(TypeLoss), 2)
	assert.Empty(t, curves.OfType(TypeLearningRate))

	table := curves.Table("train_loss", "val_loss")
	assert.Contains(t, table, "Epoch")
	assert.Contains(t, table, "0.9000")
	assert.NotContains(t, table, "41.0000")
	assert.Contains(t, curves.String(), "41.0000")
}

func TestWriteCurvesSVG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCurvesSVG(&buf, testCurves(), "loss", CurvesWidth, CurvesHeight))
	assert.True(t, strings.Contains(buf.String(), "<svg"))
	require.Error(t, WriteCurvesSVG(&buf, testCurves(), "f1", CurvesWidth, CurvesHeight))

	paths, err := SaveCurvesSVG(filepath.Join(t.TempDir(), "run_curves"), testCurves())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], "run_curves_accuracy.svg"))
	for _, p := range paths {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}
}

func TestConfusionMatrixPNG(t *testing.T) {
	cm := mat.NewDense(3, 3, []float64{5, 1, 0, 0, 3, 2, 1, 0, 7})
	var buf bytes.Buffer
	require.NoError(t, WriteConfusionMatrixPNG(&buf, cm, []string{"a", "b", "c"}, "test"))
	_, err := png.Decode(&buf)
	require.NoError(t, err)

	// All zeros still renders.
	buf.Reset()
	require.NoError(t, WriteConfusionMatrixPNG(&buf, mat.NewDense(2, 2, nil), []string{"a", "b"}, "empty"))

	require.Error(t, WriteConfusionMatrixPNG(&buf, cm, []string{"a", "b"}, "mismatch"))

	filePath := filepath.Join(t.TempDir(), "results", "cm_dis.png")
	require.NoError(t, SaveConfusionMatrixPNG(filePath, cm, []string{"a", "b", "c"}, "saved"))
	_, err = os.Stat(filePath)
	require.NoError(t, err)
}
