// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"
	"io"

	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ConfusionMatrixSize is the width and height of the confusion matrix images.
var ConfusionMatrixSize = 6 * vg.Inch

// confusionGrid adapts a confusion matrix (rows are true labels, columns predictions) to
// plotter.GridXYZ, with the first true label at the top.
type confusionGrid struct {
	cm *mat.Dense
}

func (g confusionGrid) Dims() (c, r int) {
	rows, cols := g.cm.Dims()
	return cols, rows
}

func (g confusionGrid) Z(c, r int) float64 {
	rows, _ := g.cm.Dims()
	return g.cm.At(rows-1-r, c)
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// ConfusionMatrixPlot creates a heat map of the confusion matrix cm, annotated with the counts.
// classNames label both axes: true labels on the Y axis, predictions on the X axis.
func ConfusionMatrixPlot(cm *mat.Dense, classNames []string, title string) (*plot.Plot, error) {
	rows, cols := cm.Dims()
	if rows != cols || rows != len(classNames) {
		return nil, errors.Errorf("confusion matrix shaped [%d, %d] doesn't match %d class names", rows, cols, len(classNames))
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	heatMap := plotter.NewHeatMap(confusionGrid{cm}, palette.Heat(16, 1))
	if heatMap.Max <= heatMap.Min {
		heatMap.Max = heatMap.Min + 1
	}
	p.Add(heatMap)

	counts := plotter.XYLabels{}
	for row := range rows {
		for col := range cols {
			counts.XYs = append(counts.XYs, plotter.XY{X: float64(col), Y: float64(rows - 1 - row)})
			counts.Labels = append(counts.Labels, fmt.Sprintf("%.0f", cm.At(row, col)))
		}
	}
	labels, err := plotter.NewLabels(counts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create confusion matrix labels")
	}
	p.Add(labels)

	p.NominalX(classNames...)
	reversed := make([]string, len(classNames))
	for ii, name := range classNames {
		reversed[len(classNames)-1-ii] = name
	}
	p.NominalY(reversed...)
	return p, nil
}

// WriteConfusionMatrixPNG renders the confusion matrix as a PNG image into w.
func WriteConfusionMatrixPNG(w io.Writer, cm *mat.Dense, classNames []string, title string) error {
	p, err := ConfusionMatrixPlot(cm, classNames, title)
	if err != nil {
		return err
	}
	writerTo, err := p.WriterTo(ConfusionMatrixSize, ConfusionMatrixSize, "png")
	if err != nil {
		return errors.Wrap(err, "failed to render confusion matrix")
	}
	_, err = writerTo.WriteTo(w)
	return errors.Wrap(err, "failed to write confusion matrix PNG")
}

// SaveConfusionMatrixPNG renders the confusion matrix as a PNG image, and saves it to filePath.
func SaveConfusionMatrixPNG(filePath string, cm *mat.Dense, classNames []string, title string) error {
	return fsutil.WriteFileAtomic(filePath, func(w io.Writer) error {
		return WriteConfusionMatrixPNG(w, cm, classNames, title)
	})
}
