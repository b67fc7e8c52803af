// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package plots renders the training curves and the confusion matrices of leafgrade runs.
//
// Training metrics are collected as Curves, one value per epoch for each metric. They can be
// printed as a table (Curves.Table), or drawn as SVG line plots, one per metric type, with
// WriteCurvesSVG. Confusion matrices are drawn as PNG heat maps by SaveConfusionMatrixPNG.
package plots

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/leafgrade/leafgrade/pkg/support/sets"
)

// Metric types of the curves of a training run.
const (
	TypeLoss         = "loss"
	TypeAccuracy     = "accuracy"
	TypeLearningRate = "learning_rate"
)

// Curve is the history of one metric: Values[i] was measured at the end of epoch i+1.
type Curve struct {
	Name, Short string

	// MetricType groups curves drawn in the same plot, e.g. TypeLoss.
	MetricType string

	Values []float64
}

// Curves of a training run, kept sorted by metric type and then by name.
type Curves []Curve

// Add inserts the curve of a metric, keeping the order. Values are not copied.
func (c *Curves) Add(name, short, metricType string, values []float64) {
	curve := Curve{Name: name, Short: short, MetricType: metricType, Values: values}
	idx, _ := slices.BinarySearchFunc(*c, curve, compareCurves)
	*c = slices.Insert(*c, idx, curve)
}

func compareCurves(a, b Curve) int {
	return cmp.Or(cmp.Compare(a.MetricType, b.MetricType), cmp.Compare(a.Name, b.Name))
}

// MetricTypes returns the distinct metric types, sorted.
func (c Curves) MetricTypes() []string {
	types := make(sets.Set[string])
	for _, curve := range c {
		types.Insert(curve.MetricType)
	}
	return sets.Sorted(types)
}

// OfType returns the curves of the given metric type.
func (c Curves) OfType(metricType string) Curves {
	var selected Curves
	for _, curve := range c {
		if curve.MetricType == metricType {
			selected = append(selected, curve)
		}
	}
	return selected
}

// Names returns the names of the curves, sorted by metric type and then by name.
func (c Curves) Names() []string {
	names := make([]string, len(c))
	for ii, curve := range c {
		names[ii] = curve.Name
	}
	return names
}

// NumEpochs is the length of the longest curve.
func (c Curves) NumEpochs() int {
	var n int
	for _, curve := range c {
		n = max(n, len(curve.Values))
	}
	return n
}

// Table returns a table with one row per epoch and one column per named curve, or all curves
// if no names are given. Unknown names get empty columns.
func (c Curves) Table(names ...string) string {
	if len(names) == 0 {
		names = c.Names()
	}
	columns := make([][]float64, len(names))
	for ii, name := range names {
		if idx := slices.IndexFunc(c, func(curve Curve) bool { return curve.Name == name }); idx >= 0 {
			columns[ii] = c[idx].Values
		}
	}

	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	cellStyle := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(append([]string{"Epoch"}, names...)...)
	for epoch := range c.NumEpochs() {
		row := []string{fmt.Sprint(epoch + 1)}
		for _, values := range columns {
			cell := ""
			if epoch < len(values) {
				cell = fmt.Sprintf("%.4f", values[epoch])
			}
			row = append(row, cell)
		}
		table.Row(row...)
	}
	return table.String()
}

func (c Curves) String() string {
	return c.Table()
}
