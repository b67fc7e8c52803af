// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds the metrics accumulated while training and evaluating: accuracy under
// mixed labels, batch-size weighted means and the classification report of the evaluation.
package metrics

import (
	"fmt"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "train_loss" and "val_loss" both have the "loss" metric type, and are displayed on the same plot.
	MetricType() string

	// Value returns the current value of the metric.
	Value() float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters when starting a new epoch.
	Reset()
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	AccuracyMetricType = "accuracy"
)

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// MeanMetric keeps the weighted mean of the values it is updated with.
//
// Updated with the batch size as weight, it yields the per-example mean over an epoch, even when
// the last batch is smaller.
type MeanMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn

	sum, weight float64
}

var _ Interface = (*MeanMetric)(nil)

// NewMeanMetric creates a mean metric. `prettyPrintFn` can be left as nil, and a default will be used.
func NewMeanMetric(name, shortName, metricType string, prettyPrintFn PrettyPrintFn) *MeanMetric {
	return &MeanMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: prettyPrintFn}
}

// NewMeanLoss creates a mean metric of the loss type.
func NewMeanLoss(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, nil)
}

// NewMeanAccuracy creates a mean metric of accuracies given as fractions, and printed as percentages.
func NewMeanAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, accuracyPPrint)
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100)
}

// Name implements Interface.
func (m *MeanMetric) Name() string { return m.name }

// ShortName implements Interface.
func (m *MeanMetric) ShortName() string { return m.shortName }

// MetricType implements Interface.
func (m *MeanMetric) MetricType() string { return m.metricType }

// Update adds value with the given weight to the mean.
func (m *MeanMetric) Update(value, weight float64) {
	m.sum += value * weight
	m.weight += weight
}

// Value implements Interface. It returns 0 if the metric was never updated.
func (m *MeanMetric) Value() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.sum / m.weight
}

// Weight returns the total weight accumulated so far.
func (m *MeanMetric) Weight() float64 { return m.weight }

// PrettyPrint implements Interface.
func (m *MeanMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.4g", value)
	}
	return m.pPrintFn(value)
}

// Reset implements Interface.
func (m *MeanMetric) Reset() {
	m.sum, m.weight = 0, 0
}

// ArgMax returns the index of the largest score of each row of scores.
func ArgMax(scores *mat.Dense) []int {
	rows, _ := scores.Dims()
	predictions := make([]int, rows)
	for ii := range rows {
		predictions[ii] = floats.MaxIdx(scores.RawRowView(ii))
	}
	return predictions
}

// Accuracy returns the fraction of predictions equal to labels, 0 for empty inputs.
func Accuracy(predictions, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var correct int
	for ii, label := range labels {
		if predictions[ii] == label {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// MixedAccuracy returns the accuracy of predictions of a mixup batch:
// λ·Accuracy(predictions, labelsA) + (1-λ)·Accuracy(predictions, labelsB).
func MixedAccuracy(predictions, labelsA, labelsB []int, lambda float64) float64 {
	return lambda*Accuracy(predictions, labelsA) + (1-lambda)*Accuracy(predictions, labelsB)
}

// AccuracyWithMix returns the accuracy of the predictions of the given head, scored against the
// sides of the mix.
func AccuracyWithMix(predictions []int, mix *augment.Mix, head int) float64 {
	return mix.Combine(head, func(labels []int) float64 {
		return Accuracy(predictions, labels)
	})
}
