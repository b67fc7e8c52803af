// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"
	"time"

	"github.com/leafgrade/leafgrade/pkg/ml/train/metrics"
)

// State of a training run, threaded through each epoch and returned at the end.
type State struct {
	// Epoch being run (or last run), starting from 0.
	Epoch int

	// LearningRate currently set in the optimizer.
	LearningRate float64

	// BestLoss is the lowest validation loss that triggered a checkpoint, +Inf before the first one.
	BestLoss float64

	// BestEpoch is the epoch of BestLoss, -1 before the first checkpoint.
	BestEpoch int

	// Saved reports whether the last epoch saved a checkpoint.
	Saved bool
}

// NewState returns the state at the start of the training, with the given learning rate.
func NewState(learningRate float64) State {
	return State{LearningRate: learningRate, BestLoss: math.Inf(1), BestEpoch: -1}
}

// HasBest returns whether a checkpoint was saved during the run.
func (s State) HasBest() bool {
	return s.BestEpoch >= 0
}

// EpochMetrics are the metrics of one epoch over one split.
type EpochMetrics struct {
	// Loss is the per-example mean of the monitored loss.
	Loss float64

	// Accuracy of each head, as a percentage.
	Accuracy []float64
}

// EpochResult holds everything measured during one epoch.
type EpochResult struct {
	Epoch, NumEpochs int
	Train, Val       EpochMetrics

	// LearningRate used during the epoch, and NextLearningRate set for the following one.
	LearningRate, NextLearningRate float64

	Duration time.Duration
}

// EpochLogger records the result of each epoch. It may update the state, e.g. when saving a checkpoint.
type EpochLogger interface {
	Log(state State, result *EpochResult) (State, error)
}

// epochAccumulator accumulates the step results of one split, weighted by batch size.
type epochAccumulator struct {
	loss       *metrics.MeanMetric
	accuracies []*metrics.MeanMetric
}

func newEpochAccumulator(split string, headNames []string) *epochAccumulator {
	acc := &epochAccumulator{loss: metrics.NewMeanLoss(split+"_loss", "loss")}
	for _, head := range headNames {
		name := split + "_acc"
		if head != "" {
			name = split + "_" + head + "_acc"
		}
		acc.accuracies = append(acc.accuracies, metrics.NewMeanAccuracy(name, head+" acc"))
	}
	return acc
}

func (a *epochAccumulator) Update(result *StepResult) {
	weight := float64(result.BatchSize)
	a.loss.Update(result.Loss, weight)
	for head, accuracy := range result.Accuracies {
		a.accuracies[head].Update(accuracy, weight)
	}
}

func (a *epochAccumulator) Metrics() EpochMetrics {
	m := EpochMetrics{Loss: a.loss.Value(), Accuracy: make([]float64, len(a.accuracies))}
	for head, accuracy := range a.accuracies {
		m.Accuracy[head] = 100 * accuracy.Value()
	}
	return m
}
