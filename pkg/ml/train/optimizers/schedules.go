// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
)

// Schedule defines the learning rate over the training epochs.
type Schedule interface {
	// LearningRate returns the learning rate to use after the given (0-based) epoch finished, that is,
	// for epoch+1 onwards, out of numEpochs. Epoch -1 returns the initial learning rate.
	LearningRate(epoch, numEpochs int) float64
}

// Constant schedule keeps the learning rate fixed.
type Constant float64

// LearningRate implements Schedule.
func (c Constant) LearningRate(_, _ int) float64 { return float64(c) }

// StepTable is a piecewise constant schedule: the training epochs are divided in len(table) steps of
// equal length, step = max(1, round(numEpochs/len(table))), and after epoch e the learning rate is
// table[min(e/step, len(table)-1)].
type StepTable []float64

// DefaultStepTable is the learning rate table used with SGD.
var DefaultStepTable = StepTable{0.01, 0.005, 0.001, 0.0005, 0.0001}

// LearningRate implements Schedule.
func (s StepTable) LearningRate(epoch, numEpochs int) float64 {
	step := max(1, int(math.Round(float64(numEpochs)/float64(len(s)))))
	return s[min(max(epoch, 0)/step, len(s)-1)]
}

// DefaultSchedule returns the schedule used when none is configured: DefaultStepTable for "sgd"
// and a constant learning rate for every other optimizer.
func DefaultSchedule(opt Interface) Schedule {
	if opt.Name() == "sgd" {
		return DefaultStepTable
	}
	return Constant(opt.LearningRate())
}
