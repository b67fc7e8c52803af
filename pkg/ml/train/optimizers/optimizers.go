// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
//
// It also holds the learning rate schedules (see Schedule) and the global norm gradient clipping
// applied before each optimizer step.
package optimizers

import (
	"math"
	"slices"

	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/floats"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Name of the optimizer, as in KnownOptimizers.
	Name() string

	// Step updates the values of params using their accumulated gradients.
	// Params must always be given in the same order, since the optimizer state (e.g.: momentum) is
	// kept per parameter.
	Step(params []*models.Param)

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// SetLearningRate changes the learning rate used by the following steps.
	SetLearningRate(lr float64)
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors, given the
	// weight decay to use.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(weightDecay float64) Interface{
		"sgd":     func(wd float64) Interface { return StochasticGradientDescent().WeightDecay(wd).Done() },
		"adam":    func(wd float64) Interface { return Adam().WeightDecay(wd).Done() },
		"adamw":   func(wd float64) Interface { return Adam().DecoupledWeightDecay(wd).Done() },
		"adamax":  func(wd float64) Interface { return Adam().Adamax().WeightDecay(wd).Done() },
		"rmsprop": func(wd float64) Interface { return RMSProp().WeightDecay(wd).Done() },
	}
)

// ByName returns an optimizer given the name, or an error if one does not exist.
// It uses KnownOptimizers.
func ByName(optName string, weightDecay float64) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		names := maps.Keys(KnownOptimizers)
		slices.Sort(names)
		return nil, errors.Errorf("unknown optimizer %q, valid values are %q", optName, names)
	}
	return optBuilder(weightDecay), nil
}

// GlobalNorm returns the L2 norm of the gradients of all params taken together.
func GlobalNorm(params []*models.Param) float64 {
	var sumSquares float64
	for _, p := range params {
		grad := p.Grad.RawMatrix().Data
		sumSquares += floats.Dot(grad, grad)
	}
	return math.Sqrt(sumSquares)
}

// ClipByGlobalNorm scales the gradients of params so that their GlobalNorm is at most maxNorm
// (plus a tiny epsilon), and returns the norm before clipping.
//
// If the norm is larger than maxNorm, every gradient is multiplied by maxNorm/(norm+1e-6).
func ClipByGlobalNorm(params []*models.Param, maxNorm float64) float64 {
	norm := GlobalNorm(params)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / (norm + 1e-6)
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm
}

// addWeightDecay returns grad + weightDecay·value in a new slice, or grad itself if there is no decay.
func addWeightDecay(grad, value []float64, weightDecay float64, buf []float64) []float64 {
	if weightDecay == 0 {
		return grad
	}
	floats.AddScaledTo(buf, grad, weightDecay, value)
	return buf
}
