// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/leafgrade/leafgrade/pkg/ml/models"
)

const (
	// SgdDefaultLearningRate is used by SGD if no learning rate is set.
	SgdDefaultLearningRate = 0.01

	// SgdDefaultMomentum is used by SGD if no momentum is set.
	SgdDefaultMomentum = 0.9
)

// SGDConfig holds the configuration of a stochastic gradient descent optimizer. Create it with
// StochasticGradientDescent and call Done once configured.
type SGDConfig struct {
	learningRate, momentum, weightDecay float64
}

// StochasticGradientDescent creates a configuration for an SGD optimizer with momentum:
//
//	g = grad + weightDecay·w
//	v = momentum·v + g
//	w = w - learningRate·v
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: SgdDefaultLearningRate, momentum: SgdDefaultMomentum}
}

// LearningRate sets the initial learning rate. Default is SgdDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum. Use 0 to disable it. Default is SgdDefaultMomentum.
func (c *SGDConfig) Momentum(value float64) *SGDConfig {
	c.momentum = value
	return c
}

// WeightDecay sets the L2 regularization coefficient, added to the gradients. Default is 0.
func (c *SGDConfig) WeightDecay(value float64) *SGDConfig {
	c.weightDecay = value
	return c
}

// Done returns the configured optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c, learningRate: c.learningRate, velocity: make(map[*models.Param][]float64)}
}

type sgd struct {
	config       SGDConfig
	learningRate float64
	velocity     map[*models.Param][]float64
	buf          []float64
}

func (o *sgd) Name() string { return "sgd" }

func (o *sgd) LearningRate() float64 { return o.learningRate }

func (o *sgd) SetLearningRate(lr float64) { o.learningRate = lr }

func (o *sgd) Step(params []*models.Param) {
	for _, p := range params {
		value := p.Value.RawMatrix().Data
		if len(o.buf) < len(value) {
			o.buf = make([]float64, len(value))
		}
		grad := addWeightDecay(p.Grad.RawMatrix().Data, value, o.config.weightDecay, o.buf[:len(value)])
		step := grad
		if o.config.momentum != 0 {
			v, found := o.velocity[p]
			if !found {
				v = make([]float64, len(value))
				o.velocity[p] = v
			}
			for ii := range v {
				v[ii] = o.config.momentum*v[ii] + grad[ii]
			}
			step = v
		}
		for ii := range value {
			value[ii] -= o.learningRate * step[ii]
		}
	}
}
