// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/leafgrade/leafgrade/pkg/ml/models"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// AdamDefaultEpsilon is used by Adam if no epsilon is set.
	AdamDefaultEpsilon = 1e-8
)

// Adam optimization is a stochastic gradient descent method based on an adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured, call AdamConfig.Done,
// and it will return an optimizers.Interface that can be used with the `train.Trainer` or directly in a custom
// optimization loop.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      AdamDefaultEpsilon,
	}
}

// RMSProp is an optimizer that divides the learning rate for a weight by a running average
// of the recent gradients magnitudes (L2) for that weight.
//
// It uses Adam to implement it: it's somewhat equivalent to an Adam without the 1st moment
// of the gradients.
func RMSProp() *AdamConfig {
	c := Adam()
	c.rmsProp = true
	return c
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam-based optimizers.Interface.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool    // Works as Adamax.
	weightDecay  float64 // L2 regularization added to the gradients.
	decoupled    bool    // Works as AdamW.
	rmsProp      bool    // Works as RMSProp.
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas set the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
//
// The first is for the gradient momentum (the numerator of the step taken), and the second
// is for the variance of the gradients (denominator).
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use an L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay adds weightDecay·w to the gradients (L2 regularization), before the moments are updated.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	c.decoupled = false
	return c
}

// DecoupledWeightDecay configure optimizer to work as AdamW, with the given static weight decay
// applied directly to the weights, scaled by the learning rate.
func (c *AdamConfig) DecoupledWeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	c.decoupled = true
	return c
}

// Done returns the configured optimizer.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c, learningRate: c.learningRate, moments: make(map[*models.Param]*adamMoments)}
}

type adamMoments struct {
	first, second []float64
}

type adam struct {
	config       AdamConfig
	learningRate float64
	step         int
	moments      map[*models.Param]*adamMoments
	buf          []float64
}

func (o *adam) Name() string {
	switch {
	case o.config.rmsProp:
		return "rmsprop"
	case o.config.adamax:
		return "adamax"
	case o.config.decoupled:
		return "adamw"
	}
	return "adam"
}

func (o *adam) LearningRate() float64 { return o.learningRate }

func (o *adam) SetLearningRate(lr float64) { o.learningRate = lr }

func (o *adam) Step(params []*models.Param) {
	c := &o.config
	o.step++
	t := float64(o.step)
	debias1 := 1 - math.Pow(c.beta1, t)
	debias2 := 1 - math.Pow(c.beta2, t)
	for _, p := range params {
		value := p.Value.RawMatrix().Data
		if c.decoupled && c.weightDecay != 0 {
			for ii := range value {
				value[ii] -= o.learningRate * c.weightDecay * value[ii]
			}
		}
		grad := p.Grad.RawMatrix().Data
		if !c.decoupled {
			if len(o.buf) < len(value) {
				o.buf = make([]float64, len(value))
			}
			grad = addWeightDecay(grad, value, c.weightDecay, o.buf[:len(value)])
		}
		m, found := o.moments[p]
		if !found {
			m = &adamMoments{first: make([]float64, len(value)), second: make([]float64, len(value))}
			o.moments[p] = m
		}
		for ii, g := range grad {
			m.first[ii] = c.beta1*m.first[ii] + (1-c.beta1)*g
			if c.adamax {
				m.second[ii] = max(c.beta2*m.second[ii], math.Abs(g))
			} else {
				m.second[ii] = c.beta2*m.second[ii] + (1-c.beta2)*g*g
			}

			var numerator, denominator float64
			switch {
			case c.rmsProp:
				numerator = g
				denominator = math.Sqrt(m.second[ii]/debias2) + c.epsilon
			case c.adamax:
				numerator = m.first[ii] / debias1
				denominator = m.second[ii] + c.epsilon
			default:
				numerator = m.first[ii] / debias1
				denominator = math.Sqrt(m.second[ii]/debias2) + c.epsilon
			}
			value[ii] -= o.learningRate * numerator / denominator
		}
	}
}
