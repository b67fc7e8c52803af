// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package cosineschedule implements a cosine annealing schedule for the learning rate, by epoch.
// See New for details and example of usage, and original paper description in [1]
//
// [1] https://paperswithcode.com/method/cosine-annealing.
package cosineschedule

import (
	"math"

	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
)

// Config of the cosine annealing schedule strategy.
// New creates it and once configured, call Config.Done to create the optimizers.Schedule.
type Config struct {
	learningRate, minLearningRate float64
	periodEpochs                  int
	warmUpEpochs                  int
}

// New creates a configuration to apply a cosine annealing schedule for the learning rate, starting
// from learningRate.
//
// Example with one cycle over the whole training, and a warmup of 2 epochs:
//
//	schedule := cosineschedule.New(0.01).
//		MinLearningRate(0.0001).
//		WarmUpEpochs(2).
//		PeriodInEpochs(-1).Done()
func New(learningRate float64) *Config {
	return &Config{learningRate: learningRate, periodEpochs: -1}
}

// PeriodInEpochs sets the number of epochs for one period of the cosine schedule. The effective
// learning rate decreases over the given period and then is restarted at each new period.
//
// A negative value sets the period to a fraction of the number of training epochs: -1 is the
// whole training (the default), -2 half of it, and so on.
func (opt *Config) PeriodInEpochs(periodEpochs int) *Config {
	opt.periodEpochs = periodEpochs
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 0.0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpEpochs sets the number of epochs to linearly increase the learning rate from 0 to the
// base learning rate. The default is 0, which means no warmup.
func (opt *Config) WarmUpEpochs(warmUpEpochs int) *Config {
	opt.warmUpEpochs = warmUpEpochs
	return opt
}

// Done returns the configured schedule.
func (opt *Config) Done() optimizers.Schedule {
	return schedule(*opt)
}

type schedule Config

// LearningRate implements optimizers.Schedule.
func (s schedule) LearningRate(epoch, numEpochs int) float64 {
	next := epoch + 1 // The returned rate is used from the next epoch on.
	if next < s.warmUpEpochs {
		return s.learningRate * float64(next+1) / float64(s.warmUpEpochs+1)
	}
	next -= s.warmUpEpochs
	period := float64(s.periodEpochs)
	if s.periodEpochs < 0 {
		period = float64(max(numEpochs-s.warmUpEpochs, 1)) / float64(-s.periodEpochs)
	}
	if period <= 0 {
		return s.learningRate
	}
	// A cycle represents the fraction of a half-circle (180 degrees, or pi radians).
	cycle := float64(next) / period
	cycle -= math.Floor(cycle)
	lr := (math.Cos(cycle*math.Pi) + 1) / 2 // from 0.0 to 1.0
	return lr*(s.learningRate-s.minLearningRate) + s.minLearningRate
}
