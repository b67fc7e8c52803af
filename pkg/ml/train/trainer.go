// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds the training step, the epoch loop and the training state of the classifiers.
//
// A Trainer executes one optimization step per batch: augmentation, forward, per-head losses,
// routing of the gradients (see OutputMode), backward, gradient clipping and the optimizer update.
// A Loop runs the epochs: train, validation, learning rate adjustment and logging.
package train

import (
	"math"
	"time"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/losses"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/train/metrics"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// DefaultClipNorm is the maximum global L2 norm of the gradients, larger gradients are scaled down.
const DefaultClipNorm = 5.0

// StepResult holds the metrics of one train or eval step.
type StepResult struct {
	// Loss is the monitored loss (see OutputMode), HeadLosses the loss of each head.
	Loss       float64
	HeadLosses []float64

	// Accuracies is the fraction of correct predictions of each head, under the batch Mix.
	Accuracies []float64

	// BatchSize is the weight of this step in the epoch means.
	BatchSize int

	// GradNorm is the norm of the gradients before clipping. Only set by TrainStep.
	GradNorm float64
}

// Trainer executes train and eval steps of a model.
type Trainer struct {
	model      models.Model
	optimizer  optimizers.Interface
	strategy   augment.Strategy
	mode       OutputMode
	router     *router
	clipNorm   float64
	numClasses int
}

// NewTrainer creates a trainer of model, updated by optimizer. Training batches are augmented by
// strategy (nil for no augmentation), and mode selects the heads trained.
func NewTrainer(model models.Model, optimizer optimizers.Interface, strategy augment.Strategy, mode OutputMode) (*Trainer, error) {
	if strategy == nil {
		strategy = augment.None{}
	}
	r, err := newRouter(mode, model.NumHeads())
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q", model.Name())
	}
	return &Trainer{
		model:      model,
		optimizer:  optimizer,
		strategy:   strategy,
		mode:       mode,
		router:     r,
		clipNorm:   DefaultClipNorm,
		numClasses: data.NumClasses,
	}, nil
}

// WithClipNorm sets the maximum global norm of the gradients. A value <= 0 disables clipping.
// It returns the Trainer itself, so calls can be chained.
func (t *Trainer) WithClipNorm(maxNorm float64) *Trainer {
	t.clipNorm = maxNorm
	return t
}

// Model returns the model being trained.
func (t *Trainer) Model() models.Model { return t.model }

// Optimizer returns the optimizer used.
func (t *Trainer) Optimizer() optimizers.Interface { return t.optimizer }

// Strategy returns the augmentation strategy of the training batches.
func (t *Trainer) Strategy() augment.Strategy { return t.strategy }

// Mode returns the output mode.
func (t *Trainer) Mode() OutputMode { return t.mode }

func (t *Trainer) forward(images *mat.Dense, training bool, numHeads int) ([]*mat.Dense, error) {
	logits, err := t.model.Forward(images, training)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q forward", t.model.Name())
	}
	if len(logits) != numHeads {
		return nil, errors.Errorf("model %q returned %d outputs, but batch has %d sets of labels",
			t.model.Name(), len(logits), numHeads)
	}
	return logits, nil
}

// TrainStep augments the batch, and executes one optimization step.
func (t *Trainer) TrainStep(batch *data.Batch) (*StepResult, error) {
	start := time.Now()
	mixed, mix := t.strategy.Augment(batch, t.numClasses)
	logits, err := t.forward(mixed.Images, true, batch.NumHeads())
	if err != nil {
		return nil, err
	}

	result := &StepResult{
		HeadLosses: make([]float64, len(logits)),
		Accuracies: make([]float64, len(logits)),
		BatchSize:  batch.Size(),
	}
	grads := make([]*mat.Dense, len(logits))
	for head := range logits {
		result.HeadLosses[head], grads[head] = losses.ForMix(mix, head, logits[head])
		result.Accuracies[head] = metrics.AccuracyWithMix(metrics.ArgMax(logits[head]), mix, head)
	}
	result.Loss = t.router.Loss(result.HeadLosses)
	if math.IsNaN(result.Loss) {
		return nil, errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(result.Loss, 0) {
		return nil, errors.Errorf("batch loss is infinity (%f), training interrupted", result.Loss)
	}

	models.ZeroGrads(t.model.Params())
	if err = t.model.Backward(t.router.Gradients(grads)); err != nil {
		return nil, errors.WithMessagef(err, "model %q backward", t.model.Name())
	}
	params := t.router.Params(t.model.Params())
	result.GradNorm = optimizers.ClipByGlobalNorm(params, t.clipNorm)
	t.optimizer.Step(params)
	if klog.V(2).Enabled() {
		klog.Infof("train step: batch=%d loss=%.4f grad_norm=%.3f took=%s",
			result.BatchSize, result.Loss, result.GradNorm, time.Since(start))
	}
	return result, nil
}

// EvalStep computes the losses and accuracies of the model on the batch, without augmentation
// and without changing the model.
func (t *Trainer) EvalStep(batch *data.Batch) (*StepResult, error) {
	logits, err := t.forward(batch.Images, false, batch.NumHeads())
	if err != nil {
		return nil, err
	}
	result := &StepResult{
		HeadLosses: make([]float64, len(logits)),
		Accuracies: make([]float64, len(logits)),
		BatchSize:  batch.Size(),
	}
	for head := range logits {
		result.HeadLosses[head], _ = losses.SparseCategoricalCrossEntropyLogits(logits[head], batch.Labels[head])
		result.Accuracies[head] = metrics.Accuracy(metrics.ArgMax(logits[head]), batch.Labels[head])
	}
	result.Loss = t.router.Loss(result.HeadLosses)
	return result, nil
}
