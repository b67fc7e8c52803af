// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"io"
	"iter"
	"sort"
	"time"

	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/train/metrics"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, trainLoader *data.Loader) error

// OnStepFn is the type of OnStep hooks.
type OnStepFn func(loop *Loop, result *StepResult) error

// OnEpochFn is the type of OnEpoch hooks.
type OnEpochFn func(loop *Loop, result *EpochResult) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, state State) error

// Loop runs the training epochs, each going through the phases
// TRAIN (one Trainer.TrainStep per batch), VALIDATE (Trainer.EvalStep over the validation split),
// ADJUST_LR (following the Schedule) and LOG (the EpochLogger, if any).
//
// By itself it doesn't do much, but one can attach functionality to it, like
// progress bars, plotting tools, early-stopping strategies, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Trainer associated with this loop.
	Trainer *Trainer

	// Schedule of the learning rate. Defaults to optimizers.DefaultSchedule.
	Schedule optimizers.Schedule

	// Logger records each epoch. It can be nil.
	Logger EpochLogger

	// LoopStep counts the train steps executed.
	LoopStep int

	// Epoch is set when running Loop.RunEpochs() to the current running epoch, starting from 0,
	// and NumEpochs to the number of epochs requested.
	Epoch, NumEpochs int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// trainStepDurations keeps a sample of the train step durations, in seconds.
	trainStepDurations *metrics.StreamingMedianMetric

	headNames []string

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop for trainer. logger can be nil.
func NewLoop(trainer *Trainer, logger EpochLogger) *Loop {
	return &Loop{
		Trainer:            trainer,
		Schedule:           optimizers.DefaultSchedule(trainer.Optimizer()),
		Logger:             logger,
		SharedData:         make(map[string]any),
		trainStepDurations: metrics.NewMedianMetric("train_step_duration", "step", "duration", nil),
		headNames:          HeadNames(trainer.Model().NumHeads()),
		onStart:            newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:             newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch:            newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:              newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// HeadNames returns the short names of the heads of a model with numHeads heads, used to name metrics.
func HeadNames(numHeads int) []string {
	switch numHeads {
	case data.TaskEntireLeaf.NumHeads():
		return data.TaskEntireLeaf.HeadNames()
	case data.TaskLesionSpot.NumHeads():
		return data.TaskLesionSpot.HeadNames()
	}
	names := make([]string, numHeads)
	for ii := range names {
		names[ii] = fmt.Sprintf("head%d", ii)
	}
	return names
}

// HeadNames returns the short names of the heads of the model trained.
func (loop *Loop) HeadNames() []string { return loop.headNames }

// WithSchedule sets the learning rate schedule. It returns the Loop itself, so calls can be chained.
func (loop *Loop) WithSchedule(schedule optimizers.Schedule) *Loop {
	loop.Schedule = schedule
	return loop
}

// start of loop: it calls the appropriate hooks.
func (loop *Loop) start(trainLoader *data.Loader) error {
	for hook := range loop.onStart.All() {
		err := hook.fn(loop, trainLoader)
		if err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// step executes one train step and calls the OnStep hooks.
func (loop *Loop) step(batch *data.Batch) (*StepResult, error) {
	startTime := time.Now()
	result, err := loop.Trainer.TrainStep(batch)
	loop.trainStepDurations.Update(time.Since(startTime).Seconds())
	if err != nil {
		return nil, err
	}

	// Call "OnStep" hooks.
	for hook := range loop.onStep.All() {
		err := hook.fn(loop, result)
		if err != nil {
			return nil, errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", hook.name)
		}
	}
	return result, nil
}

// end of loop: it calls the appropriate hooks.
func (loop *Loop) end(state State) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, state); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// RunEpochs trains for the given number of epochs, validating after each one, and returns the final state.
//
// The learning rate of the optimizer is first set to the initial value of the Schedule.
func (loop *Loop) RunEpochs(trainLoader, valLoader *data.Loader, epochs int) (State, error) {
	loop.NumEpochs = epochs
	loop.trainStepDurations.Reset()
	optimizer := loop.Trainer.Optimizer()
	optimizer.SetLearningRate(loop.Schedule.LearningRate(-1, epochs))
	state := NewState(optimizer.LearningRate())
	if valLoader.Dataset().Len() == 0 {
		return state, errors.Errorf("validation dataset %q is empty, it is required to select the best epoch",
			valLoader.Dataset().Name())
	}

	if err := loop.start(trainLoader); err != nil {
		return state, err
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		state.Epoch = loop.Epoch
		var (
			result *EpochResult
			err    error
		)
		state, result, err = loop.RunEpoch(state, trainLoader, valLoader)
		if err != nil {
			return state, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d)", loop.Epoch, epochs)
		}
		for hook := range loop.onEpoch.All() {
			if err = hook.fn(loop, result); err != nil {
				return state, errors.WithMessagef(err, "OnEpoch(hook %q)", hook.name)
			}
		}
	}
	if err := loop.end(state); err != nil {
		return state, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return state, nil
}

// RunEpoch runs the epoch state.Epoch: TRAIN, VALIDATE, ADJUST_LR and LOG. It returns the updated state.
func (loop *Loop) RunEpoch(state State, trainLoader, valLoader *data.Loader) (State, *EpochResult, error) {
	startTime := time.Now()
	optimizer := loop.Trainer.Optimizer()
	result := &EpochResult{Epoch: state.Epoch, NumEpochs: loop.NumEpochs, LearningRate: optimizer.LearningRate()}

	// TRAIN
	train, err := loop.trainEpoch(trainLoader)
	if err != nil {
		return state, nil, err
	}
	result.Train = train

	// VALIDATE
	result.Val, err = loop.Evaluate(valLoader)
	if err != nil {
		return state, nil, errors.WithMessage(err, "validation")
	}

	// ADJUST_LR
	result.NextLearningRate = loop.Schedule.LearningRate(state.Epoch, loop.NumEpochs)
	optimizer.SetLearningRate(result.NextLearningRate)
	state.LearningRate = result.NextLearningRate
	result.Duration = time.Since(startTime)
	klog.V(1).Infof("epoch %d/%d: train_loss=%.4f val_loss=%.4f lr=%g took %s",
		state.Epoch+1, loop.NumEpochs, result.Train.Loss, result.Val.Loss, result.LearningRate, result.Duration)

	// LOG
	state.Saved = false
	if loop.Logger != nil {
		state, err = loop.Logger.Log(state, result)
		if err != nil {
			return state, nil, errors.WithMessagef(err, "logging epoch %d", state.Epoch)
		}
	}
	return state, result, nil
}

func (loop *Loop) trainEpoch(trainLoader *data.Loader) (EpochMetrics, error) {
	if err := trainLoader.Reset(); err != nil {
		return EpochMetrics{}, err
	}
	accumulator := newEpochAccumulator("train", loop.headNames)
	numSteps := 0
	for {
		batch, err := trainLoader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return EpochMetrics{}, errors.WithMessagef(err, "failed reading from Dataset %q", trainLoader.Dataset().Name())
		}
		result, err := loop.step(batch)
		if err != nil {
			return EpochMetrics{}, errors.WithMessagef(err, "failed TrainStep(LoopStep=%d)", loop.LoopStep)
		}
		accumulator.Update(result)
		loop.LoopStep++
		numSteps++
	}
	if numSteps == 0 {
		return EpochMetrics{}, errors.Errorf("training dataset %q yielded no batches", trainLoader.Dataset().Name())
	}
	return accumulator.Metrics(), nil
}

// Evaluate runs Trainer.EvalStep over all batches of loader and returns the per-example mean metrics.
func (loop *Loop) Evaluate(loader *data.Loader) (EpochMetrics, error) {
	if err := loader.Reset(); err != nil {
		return EpochMetrics{}, err
	}
	accumulator := newEpochAccumulator("val", loop.headNames)
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return EpochMetrics{}, errors.WithMessagef(err, "failed reading from Dataset %q", loader.Dataset().Name())
		}
		result, err := loop.Trainer.EvalStep(batch)
		if err != nil {
			return EpochMetrics{}, err
		}
		accumulator.Update(result)
	}
	if accumulator.loss.Weight() == 0 {
		klog.Warningf("evaluation dataset %q is empty", loader.Dataset().Name())
	}
	return accumulator.Metrics(), nil
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if loop.trainStepDurations.NumSamples() == 0 {
		// Return something different from 0 to avoid division by 0.
		return time.Millisecond
	}
	return time.Duration(loop.trainStepDurations.Value() * float64(time.Second))
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{
		name: name,
		fn:   fn,
	})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function `fn` is called after each `Trainer.TrainStep`.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{
		name: name,
		fn:   fn,
	})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called at the end of each
// epoch, after the LOG phase.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{
		name: name,
		fn:   fn,
	})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last epoch.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{
		name: name,
		fn:   fn,
	})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
