// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package recorder persists the history of a training run and the best model found.
//
// A Recorder implements train.EpochLogger: after every epoch it appends the metrics to the run's
// Record, saves a checkpoint if the validation loss improved (after the warm-up epochs), and
// rewrites the record file.
package recorder

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/leafgrade/leafgrade/pkg/ml/checkpoints"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/leafgrade/leafgrade/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultWarmUpEpochs is the number of initial epochs during which no checkpoint is saved.
const DefaultWarmUpEpochs = 5

// Names of the series of a Record, besides the accuracies.
const (
	SeriesTrainLoss    = "train_loss"
	SeriesValLoss      = "val_loss"
	SeriesLearningRate = "lr"
)

// Record is the persisted history of a training run.
type Record struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`

	// Configuration of the run.
	Task         data.Task        `json:"task"`
	Model        string           `json:"model"`
	Pretrained   bool             `json:"pretrained"`
	BatchSize    int              `json:"batch_size"`
	Optimizer    string           `json:"optimizer"`
	WeightDecay  float64          `json:"weight_decay"`
	Augmentation string           `json:"data_augmentation"`
	Balanced     bool             `json:"balanced_dataset"`
	OutputMode   train.OutputMode `json:"output_std"`
	Epochs       int              `json:"epochs"`

	// Series holds one value per finished epoch: SeriesTrainLoss, SeriesValLoss, SeriesLearningRate (the rate
	// used during the epoch) and the accuracies returned by AccuracySeriesNames.
	Series map[string][]float64 `json:"series"`

	// BestEpoch is -1 while no checkpoint was saved, and BestLoss is nil.
	BestEpoch int      `json:"best_epoch"`
	BestLoss  *float64 `json:"best_loss,omitempty"`
}

// NewRecord creates an empty record for a new run of model on task.
func NewRecord(task data.Task, model string) *Record {
	return &Record{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		Task:      task,
		Model:     model,
		Series:    make(map[string][]float64),
		BestEpoch: -1,
	}
}

// AccuracySeriesNames returns the names of the train and validation accuracy series for each head:
// "train_dis_acc", "val_dis_acc", ... for named heads, "train_acc", "val_acc" for a single unnamed head.
func AccuracySeriesNames(headNames []string) (trainNames, valNames []string) {
	for _, head := range headNames {
		suffix := "_acc"
		if head != "" {
			suffix = "_" + head + suffix
		}
		trainNames = append(trainNames, "train"+suffix)
		valNames = append(valNames, "val"+suffix)
	}
	return
}

// NumEpochs returns the number of epochs recorded.
func (r *Record) NumEpochs() int {
	return len(r.Series[SeriesValLoss])
}

// Append adds the metrics of one epoch.
func (r *Record) Append(result *train.EpochResult, headNames []string) {
	if r.Series == nil {
		r.Series = make(map[string][]float64)
	}
	r.Series[SeriesTrainLoss] = append(r.Series[SeriesTrainLoss], result.Train.Loss)
	r.Series[SeriesValLoss] = append(r.Series[SeriesValLoss], result.Val.Loss)
	r.Series[SeriesLearningRate] = append(r.Series[SeriesLearningRate], result.LearningRate)
	trainNames, valNames := AccuracySeriesNames(headNames)
	for head := range headNames {
		if head < len(result.Train.Accuracy) {
			r.Series[trainNames[head]] = append(r.Series[trainNames[head]], result.Train.Accuracy[head])
		}
		if head < len(result.Val.Accuracy) {
			r.Series[valNames[head]] = append(r.Series[valNames[head]], result.Val.Accuracy[head])
		}
	}
}

// Curves returns the series of the record as plot curves, grouped by metric type.
func (r *Record) Curves() plots.Curves {
	var curves plots.Curves
	for name, series := range r.Series {
		switch name {
		case SeriesLearningRate:
			curves.Add(name, "lr", plots.TypeLearningRate, series)
		case SeriesTrainLoss, SeriesValLoss:
			curves.Add(name, name, plots.TypeLoss, series)
		default:
			curves.Add(name, name, plots.TypeAccuracy, series)
		}
	}
	return curves
}

// Save writes the record as indented JSON to filePath, atomically.
func (r *Record) Save(filePath string) error {
	return fsutil.WriteFileAtomic(filePath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	})
}

// LoadRecord reads a record saved by Record.Save.
func LoadRecord(filePath string) (*Record, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open training record %q", filePath)
	}
	defer func() { _ = f.Close() }()
	r := &Record{}
	if err = json.NewDecoder(f).Decode(r); err != nil {
		return nil, errors.Wrapf(err, "failed to decode training record %q", filePath)
	}
	return r, nil
}

// Paths where a Recorder writes.
type Paths struct {
	// Log is the file of the Record, rewritten every epoch.
	Log string

	// Checkpoint is the base path of the best model checkpoint, see package checkpoints.
	Checkpoint string

	// Curves is the base path of the training curves SVG files. Leave it empty to disable the plots.
	Curves string
}

// Recorder implements train.EpochLogger, and is the only writer of the training artifacts.
type Recorder struct {
	paths        Paths
	record       *Record
	model        models.Model
	headNames    []string
	warmUpEpochs int
}

var _ train.EpochLogger = (*Recorder)(nil)

// New creates a Recorder of the training of model into record.
func New(paths Paths, record *Record, model models.Model) *Recorder {
	return &Recorder{
		paths:        paths,
		record:       record,
		model:        model,
		headNames:    train.HeadNames(model.NumHeads()),
		warmUpEpochs: DefaultWarmUpEpochs,
	}
}

// WithWarmUpEpochs sets the number of initial epochs during which no checkpoint is saved.
// It returns the Recorder itself, so calls can be chained.
func (r *Recorder) WithWarmUpEpochs(n int) *Recorder {
	r.warmUpEpochs = n
	return r
}

// Record returns the record being written.
func (r *Recorder) Record() *Record { return r.record }

// Paths returns where the recorder writes.
func (r *Recorder) Paths() Paths { return r.paths }

// Log implements train.EpochLogger. It records the epoch, saves a checkpoint if the validation loss
// is the best so far and the warm-up epochs are over, and rewrites the record file.
func (r *Recorder) Log(state train.State, result *train.EpochResult) (train.State, error) {
	r.record.Append(result, r.headNames)

	if result.Val.Loss < state.BestLoss && state.Epoch >= r.warmUpEpochs {
		if err := checkpoints.Save(r.paths.Checkpoint, r.model); err != nil {
			return state, errors.WithMessagef(err, "epoch %d", state.Epoch)
		}
		state.BestLoss = result.Val.Loss
		state.BestEpoch = state.Epoch
		state.Saved = true
		bestLoss := state.BestLoss
		r.record.BestLoss = &bestLoss
		r.record.BestEpoch = state.BestEpoch
		klog.Infof("epoch %d: validation loss improved to %.4f, checkpoint saved to %s",
			state.Epoch+1, state.BestLoss, r.paths.Checkpoint)
	}

	if err := r.record.Save(r.paths.Log); err != nil {
		return state, errors.WithMessagef(err, "saving training record of epoch %d", state.Epoch)
	}
	if r.paths.Curves != "" {
		if _, err := plots.SaveCurvesSVG(r.paths.Curves, r.record.Curves()); err != nil {
			return state, errors.WithMessagef(err, "saving training curves of epoch %d", state.Epoch)
		}
	}
	return state, nil
}
