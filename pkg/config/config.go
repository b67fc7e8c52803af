// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of a leafgrade run, its defaults and validation, and the
// paths of the artifacts it produces.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/sampler"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers/cosineschedule"
	"github.com/pkg/errors"
)

// Modes of a run.
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// Learning rate schedules.
const (
	ScheduleDefault  = "default"
	ScheduleStep     = "step"
	ScheduleConstant = "constant"
	ScheduleCosine   = "cosine"
)

// Config of a run. Each field can be set by name with Settings, see Config.Params.
type Config struct {
	Task       string
	Mode       string
	Model      string
	Pretrained bool

	BatchSize   int
	Optimizer   string
	WeightDecay float64
	Epochs      int
	LRSchedule  string
	ClipNorm    float64

	DataAugmentation string
	MixupAlpha       float64
	BalancedDataset  bool
	BalanceFactor    float64
	OutputStd        string

	OutputFilename string
	OutputDir      string
	Plots          bool
	WarmUpEpochs   int

	CSVFile   string
	ImagesDir string
	Fold      int
	ImageSize int
	Seed      uint64
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Task:             data.TaskEntireLeaf.String(),
		Mode:             ModeTrain,
		Model:            "shallow",
		BatchSize:        24,
		Optimizer:        "sgd",
		WeightDecay:      5e-4,
		Epochs:           80,
		LRSchedule:       ScheduleDefault,
		ClipNorm:         train.DefaultClipNorm,
		DataAugmentation: augment.TypeNone.String(),
		MixupAlpha:       augment.DefaultMixupAlpha,
		BalanceFactor:    sampler.DefaultBalanceFactor,
		OutputStd:        train.OutputMultitask.String(),
		OutputDir:        ".",
		WarmUpEpochs:     5,
		CSVFile:          "dataset/dataset.csv",
		ImagesDir:        "dataset/leaf",
		Fold:             1,
		ImageSize:        data.DefaultImageSize,
		Seed:             42,
	}
}

// Param is one setting of the configuration: its name and a pointer to the field of Config.
type Param struct {
	Name        string
	Value       any
	Description string
}

// Params returns the settings of c, in a fixed order. Value holds a pointer to the field,
// of type *string, *int, *uint64, *float64 or *bool.
func (c *Config) Params() []Param {
	return []Param{
		{"task", &c.Task, "task: entire_leaf or lesion_spot"},
		{"mode", &c.Mode, "train or test"},
		{"model", &c.Model, "model name"},
		{"pretrained", &c.Pretrained, "start from pretrained weights"},
		{"batch_size", &c.BatchSize, "examples per batch"},
		{"optimizer", &c.Optimizer, "optimizer name"},
		{"weight_decay", &c.WeightDecay, "L2 regularization"},
		{"epochs", &c.Epochs, "number of training epochs"},
		{"lr_schedule", &c.LRSchedule, "learning rate schedule: default, step, constant or cosine"},
		{"clip_norm", &c.ClipNorm, "maximum global norm of the gradients, 0 disables clipping"},
		{"data_augmentation", &c.DataAugmentation, "none, bc+ or mixup"},
		{"mixup_alpha", &c.MixupAlpha, "alpha of the Beta distribution of mixup"},
		{"balanced_dataset", &c.BalancedDataset, "sample the training examples by inverse class frequency"},
		{"balance_factor", &c.BalanceFactor, "smoothing of the joint disease/severity balancing"},
		{"output_std", &c.OutputStd, "heads trained: multitask, disease or severity"},
		{"output_filename", &c.OutputFilename, "base name of the artifacts, derived from the configuration if empty"},
		{"output_dir", &c.OutputDir, "root directory of the artifacts"},
		{"plots", &c.Plots, "save training curves"},
		{"warmup_epochs", &c.WarmUpEpochs, "epochs before the first checkpoint"},
		{"csv_file", &c.CSVFile, "labels of the entire leaf dataset"},
		{"images_dir", &c.ImagesDir, "images directory"},
		{"fold", &c.Fold, "fold used as test split, the next one is the validation split"},
		{"image_size", &c.ImageSize, "images are resized to image_size x image_size"},
		{"seed", &c.Seed, "random seed"},
	}
}

// Validate checks all values, returning an error describing the first invalid one.
func (c *Config) Validate() error {
	if _, err := data.TaskFromName(c.Task); err != nil {
		return err
	}
	if c.Mode != ModeTrain && c.Mode != ModeTest {
		return errors.Errorf("invalid mode %q, valid values are %q", c.Mode, []string{ModeTrain, ModeTest})
	}
	if c.Model == "" {
		return errors.New("model must be set")
	}
	if _, err := optimizers.ByName(c.Optimizer, c.WeightDecay); err != nil {
		return err
	}
	if _, err := augment.TypeFromName(c.DataAugmentation); err != nil {
		return err
	}
	if _, err := train.OutputModeFromName(c.OutputStd); err != nil {
		return err
	}
	switch c.LRSchedule {
	case ScheduleDefault, ScheduleStep, ScheduleConstant, ScheduleCosine:
	default:
		return errors.Errorf("invalid lr_schedule %q, valid values are %q", c.LRSchedule,
			[]string{ScheduleDefault, ScheduleStep, ScheduleConstant, ScheduleCosine})
	}
	for _, positive := range []struct {
		name  string
		value int
	}{{"batch_size", c.BatchSize}, {"epochs", c.Epochs}, {"image_size", c.ImageSize}} {
		if positive.value <= 0 {
			return errors.Errorf("%s must be positive, got %d", positive.name, positive.value)
		}
	}
	if c.WeightDecay < 0 || c.MixupAlpha < 0 || c.BalanceFactor < 0 || c.ClipNorm < 0 || c.WarmUpEpochs < 0 {
		return errors.New("weight_decay, mixup_alpha, balance_factor, clip_norm and warmup_epochs can't be negative")
	}
	if c.Fold < 0 || c.Fold >= data.NumFolds {
		return errors.Errorf("fold must be in [0, %d), got %d", data.NumFolds, c.Fold)
	}
	return nil
}

// TaskValue returns the parsed Task.
func (c *Config) TaskValue() data.Task {
	task, _ := data.TaskFromName(c.Task)
	return task
}

// OutputMode returns the parsed OutputStd.
func (c *Config) OutputMode() train.OutputMode {
	mode, _ := train.OutputModeFromName(c.OutputStd)
	return mode
}

// ModelSpec returns the specification of the model to build.
func (c *Config) ModelSpec() models.Spec {
	return models.Spec{
		Name:       c.Model,
		NumHeads:   c.TaskValue().NumHeads(),
		NumClasses: data.NumClasses,
		ImageSize:  c.ImageSize,
		Channels:   3,
		Pretrained: c.Pretrained,
		Seed:       c.Seed,
	}
}

// Schedule returns the learning rate schedule for the optimizer.
func (c *Config) Schedule(opt optimizers.Interface) optimizers.Schedule {
	switch c.LRSchedule {
	case ScheduleStep:
		return optimizers.DefaultStepTable
	case ScheduleConstant:
		return optimizers.Constant(opt.LearningRate())
	case ScheduleCosine:
		return cosineschedule.New(opt.LearningRate()).Done()
	}
	return optimizers.DefaultSchedule(opt)
}

// Name returns the base name of the artifacts: OutputFilename if set, otherwise a name derived
// from the model, optimizer, augmentation and balancing.
func (c *Config) Name() string {
	if c.OutputFilename != "" {
		return c.OutputFilename
	}
	parts := []string{c.Model, c.Optimizer, strings.ReplaceAll(c.DataAugmentation, "+", "plus")}
	if c.BalancedDataset {
		parts = append(parts, "balanced")
	}
	if c.TaskValue() == data.TaskEntireLeaf && c.OutputStd != train.OutputMultitask.String() {
		parts = append(parts, c.OutputStd)
	}
	return strings.Join(parts, "_")
}

// Paths of the artifacts of a run.
type Paths struct {
	Checkpoint, Log, Curves, Results, ResultsDir string
}

// Paths returns where the artifacts of the run are written: all under OutputDir, in a
// directory per kind of artifact and per task.
func (c *Config) Paths() Paths {
	name, task := c.Name(), c.Task
	resultsDir := filepath.Join(c.OutputDir, "results", task)
	return Paths{
		Checkpoint: filepath.Join(c.OutputDir, "net_weights", task, name),
		Log:        filepath.Join(c.OutputDir, "log", task, name+".json"),
		Curves:     filepath.Join(c.OutputDir, "log", task, name+"_curves"),
		Results:    filepath.Join(resultsDir, name+".csv"),
		ResultsDir: resultsDir,
	}
}

// String returns one "name=value" line per setting.
func (c *Config) String() string {
	var parts []string
	for _, p := range c.Params() {
		parts = append(parts, fmt.Sprintf("%s=%v", p.Name, derefValue(p.Value)))
	}
	return strings.Join(parts, "\n")
}

func derefValue(ptr any) any {
	switch v := ptr.(type) {
	case *string:
		return *v
	case *int:
		return *v
	case *uint64:
		return *v
	case *float64:
		return *v
	case *bool:
		return *v
	}
	return ptr
}
