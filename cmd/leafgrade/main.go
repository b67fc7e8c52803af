// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// leafgrade trains and evaluates coffee leaf disease and severity classifiers.
//
// Training (the default mode) writes the model weights under <output_dir>/net_weights, the record of the
// run under <output_dir>/log and, with plots=true, the training curves. Testing (mode=test) loads those
// weights, appends the scores to <output_dir>/results/<task>/<name>.csv and saves the confusion matrices.
//
// All configuration is given with -set, e.g.:
//
//	leafgrade -set="task=entire_leaf;optimizer=adam;data_augmentation=bc+;balanced_dataset=true"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"path/filepath"

	"github.com/janpfeifer/must"
	"github.com/leafgrade/leafgrade/pkg/config"
	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"github.com/leafgrade/leafgrade/pkg/ml/checkpoints"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/evaluate"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/recorder"
	"github.com/leafgrade/leafgrade/pkg/ml/sampler"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
	"github.com/leafgrade/leafgrade/pkg/ml/train/optimizers"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/leafgrade/leafgrade/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProgressBar = flag.Bool("progress", true, "Display a progress bar while training. If false, only the summary of each epoch is printed.")
	flagVerbosity   = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	cfg := config.Default()
	settings := commandline.CreateSettingsFlag(cfg, "")
	klog.InitFlags(nil)
	flag.Parse()

	paramsSet := must.M1(commandline.ParseSettings(cfg, *settings))
	cfg.OutputDir = must.M1(fsutil.ReplaceTildeInDir(cfg.OutputDir))
	cfg.CSVFile = must.M1(fsutil.ReplaceTildeInDir(cfg.CSVFile))
	cfg.ImagesDir = must.M1(fsutil.ReplaceTildeInDir(cfg.ImagesDir))
	must.M(cfg.Validate())
	if *flagVerbosity >= 1 && len(paramsSet) > 0 {
		fmt.Printf("Settings:\n%s\n", commandline.SprintModifiedSettings(cfg, paramsSet))
	}

	switch cfg.Mode {
	case config.ModeTrain:
		must.M(trainModel(cfg))
	case config.ModeTest:
		must.M(testModel(cfg))
	}
}

// newRng returns a random number generator derived from the configured seed. Each stream uses
// its own generator, so changing one concern doesn't reshuffle the others.
func newRng(cfg *config.Config, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(cfg.Seed, stream))
}

// Random streams.
const (
	streamTransform uint64 = iota + 1
	streamOrder
	streamAugment
)

// createDataset returns the given split of the dataset of the task.
func createDataset(cfg *config.Config, split data.Split, transform *data.Transform) (data.Dataset, error) {
	switch cfg.TaskValue() {
	case data.TaskEntireLeaf:
		return data.CoffeeLeaves(cfg.CSVFile, cfg.ImagesDir, split, cfg.Fold, transform)
	case data.TaskLesionSpot:
		return data.ImageFolder(filepath.Join(cfg.ImagesDir, split.String()), transform)
	}
	return nil, errors.Errorf("no dataset for task %s", cfg.Task)
}

func trainModel(cfg *config.Config) error {
	task := cfg.TaskValue()
	trainDS, err := createDataset(cfg, data.SplitTrain, data.TrainTransform(cfg.ImageSize, newRng(cfg, streamTransform)))
	if err != nil {
		return err
	}
	valDS, err := createDataset(cfg, data.SplitValidation, data.EvalTransform(cfg.ImageSize))
	if err != nil {
		return err
	}
	klog.Infof("%s: %d training and %d validation examples", task, trainDS.Len(), valDS.Len())

	trainLoader := data.NewLoader(trainDS, cfg.BatchSize)
	if cfg.BalancedDataset {
		weights, err := sampler.ForTask(task, trainDS.Labels(), cfg.BalanceFactor)
		if err != nil {
			return err
		}
		trainLoader.WithSampler(sampler.NewWeighted(weights, newRng(cfg, streamOrder)))
	} else {
		trainLoader.Shuffle(newRng(cfg, streamOrder))
	}
	valLoader := data.NewLoader(valDS, cfg.BatchSize)

	model, err := models.New(cfg.ModelSpec())
	if err != nil {
		return err
	}
	fmt.Printf("Model %q: %s parameters\n", model.Name(), models.ParamsCountString(model))
	opt, err := optimizers.ByName(cfg.Optimizer, cfg.WeightDecay)
	if err != nil {
		return err
	}
	strategy, err := augment.FromName(cfg.DataAugmentation, cfg.MixupAlpha, newRng(cfg, streamAugment))
	if err != nil {
		return err
	}
	trainer, err := train.NewTrainer(model, opt, strategy, cfg.OutputMode())
	if err != nil {
		return err
	}
	trainer.WithClipNorm(cfg.ClipNorm)

	// The recorder writes the weights, the record and the curves.
	paths := cfg.Paths()
	recorderPaths := recorder.Paths{Log: paths.Log, Checkpoint: paths.Checkpoint}
	if cfg.Plots {
		recorderPaths.Curves = paths.Curves
	}
	record := recorder.NewRecord(task, cfg.Model)
	record.Pretrained = cfg.Pretrained
	record.BatchSize = cfg.BatchSize
	record.Optimizer = cfg.Optimizer
	record.WeightDecay = cfg.WeightDecay
	record.Augmentation = cfg.DataAugmentation
	record.Balanced = cfg.BalancedDataset
	record.OutputMode = cfg.OutputMode()
	record.Epochs = cfg.Epochs
	rec := recorder.New(recorderPaths, record, model).WithWarmUpEpochs(cfg.WarmUpEpochs)

	loop := train.NewLoop(trainer, rec).WithSchedule(cfg.Schedule(opt))
	if *flagProgressBar {
		commandline.AttachProgressBar(loop)
	} else {
		commandline.AttachEpochSummary(loop)
	}
	state, err := loop.RunEpochs(trainLoader, valLoader, cfg.Epochs)
	if err != nil {
		return err
	}

	curves := rec.Record().Curves()
	if *flagVerbosity >= 2 {
		fmt.Println(curves.String())
	}
	if state.HasBest() {
		fmt.Printf("Best validation loss %.4f at epoch %d, weights saved to %s\n",
			state.BestLoss, state.BestEpoch+1, paths.Checkpoint)
	} else {
		fmt.Printf("No weights saved: validation loss never improved after %d warm-up epochs\n", cfg.WarmUpEpochs)
	}
	fmt.Printf("Median train step duration: %s\n", commandline.FormatDuration(loop.MedianTrainStepDuration()))
	return nil
}

func testModel(cfg *config.Config) error {
	paths := cfg.Paths()
	if found, err := checkpoints.Exists(paths.Checkpoint); err != nil {
		return err
	} else if !found {
		return errors.Errorf("no trained weights in %s, train the model first with mode=train", paths.Checkpoint)
	}
	testDS, err := createDataset(cfg, data.SplitTest, data.EvalTransform(cfg.ImageSize))
	if err != nil {
		return err
	}
	model, err := models.New(cfg.ModelSpec())
	if err != nil {
		return err
	}
	count, err := evaluate.ParamsCount(paths.Checkpoint, model)
	if err != nil {
		return err
	}
	fmt.Printf("Model %q loaded from %s: %d parameters\n", model.Name(), paths.Checkpoint, count)

	report, err := evaluate.Run(model, data.NewLoader(testDS, cfg.BatchSize))
	if err != nil {
		return err
	}
	commandline.ReportEval(report)
	if err := evaluate.AppendResults(paths.Results, report); err != nil {
		return err
	}
	images, err := evaluate.RenderConfusionMatrices(paths.ResultsDir, cfg.Name(), report, cfg.TaskValue())
	if err != nil {
		return err
	}
	for _, image := range images {
		klog.V(1).Infof("confusion matrix saved to %s", image)
	}
	return nil
}
