// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluate runs a trained model over a test split and reports the classification metrics
// of each head: accuracy, macro precision, recall and F1, and the confusion matrix.
package evaluate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/leafgrade/leafgrade/pkg/ml/checkpoints"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
	"github.com/leafgrade/leafgrade/pkg/ml/train/metrics"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/leafgrade/leafgrade/ui/plots"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// ResultsColumns are the columns of the results CSV, in order.
var ResultsColumns = []string{"acc", "prec", "rec", "fs"}

// HeadReport holds the predictions and metrics of one head.
type HeadReport struct {
	// Name of the head, "dis", "sev", or "" for single head models.
	Name string

	YTrue, YPred []int

	Scores    metrics.Scores
	Confusion *mat.Dense
}

// Report of the evaluation of a model.
type Report struct {
	Dataset     string
	NumExamples int
	Heads       []*HeadReport
}

// Run evaluates model (in inference mode) over all batches of loader.
func Run(model models.Model, loader *data.Loader) (*Report, error) {
	if err := loader.Reset(); err != nil {
		return nil, err
	}
	ds := loader.Dataset()
	report := &Report{Dataset: ds.Name()}
	for _, name := range train.HeadNames(model.NumHeads()) {
		report.Heads = append(report.Heads, &HeadReport{Name: name})
	}
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed reading from Dataset %q", ds.Name())
		}
		if batch.NumHeads() != model.NumHeads() {
			return nil, errors.Errorf("dataset %q has %d sets of labels, model %q has %d heads",
				ds.Name(), batch.NumHeads(), model.Name(), model.NumHeads())
		}
		logits, err := model.Forward(batch.Images, false)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q forward", model.Name())
		}
		for head, headReport := range report.Heads {
			headReport.YTrue = append(headReport.YTrue, batch.Labels[head]...)
			headReport.YPred = append(headReport.YPred, metrics.ArgMax(logits[head])...)
		}
		report.NumExamples += batch.Size()
	}
	if report.NumExamples == 0 {
		return nil, errors.Errorf("evaluation dataset %q is empty", ds.Name())
	}
	for _, headReport := range report.Heads {
		headReport.Scores = metrics.MacroScores(headReport.YTrue, headReport.YPred)
		headReport.Confusion = metrics.ConfusionMatrix(headReport.YTrue, headReport.YPred, data.NumClasses)
	}
	return report, nil
}

// ResultsFrame returns the scores of each head as percentages formatted with 2 decimal places, one
// row per head, with the ResultsColumns.
func (r *Report) ResultsFrame() dataframe.DataFrame {
	columns := make([][]string, len(ResultsColumns))
	for _, head := range r.Heads {
		s := head.Scores
		for ii, value := range []float64{s.Accuracy, s.Precision, s.Recall, s.F1} {
			columns[ii] = append(columns[ii], fmt.Sprintf("%.2f", 100*value))
		}
	}
	allSeries := make([]series.Series, len(ResultsColumns))
	for ii, name := range ResultsColumns {
		allSeries[ii] = series.New(columns[ii], series.String, name)
	}
	return dataframe.New(allSeries...)
}

// AppendResults appends the results of the report to the CSV file at filePath: a header line and one
// line per head. The file is created if it doesn't exist.
func AppendResults(filePath string, report *Report) error {
	if err := fsutil.EnsureDirFor(filePath); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open results file %q for append", filePath)
	}
	df := report.ResultsFrame()
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write results to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close results file %q", filePath)
	}
	klog.Infof("results of %d examples appended to %s", report.NumExamples, filePath)
	return nil
}

// ConfusionMatrixPath returns the path of the confusion matrix image of head, under dir.
// Single head models have no suffix.
func ConfusionMatrixPath(dir, baseName string, head *HeadReport) string {
	name := baseName
	if head.Name != "" {
		name += "_" + head.Name
	}
	return filepath.Join(dir, name+".png")
}

// RenderConfusionMatrices saves one confusion matrix PNG per head into dir, with the class names of task,
// and returns the paths written.
func RenderConfusionMatrices(dir, baseName string, report *Report, task data.Task) ([]string, error) {
	if len(report.Heads) != task.NumHeads() {
		return nil, errors.Errorf("report has %d heads, task %s has %d", len(report.Heads), task, task.NumHeads())
	}
	var paths []string
	for head, headReport := range report.Heads {
		filePath := ConfusionMatrixPath(dir, baseName, headReport)
		if err := plots.SaveConfusionMatrixPNG(filePath, headReport.Confusion, task.ClassNames(head), " "); err != nil {
			return paths, errors.WithMessagef(err, "confusion matrix of head %d", head)
		}
		paths = append(paths, filePath)
	}
	return paths, nil
}

// ParamsCount loads the checkpoint at basePath into model and returns its number of parameters.
func ParamsCount(basePath string, model models.Model) (int, error) {
	if _, err := checkpoints.Load(basePath, model); err != nil {
		return 0, err
	}
	count := models.ParamsCount(model)
	klog.V(1).Infof("model %q from %s has %s parameters", model.Name(), basePath, humanize.Comma(int64(count)))
	return count, nil
}
