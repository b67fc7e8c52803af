// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"hash/crc32"
	"os"
	"path"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NumFolds is the number of folds the entire leaf dataset is split into.
const NumFolds = 5

// Split selects which part of a folded dataset to use.
type Split int

const (
	SplitTrain Split = iota
	SplitValidation
	SplitTest
)

var splitNames = []string{"train", "val", "test"}

// String implements fmt.Stringer.
func (s Split) String() string {
	if s < 0 || int(s) >= len(splitNames) {
		return fmt.Sprintf("Split(%d)", int(s))
	}
	return splitNames[s]
}

// FoldOf returns the fold of the example with the given id: it is stable across runs and machines.
func FoldOf(id string) int {
	return int(crc32.ChecksumIEEE([]byte(id)) % NumFolds)
}

// InSplit returns whether an example in exampleFold belongs to split, when fold is the test fold.
// The validation fold is the one following the test fold, and the remaining ones are used for training.
func InSplit(exampleFold, fold int, split Split) bool {
	valFold := (fold + 1) % NumFolds
	switch split {
	case SplitTest:
		return exampleFold == fold
	case SplitValidation:
		return exampleFold == valFold
	default:
		return exampleFold != fold && exampleFold != valFold
	}
}

// CoffeeLeavesDataset is the entire leaf dataset: a CSV file with one row per leaf and its disease
// and severity labels, and one image per row in the images directory.
type CoffeeLeavesDataset struct {
	name      string
	imagesDir string
	transform *Transform
	ids       []string
	labels    [][]int
}

var _ Dataset = (*CoffeeLeavesDataset)(nil)

// CoffeeLeaves reads the labels from csvFile (columns "id", "disease" and "severity") and returns the
// examples of the given split. Images are read lazily from "<imagesDir>/<id>.jpg".
func CoffeeLeaves(csvFile, imagesDir string, split Split, fold int, transform *Transform) (*CoffeeLeavesDataset, error) {
	if fold < 0 || fold >= NumFolds {
		return nil, errors.Errorf("fold %d invalid, valid values are 0 to %d", fold, NumFolds-1)
	}
	f, err := os.Open(csvFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open dataset file %q", csvFile)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.WithTypes(map[string]series.Type{
		"id":       series.String,
		"disease":  series.Int,
		"severity": series.Int,
	}))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "failed to parse dataset file %q", csvFile)
	}
	ids := df.Col("id").Records()
	disease, err := df.Col("disease").Int()
	if err != nil {
		return nil, errors.Wrapf(err, "column \"disease\" of %q", csvFile)
	}
	severity, err := df.Col("severity").Int()
	if err != nil {
		return nil, errors.Wrapf(err, "column \"severity\" of %q", csvFile)
	}

	ds := &CoffeeLeavesDataset{
		name:      fmt.Sprintf("coffee-leaves[%s, fold=%d]", split, fold),
		imagesDir: imagesDir,
		transform: transform,
		labels:    make([][]int, 2),
	}
	for ii, id := range ids {
		if !InSplit(FoldOf(id), fold, split) {
			continue
		}
		for head, label := range []int{disease[ii], severity[ii]} {
			if label < 0 || label >= NumClasses {
				return nil, errors.Errorf("%q row %d (id=%q): invalid label %d for head %d", csvFile, ii, id, label, head)
			}
		}
		ds.ids = append(ds.ids, id)
		ds.labels[HeadDisease] = append(ds.labels[HeadDisease], disease[ii])
		ds.labels[HeadSeverity] = append(ds.labels[HeadSeverity], severity[ii])
	}
	if len(ds.ids) == 0 {
		klog.Warningf("%s: no examples selected out of %d rows in %q", ds.name, len(ids), csvFile)
	}
	return ds, nil
}

// Name implements Dataset.
func (ds *CoffeeLeavesDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *CoffeeLeavesDataset) Len() int { return len(ds.ids) }

// NumHeads implements Dataset.
func (ds *CoffeeLeavesDataset) NumHeads() int { return 2 }

// Labels implements Dataset.
func (ds *CoffeeLeavesDataset) Labels() [][]int { return ds.labels }

// ImagePath returns the path of the image of the example idx.
func (ds *CoffeeLeavesDataset) ImagePath(idx int) string {
	return path.Join(ds.imagesDir, ds.ids[idx]+".jpg")
}

// Example implements Dataset.
func (ds *CoffeeLeavesDataset) Example(idx int) (*Example, error) {
	if idx < 0 || idx >= len(ds.ids) {
		return nil, errors.Errorf("%s: example %d out of range [0, %d)", ds.name, idx, len(ds.ids))
	}
	image, err := ds.transform.LoadImage(ds.ImagePath(idx))
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: example %d", ds.name, idx)
	}
	return &Example{
		Image:  image,
		Labels: []int{ds.labels[HeadDisease][idx], ds.labels[HeadSeverity][idx]},
	}, nil
}
