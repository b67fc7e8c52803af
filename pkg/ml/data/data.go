// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package data defines the batches, datasets and loaders used to train and evaluate the
// coffee leaf classifiers.
//
// A Dataset yields individual examples (a normalized image row plus one label per task head),
// and a Loader groups them in batches, in sequential, shuffled or sampled order.
package data

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NumClasses is the number of classes of every task head: both diseases and severities have 5 classes.
const NumClasses = 5

// Head indices for the entire leaf task. The lesion spot task only has HeadDisease.
const (
	HeadDisease  = 0
	HeadSeverity = 1
)

var (
	// DiseaseNames are the human-readable names of the disease classes, indexed by label.
	DiseaseNames = []string{"Healthy", "Leaf miner", "Rust", "Phoma", "Cercospora"}

	// SeverityNames are the human-readable names of the severity classes, indexed by label.
	SeverityNames = []string{"Healthy", "Very low", "Low", "High", "Very high"}
)

// Task is one of the two classification task variants.
type Task int

const (
	// TaskEntireLeaf classifies whole leaves for disease and severity jointly (two heads).
	TaskEntireLeaf Task = iota

	// TaskLesionSpot classifies cropped lesion spots for disease only (one head).
	TaskLesionSpot
)

var taskNames = []string{"entire_leaf", "lesion_spot"}

// String implements fmt.Stringer. It is also the name of the artifacts sub-directory of the task.
func (t Task) String() string {
	if t < 0 || int(t) >= len(taskNames) {
		return fmt.Sprintf("Task(%d)", int(t))
	}
	return taskNames[t]
}

// TaskFromName parses the name of a task, see Task.String.
func TaskFromName(name string) (Task, error) {
	for ii, taskName := range taskNames {
		if strings.EqualFold(name, taskName) {
			return Task(ii), nil
		}
	}
	return 0, errors.Errorf("unknown task %q, valid values are %q", name, taskNames)
}

// MarshalText implements encoding.TextMarshaler.
func (t Task) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Task) UnmarshalText(text []byte) error {
	parsed, err := TaskFromName(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NumHeads returns the number of output heads of the models for the task.
func (t Task) NumHeads() int {
	if t == TaskEntireLeaf {
		return 2
	}
	return 1
}

// HeadNames returns the short names of the heads of the task, used in metric names.
func (t Task) HeadNames() []string {
	if t == TaskEntireLeaf {
		return []string{"dis", "sev"}
	}
	return []string{""}
}

// ClassNames returns the human-readable class names of the given head.
func (t Task) ClassNames(head int) []string {
	if t == TaskEntireLeaf && head == HeadSeverity {
		return SeverityNames
	}
	return DiseaseNames
}

// Example is one element of a Dataset.
type Example struct {
	// Image is the normalized image, flattened in height, width, channel order.
	Image []float64

	// Labels holds one class index per head.
	Labels []int
}

// Dataset is a finite, indexable source of examples.
type Dataset interface {
	// Name of the dataset, used for logging.
	Name() string

	// Len returns the number of examples.
	Len() int

	// NumHeads is the number of labels of each example.
	NumHeads() int

	// Labels returns, for each head, the labels of all examples. It must not require loading images.
	Labels() [][]int

	// Example loads (and transforms) the example at position idx.
	Example(idx int) (*Example, error)
}

// Batch is a group of examples as used by the training step.
type Batch struct {
	// Images shaped [batchSize, height*width*channels].
	Images *mat.Dense

	// Labels holds one slice of labels per head, each with batchSize elements.
	Labels [][]int

	// Indices of the examples in the Dataset they were read from.
	Indices []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	if b.Images == nil {
		return 0
	}
	rows, _ := b.Images.Dims()
	return rows
}

// NumHeads returns the number of label sets.
func (b *Batch) NumHeads() int {
	return len(b.Labels)
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	clone := &Batch{
		Labels:  make([][]int, len(b.Labels)),
		Indices: append([]int(nil), b.Indices...),
	}
	if b.Images != nil {
		clone.Images = mat.DenseCopyOf(b.Images)
	}
	for head, labels := range b.Labels {
		clone.Labels[head] = append([]int(nil), labels...)
	}
	return clone
}

// NewBatch assembles a batch from the given examples. All images must have the same size.
func NewBatch(examples []*Example, indices []int) (*Batch, error) {
	if len(examples) == 0 {
		return nil, errors.New("cannot create an empty batch")
	}
	rowLen := len(examples[0].Image)
	numHeads := len(examples[0].Labels)
	batch := &Batch{
		Images:  mat.NewDense(len(examples), rowLen, nil),
		Labels:  make([][]int, numHeads),
		Indices: indices,
	}
	for head := range batch.Labels {
		batch.Labels[head] = make([]int, len(examples))
	}
	for ii, example := range examples {
		if len(example.Image) != rowLen {
			return nil, errors.Errorf("example #%d has image with %d values, but batch expects %d",
				ii, len(example.Image), rowLen)
		}
		if len(example.Labels) != numHeads {
			return nil, errors.Errorf("example #%d has %d labels, but batch expects %d", ii, len(example.Labels), numHeads)
		}
		batch.Images.SetRow(ii, example.Image)
		for head, label := range example.Labels {
			if label < 0 || label >= NumClasses {
				return nil, errors.Errorf("example #%d has label %d for head %d, valid values are 0 to %d",
					ii, label, head, NumClasses-1)
			}
			batch.Labels[head][ii] = label
		}
	}
	return batch, nil
}
