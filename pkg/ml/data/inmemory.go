// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"github.com/pkg/errors"
)

// InMemoryDataset holds already transformed images and their labels in memory.
type InMemoryDataset struct {
	name   string
	images [][]float64
	labels [][]int
}

var _ Dataset = (*InMemoryDataset)(nil)

// InMemory creates a dataset from images (one row per example) and labels (one slice per head).
func InMemory(name string, images [][]float64, labels ...[]int) (*InMemoryDataset, error) {
	if len(labels) == 0 {
		return nil, errors.Errorf("InMemory(%q): at least one set of labels is required", name)
	}
	for head, headLabels := range labels {
		if len(headLabels) != len(images) {
			return nil, errors.Errorf("InMemory(%q): %d images but %d labels for head %d",
				name, len(images), len(headLabels), head)
		}
	}
	return &InMemoryDataset{name: name, images: images, labels: labels}, nil
}

// Name implements Dataset.
func (ds *InMemoryDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *InMemoryDataset) Len() int { return len(ds.images) }

// NumHeads implements Dataset.
func (ds *InMemoryDataset) NumHeads() int { return len(ds.labels) }

// Labels implements Dataset.
func (ds *InMemoryDataset) Labels() [][]int { return ds.labels }

// Example implements Dataset.
func (ds *InMemoryDataset) Example(idx int) (*Example, error) {
	if idx < 0 || idx >= len(ds.images) {
		return nil, errors.Errorf("%s: example %d out of range [0, %d)", ds.name, idx, len(ds.images))
	}
	labels := make([]int, len(ds.labels))
	for head := range ds.labels {
		labels[head] = ds.labels[head][idx]
	}
	return &Example{Image: ds.images[idx], Labels: labels}, nil
}
