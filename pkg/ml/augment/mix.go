// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"gonum.org/v1/gonum/mat"
)

// Side is one of the label sets a mixed batch is scored against.
type Side struct {
	Labels []int
	Weight float64
}

// Targets of one head of a mixed batch.
type Targets struct {
	// Sides holds the hard label sets and their weights, which sum to 1.
	Sides []Side

	// Dense holds soft targets shaped [batchSize, numClasses], each row a probability distribution.
	// It is only set by strategies whose targets can't be represented by Sides (bc+), and then
	// Sides holds the most likely label of each row.
	Dense *mat.Dense
}

// Mix describes how the labels of an augmented batch relate to its images. The same rule is
// used to compute the losses and the accuracies of the batch.
type Mix struct {
	Heads []Targets

	// Lambda is the weight of the original labels, 1 for plain batches.
	Lambda float64

	// Permutation pairs example i with example Permutation[i], nil for plain batches.
	Permutation []int
}

// Plain returns the Mix of a batch that was not mixed: one side with weight 1 per head.
func Plain(batch *data.Batch) *Mix {
	mix := &Mix{Heads: make([]Targets, batch.NumHeads()), Lambda: 1}
	for head, labels := range batch.Labels {
		mix.Heads[head] = Targets{Sides: []Side{{Labels: labels, Weight: 1}}}
	}
	return mix
}

// NumHeads returns the number of heads described.
func (m *Mix) NumHeads() int {
	return len(m.Heads)
}

// IsSoft returns whether the targets of head are soft distributions (see Targets.Dense).
func (m *Mix) IsSoft(head int) bool {
	return m.Heads[head].Dense != nil
}

// Combine returns the sum over the sides of head of side.Weight * fn(side.Labels).
func (m *Mix) Combine(head int, fn func(labels []int) float64) float64 {
	var total float64
	for _, side := range m.Heads[head].Sides {
		total += side.Weight * fn(side.Labels)
	}
	return total
}
