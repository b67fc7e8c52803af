// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package sampler computes per-example draw weights that compensate for class imbalance, and
// draws weighted epoch schedules (with replacement) from them.
//
// The weight of an example is the inverse of the relative frequency of its class, or of its
// (disease, severity) cell for the entire leaf task. Weights are normalized to sum 1.
package sampler

import (
	"math/rand/v2"

	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultBalanceFactor is the count added to every (disease, severity) cell before inverting its
// frequency in Joint. It dampens the weight of very rare cells.
const DefaultBalanceFactor = 20.0

// Weights holds one non-negative draw weight per example.
type Weights []float64

// SingleLabel returns weights for a single-label dataset: members of a class with n examples
// get 1/(n/total), and the result is normalized to sum 1.
func SingleLabel(labels []int) Weights {
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	total := float64(len(labels))
	weights := make(Weights, len(labels))
	for ii, label := range labels {
		weights[ii] = 1.0 / (float64(counts[label]) / total)
	}
	return weights.normalize()
}

// Joint returns weights for a two-label dataset, balancing the joint (disease, severity) cells:
// members of a cell with n examples get 1/((n+balanceFactor)/total), and the result is normalized
// to sum 1.
func Joint(disease, severity []int, numDisease, numSeverity int, balanceFactor float64) Weights {
	counts := make([][]int, numDisease)
	for d := range counts {
		counts[d] = make([]int, numSeverity)
	}
	for ii := range disease {
		counts[disease[ii]][severity[ii]]++
	}
	total := float64(len(disease))
	weights := make(Weights, len(disease))
	for d := range numDisease {
		for s := range numSeverity {
			n := counts[d][s]
			if n == 0 {
				continue
			}
			cellWeight := 1.0 / ((float64(n) + balanceFactor) / total)
			for ii := range disease {
				if disease[ii] == d && severity[ii] == s {
					weights[ii] = cellWeight
				}
			}
		}
	}
	return weights.normalize()
}

// ForTask returns the weights appropriate for the task: Joint for the entire leaf task (labels
// holds disease and severity) and SingleLabel for the lesion spot task.
func ForTask(task data.Task, labels [][]int, balanceFactor float64) (Weights, error) {
	if len(labels) != task.NumHeads() {
		return nil, errors.Errorf("sampler for task %s requires %d sets of labels, got %d",
			task, task.NumHeads(), len(labels))
	}
	if task == data.TaskEntireLeaf {
		disease, severity := labels[data.HeadDisease], labels[data.HeadSeverity]
		if len(disease) != len(severity) {
			return nil, errors.Errorf("sampler got %d disease labels but %d severity labels", len(disease), len(severity))
		}
		for ii := range disease {
			if disease[ii] < 0 || disease[ii] >= data.NumClasses || severity[ii] < 0 || severity[ii] >= data.NumClasses {
				return nil, errors.Errorf("sampler: example %d has invalid labels (%d, %d)", ii, disease[ii], severity[ii])
			}
		}
		return Joint(disease, severity, data.NumClasses, data.NumClasses, balanceFactor), nil
	}
	return SingleLabel(labels[0]), nil
}

// normalize scales the weights in place to sum 1, if their sum is positive.
func (w Weights) normalize() Weights {
	sum := floats.Sum(w)
	if sum > 0 {
		floats.Scale(1/sum, w)
	}
	return w
}

// Weighted draws epoch schedules of len(Weights) indices, with replacement, each index drawn with
// probability proportional to its weight.
//
// It implements data.Sampler.
type Weighted struct {
	Weights Weights
	rng     *rand.Rand
}

var _ data.Sampler = (*Weighted)(nil)

// NewWeighted creates a Weighted sampler drawing from rng.
func NewWeighted(weights Weights, rng *rand.Rand) *Weighted {
	return &Weighted{Weights: weights, rng: rng}
}

// Schedule implements data.Sampler.
func (s *Weighted) Schedule() ([]int, error) {
	if len(s.Weights) == 0 {
		return nil, errors.New("weighted sampler has no weights")
	}
	for ii, w := range s.Weights {
		if w < 0 {
			return nil, errors.Errorf("weighted sampler: negative weight %g for example %d", w, ii)
		}
	}
	if floats.Sum(s.Weights) <= 0 {
		return nil, errors.New("weighted sampler: all weights are zero")
	}
	categorical := distuv.NewCategorical(s.Weights, s.rng)
	schedule := make([]int, len(s.Weights))
	for ii := range schedule {
		schedule[ii] = int(categorical.Rand())
	}
	return schedule, nil
}
