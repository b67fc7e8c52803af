// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Order in which a Loader visits the examples of its dataset.
type Order int

const (
	// Sequential visits every example once, in dataset order.
	Sequential Order = iota

	// Shuffled visits every example once, in a new random order each epoch.
	Shuffled

	// Sampled draws the examples from a Sampler schedule, possibly with repetitions.
	Sampled
)

// Sampler generates the list of example indices to visit in one epoch.
type Sampler interface {
	Schedule() ([]int, error)
}

// Loader yields batches from a Dataset.
//
// After the last batch of an epoch, Yield returns io.EOF. Call Reset to start a new epoch.
type Loader struct {
	ds        Dataset
	batchSize int
	order     Order
	rng       *rand.Rand
	sampler   Sampler

	schedule []int
	pos      int
}

// NewLoader creates a sequential loader over ds.
func NewLoader(ds Dataset, batchSize int) *Loader {
	return &Loader{ds: ds, batchSize: batchSize}
}

// Shuffle makes the loader visit examples in a random order, reshuffled at every Reset.
// It returns the loader itself, so calls can be chained.
func (l *Loader) Shuffle(rng *rand.Rand) *Loader {
	l.order = Shuffled
	l.rng = rng
	return l
}

// WithSampler makes the loader follow the schedules generated by sampler.
// It returns the loader itself, so calls can be chained.
func (l *Loader) WithSampler(sampler Sampler) *Loader {
	l.order = Sampled
	l.sampler = sampler
	return l
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset { return l.ds }

// Order returns the order examples are visited in.
func (l *Loader) Order() Order { return l.order }

// BatchSize returns the maximum number of examples per batch. The last batch of an epoch may be smaller.
func (l *Loader) BatchSize() int { return l.batchSize }

// Reset starts a new epoch.
func (l *Loader) Reset() error {
	if l.batchSize <= 0 {
		return errors.Errorf("Loader(%s): invalid batch size %d", l.ds.Name(), l.batchSize)
	}
	l.pos = 0
	switch l.order {
	case Sampled:
		schedule, err := l.sampler.Schedule()
		if err != nil {
			return errors.WithMessagef(err, "Loader(%s)", l.ds.Name())
		}
		l.schedule = schedule
	default:
		l.schedule = make([]int, l.ds.Len())
		for ii := range l.schedule {
			l.schedule[ii] = ii
		}
		if l.order == Shuffled {
			l.rng.Shuffle(len(l.schedule), func(i, j int) {
				l.schedule[i], l.schedule[j] = l.schedule[j], l.schedule[i]
			})
		}
	}
	return nil
}

// Yield returns the next batch, or io.EOF at the end of the epoch.
func (l *Loader) Yield() (*Batch, error) {
	if l.schedule == nil {
		if err := l.Reset(); err != nil {
			return nil, err
		}
	}
	if l.pos >= len(l.schedule) {
		return nil, io.EOF
	}
	end := min(l.pos+l.batchSize, len(l.schedule))
	indices := append([]int(nil), l.schedule[l.pos:end]...)
	l.pos = end
	examples := make([]*Example, len(indices))
	for ii, idx := range indices {
		example, err := l.ds.Example(idx)
		if err != nil {
			return nil, err
		}
		examples[ii] = example
	}
	batch, err := NewBatch(examples, indices)
	if err != nil {
		return nil, errors.WithMessagef(err, "Loader(%s)", l.ds.Name())
	}
	return batch, nil
}

// NumBatches returns the number of batches in one epoch.
func (l *Loader) NumBatches() int {
	n := l.ds.Len()
	if l.order == Sampled && l.schedule != nil {
		n = len(l.schedule)
	}
	if l.batchSize <= 0 {
		return 0
	}
	return (n + l.batchSize - 1) / l.batchSize
}
