// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the label-mixing augmentations applied to training batches:
// between-class learning (bc+) and mixup.
//
// Each Strategy returns a new batch and a Mix describing the targets the batch should be
// scored against. Input batches are never modified.
package augment

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Type of augmentation strategy.
type Type int

const (
	TypeNone Type = iota
	TypeBetweenClass
	TypeMixup
)

var typeNames = []string{"none", "bc+", "mixup"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeFromName parses the name of a strategy. The empty string is the same as "none".
func TypeFromName(name string) (Type, error) {
	if name == "" {
		return TypeNone, nil
	}
	for ii, typeName := range typeNames {
		if strings.EqualFold(name, typeName) {
			return Type(ii), nil
		}
	}
	return 0, errors.Errorf("unknown data augmentation %q, valid values are %q", name, typeNames)
}

// DefaultMixupAlpha is the parameter of the symmetric Beta distribution mixup draws λ from.
const DefaultMixupAlpha = 1.0

// Strategy augments training batches.
type Strategy interface {
	// Name of the strategy, as accepted by FromName.
	Name() string

	// Augment returns the augmented batch and the targets to score it against.
	Augment(batch *data.Batch, numClasses int) (*data.Batch, *Mix)
}

// New creates the strategy of the given type, drawing its random values from rng.
// mixupAlpha is only used by TypeMixup.
func New(t Type, mixupAlpha float64, rng *rand.Rand) Strategy {
	switch t {
	case TypeBetweenClass:
		return &BetweenClass{rng: rng}
	case TypeMixup:
		return NewMixup(mixupAlpha, rng)
	default:
		return None{}
	}
}

// FromName is like New, but takes the name of the strategy.
func FromName(name string, mixupAlpha float64, rng *rand.Rand) (Strategy, error) {
	t, err := TypeFromName(name)
	if err != nil {
		return nil, err
	}
	return New(t, mixupAlpha, rng), nil
}

// None leaves batches untouched.
type None struct{}

// Name implements Strategy.
func (None) Name() string { return TypeNone.String() }

// Augment implements Strategy.
func (None) Augment(batch *data.Batch, _ int) (*data.Batch, *Mix) {
	return batch, Plain(batch)
}

// Mixup blends each image with a random partner: λ·x + (1-λ)·x[perm], with λ ~ Beta(α, α) drawn once per batch.
type Mixup struct {
	Alpha float64
	rng   *rand.Rand
	beta  distuv.Beta
}

// NewMixup creates a Mixup strategy. If alpha <= 0, λ is always 1 (no mixing).
func NewMixup(alpha float64, rng *rand.Rand) *Mixup {
	return &Mixup{
		Alpha: alpha,
		rng:   rng,
		beta:  distuv.Beta{Alpha: alpha, Beta: alpha, Src: rng},
	}
}

// Name implements Strategy.
func (m *Mixup) Name() string { return TypeMixup.String() }

// Augment implements Strategy.
func (m *Mixup) Augment(batch *data.Batch, _ int) (*data.Batch, *Mix) {
	lambda := 1.0
	if m.Alpha > 0 {
		lambda = m.beta.Rand()
	}
	n := batch.Size()
	perm := m.rng.Perm(n)

	mixed := &data.Batch{Labels: batch.Labels, Indices: batch.Indices}
	_, rowLen := batch.Images.Dims()
	mixed.Images = mat.NewDense(n, rowLen, nil)
	row := make([]float64, rowLen)
	for ii := range n {
		floats.ScaleTo(row, lambda, batch.Images.RawRowView(ii))
		floats.AddScaled(row, 1-lambda, batch.Images.RawRowView(perm[ii]))
		mixed.Images.SetRow(ii, row)
	}

	mix := &Mix{Heads: make([]Targets, batch.NumHeads()), Lambda: lambda, Permutation: perm}
	for head, labels := range batch.Labels {
		permuted := make([]int, n)
		for ii := range n {
			permuted[ii] = labels[perm[ii]]
		}
		mix.Heads[head] = Targets{Sides: []Side{
			{Labels: labels, Weight: lambda},
			{Labels: permuted, Weight: 1 - lambda},
		}}
	}
	return mixed, mix
}

// BetweenClass implements between-class learning (bc+): each image is mixed with a random partner
// with a ratio r ~ U(0, 1) drawn per pair, after removing the mean of each image and accounting for
// the difference of their standard deviations. Targets are the soft labels r·y1 + (1-r)·y2.
type BetweenClass struct {
	rng *rand.Rand
}

// NewBetweenClass creates a bc+ strategy.
func NewBetweenClass(rng *rand.Rand) *BetweenClass {
	return &BetweenClass{rng: rng}
}

// Name implements Strategy.
func (bc *BetweenClass) Name() string { return TypeBetweenClass.String() }

// Augment implements Strategy.
func (bc *BetweenClass) Augment(batch *data.Batch, numClasses int) (*data.Batch, *Mix) {
	n := batch.Size()
	_, rowLen := batch.Images.Dims()
	perm := bc.rng.Perm(n)
	ratios := make([]float64, n)
	mixed := &data.Batch{
		Images:  mat.NewDense(n, rowLen, nil),
		Labels:  make([][]int, batch.NumHeads()),
		Indices: batch.Indices,
	}
	row := make([]float64, rowLen)
	for ii := range n {
		r := bc.rng.Float64()
		ratios[ii] = r
		x1, x2 := batch.Images.RawRowView(ii), batch.Images.RawRowView(perm[ii])
		mu1, sigma1 := stat.PopMeanStdDev(x1, nil)
		mu2, sigma2 := stat.PopMeanStdDev(x2, nil)
		p := BlendRatio(r, sigma1, sigma2)
		norm := math.Sqrt(p*p + (1-p)*(1-p))
		for jj := range row {
			row[jj] = ((x1[jj]-mu1)*p + (x2[jj]-mu2)*(1-p)) / norm
		}
		mixed.Images.SetRow(ii, row)
	}

	mix := &Mix{Heads: make([]Targets, batch.NumHeads()), Lambda: math.NaN(), Permutation: perm}
	for head, labels := range batch.Labels {
		dense := mat.NewDense(n, numClasses, nil)
		hard := make([]int, n)
		for ii := range n {
			r := ratios[ii]
			dense.Set(ii, labels[ii], dense.At(ii, labels[ii])+r)
			partner := labels[perm[ii]]
			dense.Set(ii, partner, dense.At(ii, partner)+1-r)
			hard[ii] = floats.MaxIdx(dense.RawRowView(ii))
		}
		mixed.Labels[head] = hard
		mix.Heads[head] = Targets{Sides: []Side{{Labels: hard, Weight: 1}}, Dense: dense}
	}
	return mixed, mix
}

// BlendRatio returns the weight p of the first image, given the mixing ratio r and the standard
// deviations of both images: p = 1 / (1 + σ1/σ2 · (1-r)/r). If sigma2 or r are 0 it returns r.
func BlendRatio(r, sigma1, sigma2 float64) float64 {
	if sigma2 == 0 || r == 0 {
		return r
	}
	return 1.0 / (1.0 + sigma1/sigma2*(1-r)/r)
}
