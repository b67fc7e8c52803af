// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package models defines the interface of the multi-head classifiers trained by leafgrade, and a
// registry of model builders by name.
package models

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable parameter of a model, with its accumulated gradient.
type Param struct {
	// Name uniquely identifies the parameter within its model, e.g.: "hidden/weights".
	Name string

	// Value of the parameter, and Grad its gradient, with the same shape.
	Value, Grad *mat.Dense

	// Head is the only output head whose gradients reach the parameter, or SharedParam if all do.
	Head int
}

// SharedParam is the Param.Head of the parameters used by every head, e.g. the backbone.
const SharedParam = -1

// NewParam creates a zero parameter shaped [rows, cols], shared by all heads.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
		Head:  SharedParam,
	}
}

// NewHeadParam creates a zero parameter shaped [rows, cols] that only belongs to the given head.
func NewHeadParam(name string, head, rows, cols int) *Param {
	p := NewParam(name, rows, cols)
	p.Head = head
	return p
}

// Size returns the number of values in the parameter.
func (p *Param) Size() int {
	rows, cols := p.Value.Dims()
	return rows * cols
}

// Model is a classifier with one output head per task head.
type Model interface {
	// Name of the model, as registered in ModelsFns.
	Name() string

	// NumHeads returns the number of outputs of Forward.
	NumHeads() int

	// Forward returns the logits of each head for the images, shaped [batchSize, numClasses].
	// It keeps what it needs for the following Backward call.
	Forward(images *mat.Dense, training bool) ([]*mat.Dense, error)

	// Backward accumulates into the Grad of the parameters the gradients resulting from the gradients
	// of the loss with respect to the logits of the last Forward call. A nil gradient means the head
	// doesn't contribute to the loss.
	Backward(logitsGrads []*mat.Dense) error

	// Params returns the trainable parameters, always in the same order.
	Params() []*Param
}

// ZeroGrads sets the gradients of all params to zero.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// ParamsCount returns the total number of trainable values of the model.
func ParamsCount(m Model) int {
	var count int
	for _, p := range m.Params() {
		count += p.Size()
	}
	return count
}

// ParamsCountString returns ParamsCount formatted for humans, e.g.: "1,234,567".
func ParamsCountString(m Model) string {
	return humanize.Comma(int64(ParamsCount(m)))
}

// Spec configures the model to build.
type Spec struct {
	// Name of the model in ModelsFns.
	Name string

	NumHeads, NumClasses int

	// ImageSize is the side of the square input images, with Channels channels.
	ImageSize, Channels int

	// Pretrained requests weights pre-trained on ImageNet, if the model supports it.
	Pretrained bool

	// Seed for the random initialization of the parameters.
	Seed uint64
}

// Builder creates a model from its Spec.
type Builder func(spec Spec) (Model, error)

var (
	// ModelsFns maps a model name to its builder.
	// It holds the predefined models, but one can insert new ones.
	ModelsFns = map[string]Builder{
		"shallow": NewShallow,
	}

	// ExternalBackbones are the names of convolutional backbones that are known, but not built in:
	// they need a Builder registered in ModelsFns before use.
	ExternalBackbones = []string{"alexnet", "resnet34", "resnet50", "resnet101", "vgg16"}
)

// New creates the model named by spec.Name.
func New(spec Spec) (Model, error) {
	if spec.NumHeads <= 0 || spec.NumClasses <= 0 {
		return nil, errors.Errorf("model %q: invalid number of heads (%d) or classes (%d)",
			spec.Name, spec.NumHeads, spec.NumClasses)
	}
	builder, found := ModelsFns[spec.Name]
	if !found || builder == nil {
		if slices.Contains(ExternalBackbones, spec.Name) {
			return nil, errors.Errorf("model %q is a known backbone, but no builder was registered for it in models.ModelsFns",
				spec.Name)
		}
		names := maps.Keys(ModelsFns)
		slices.Sort(names)
		return nil, errors.Errorf("unknown model %q, valid values are %q", spec.Name, names)
	}
	m, err := builder(spec)
	if err != nil {
		return nil, errors.WithMessagef(err, "building model %q", spec.Name)
	}
	return m, nil
}
