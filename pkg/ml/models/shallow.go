// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

const (
	// ShallowPoolSize is the side of the grid images are average pooled to by the shallow model.
	ShallowPoolSize = 4

	// ShallowHiddenDim is the number of units of the hidden layer of the shallow model.
	ShallowHiddenDim = 64
)

// Shallow is a small model computed on the host: the images are average pooled to a
// ShallowPoolSize x ShallowPoolSize grid per channel, followed by a dense layer with ReLU
// activation, and one dense readout layer per head.
type Shallow struct {
	spec     Spec
	poolSize int

	hiddenWeights, hiddenBiases *Param
	headWeights, headBiases     []*Param
	params                      []*Param

	// Activations of the last Forward call.
	features, hidden *mat.Dense
}

var _ Model = (*Shallow)(nil)

// NewShallow creates a Shallow model with He-normal initialized weights. It implements Builder.
func NewShallow(spec Spec) (Model, error) {
	if spec.Channels <= 0 {
		spec.Channels = 3
	}
	if spec.ImageSize <= 0 {
		return nil, errors.Errorf("invalid image size %d", spec.ImageSize)
	}
	if spec.Pretrained {
		klog.Warningf("model %q has no pre-trained weights, training from scratch", spec.Name)
	}
	m := &Shallow{spec: spec, poolSize: min(ShallowPoolSize, spec.ImageSize)}
	numFeatures := m.poolSize * m.poolSize * spec.Channels
	rng := rand.New(rand.NewPCG(spec.Seed, 0x5eed))

	m.hiddenWeights = NewParam("hidden/weights", numFeatures, ShallowHiddenDim)
	m.hiddenBiases = NewParam("hidden/biases", 1, ShallowHiddenDim)
	heNormal(m.hiddenWeights.Value, numFeatures, rng)
	m.params = []*Param{m.hiddenWeights, m.hiddenBiases}
	for head := range spec.NumHeads {
		weights := NewHeadParam(fmt.Sprintf("head_%d/weights", head), head, ShallowHiddenDim, spec.NumClasses)
		biases := NewHeadParam(fmt.Sprintf("head_%d/biases", head), head, 1, spec.NumClasses)
		heNormal(weights.Value, ShallowHiddenDim, rng)
		m.headWeights = append(m.headWeights, weights)
		m.headBiases = append(m.headBiases, biases)
		m.params = append(m.params, weights, biases)
	}
	return m, nil
}

// heNormal fills values with samples of N(0, 2/fanIn).
func heNormal(values *mat.Dense, fanIn int, rng *rand.Rand) {
	normal := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2.0 / float64(fanIn)), Src: rng}
	raw := values.RawMatrix()
	for ii := range raw.Data {
		raw.Data[ii] = normal.Rand()
	}
}

// Name implements Model.
func (m *Shallow) Name() string { return m.spec.Name }

// NumHeads implements Model.
func (m *Shallow) NumHeads() int { return m.spec.NumHeads }

// Params implements Model.
func (m *Shallow) Params() []*Param { return m.params }

// pool averages each image over a poolSize x poolSize grid, per channel.
func (m *Shallow) pool(images *mat.Dense) (*mat.Dense, error) {
	batchSize, rowLen := images.Dims()
	size, channels, poolSize := m.spec.ImageSize, m.spec.Channels, m.poolSize
	if rowLen != size*size*channels {
		return nil, errors.Errorf("model %q expects images with %dx%dx%d=%d values, got %d",
			m.spec.Name, size, size, channels, size*size*channels, rowLen)
	}
	counts := make([]float64, poolSize*poolSize)
	for y := range size {
		for x := range size {
			counts[(y*poolSize/size)*poolSize+x*poolSize/size]++
		}
	}
	features := mat.NewDense(batchSize, poolSize*poolSize*channels, nil)
	for ii := range batchSize {
		image := images.RawRowView(ii)
		feature := features.RawRowView(ii)
		pos := 0
		for y := range size {
			cellY := y * poolSize / size
			for x := range size {
				cell := cellY*poolSize + x*poolSize/size
				for c := range channels {
					feature[cell*channels+c] += image[pos]
					pos++
				}
			}
		}
		for cell, count := range counts {
			floats.Scale(1/count, feature[cell*channels:(cell+1)*channels])
		}
	}
	return features, nil
}

// dense returns x·weights + biases.
func dense(x *mat.Dense, weights, biases *Param) *mat.Dense {
	rows, _ := x.Dims()
	_, cols := weights.Value.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(x, weights.Value)
	bias := biases.Value.RawRowView(0)
	for ii := range rows {
		floats.Add(out.RawRowView(ii), bias)
	}
	return out
}

// Forward implements Model.
func (m *Shallow) Forward(images *mat.Dense, _ bool) ([]*mat.Dense, error) {
	features, err := m.pool(images)
	if err != nil {
		return nil, err
	}
	hidden := dense(features, m.hiddenWeights, m.hiddenBiases)
	hidden.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, hidden)
	m.features, m.hidden = features, hidden

	logits := make([]*mat.Dense, m.spec.NumHeads)
	for head := range logits {
		logits[head] = dense(hidden, m.headWeights[head], m.headBiases[head])
	}
	return logits, nil
}

// accumulateDense adds the gradients of the weights and biases of out = x·weights + biases, given
// the gradient of out.
func accumulateDense(x, outGrad *mat.Dense, weights, biases *Param) {
	var weightsGrad mat.Dense
	weightsGrad.Mul(x.T(), outGrad)
	weights.Grad.Add(weights.Grad, &weightsGrad)
	rows, _ := outGrad.Dims()
	biasGrad := biases.Grad.RawRowView(0)
	for ii := range rows {
		floats.Add(biasGrad, outGrad.RawRowView(ii))
	}
}

// Backward implements Model.
func (m *Shallow) Backward(logitsGrads []*mat.Dense) error {
	if m.hidden == nil {
		return errors.Errorf("model %q: Backward called before Forward", m.spec.Name)
	}
	if len(logitsGrads) != m.spec.NumHeads {
		return errors.Errorf("model %q: Backward got %d gradients for %d heads", m.spec.Name, len(logitsGrads), m.spec.NumHeads)
	}
	batchSize, hiddenDim := m.hidden.Dims()
	hiddenGrad := mat.NewDense(batchSize, hiddenDim, nil)
	var contributions int
	for head, grad := range logitsGrads {
		if grad == nil {
			continue
		}
		contributions++
		accumulateDense(m.hidden, grad, m.headWeights[head], m.headBiases[head])
		var g mat.Dense
		g.Mul(grad, m.headWeights[head].Value.T())
		hiddenGrad.Add(hiddenGrad, &g)
	}
	if contributions == 0 {
		return nil
	}
	// ReLU: no gradient where the activation was clipped.
	hiddenGrad.Apply(func(i, j int, v float64) float64 {
		if m.hidden.At(i, j) <= 0 {
			return 0
		}
		return v
	}, hiddenGrad)
	accumulateDense(m.features, hiddenGrad, m.hiddenWeights, m.hiddenBiases)
	return nil
}
