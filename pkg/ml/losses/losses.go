// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have the losses used to train the classifiers.
//
// Every loss returns its value, averaged over the batch, and its gradient with respect to the logits.
package losses

import (
	"math"

	"github.com/leafgrade/leafgrade/pkg/ml/augment"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Softmax returns the row-wise softmax of logits.
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	probs := mat.NewDense(rows, cols, nil)
	for ii := range rows {
		row := probs.RawRowView(ii)
		copy(row, logits.RawRowView(ii))
		maxValue := floats.Max(row)
		for jj := range row {
			row[jj] = math.Exp(row[jj] - maxValue)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return probs
}

// LogSoftmax returns the row-wise log of the softmax of logits, computed in a numerically stable way.
func LogSoftmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	logProbs := mat.NewDense(rows, cols, nil)
	for ii := range rows {
		row := logProbs.RawRowView(ii)
		copy(row, logits.RawRowView(ii))
		logSumExp := floats.LogSumExp(row)
		floats.AddConst(-logSumExp, row)
	}
	return logProbs
}

// SparseCategoricalCrossEntropyLogits returns the mean cross-entropy of the logits with respect
// to the labels given as class indices, and its gradient (softmax - onehot) / batchSize.
func SparseCategoricalCrossEntropyLogits(logits *mat.Dense, labels []int) (loss float64, grad *mat.Dense) {
	rows, _ := logits.Dims()
	logProbs := LogSoftmax(logits)
	grad = Softmax(logits)
	for ii, label := range labels {
		loss -= logProbs.At(ii, label)
		grad.Set(ii, label, grad.At(ii, label)-1)
	}
	batchSize := float64(rows)
	grad.Scale(1/batchSize, grad)
	return loss / batchSize, grad
}

// CategoricalCrossEntropyLogits returns the mean cross-entropy of the logits with respect to the
// target distributions (one per row of dist), and its gradient (softmax - dist) / batchSize.
func CategoricalCrossEntropyLogits(logits, dist *mat.Dense) (loss float64, grad *mat.Dense) {
	rows, cols := logits.Dims()
	logProbs := LogSoftmax(logits)
	for ii := range rows {
		for jj := range cols {
			loss -= dist.At(ii, jj) * logProbs.At(ii, jj)
		}
	}
	grad = Softmax(logits)
	grad.Sub(grad, dist)
	batchSize := float64(rows)
	grad.Scale(1/batchSize, grad)
	return loss / batchSize, grad
}

// KLDivergenceLogits returns the Kullback-Leibler divergence from the softmax of logits to the
// target distributions dist, summed over classes and averaged over the batch:
// Σ t·(log t - log softmax(z)) / batchSize, with 0·log 0 = 0.
//
// Its gradient with respect to the logits is (softmax - dist) / batchSize.
func KLDivergenceLogits(logits, dist *mat.Dense) (loss float64, grad *mat.Dense) {
	rows, cols := logits.Dims()
	logProbs := LogSoftmax(logits)
	for ii := range rows {
		for jj := range cols {
			target := dist.At(ii, jj)
			if target > 0 {
				loss += target * (math.Log(target) - logProbs.At(ii, jj))
			}
		}
	}
	grad = Softmax(logits)
	grad.Sub(grad, dist)
	batchSize := float64(rows)
	grad.Scale(1/batchSize, grad)
	return loss / batchSize, grad
}

// ForMix returns the loss of the logits of the given head against the targets in mix, and its gradient.
//
// Soft targets (bc+) use KLDivergenceLogits. Otherwise, it is the weighted sum over the sides of
// SparseCategoricalCrossEntropyLogits, which for mixup is λ·CE(a) + (1-λ)·CE(b).
func ForMix(mix *augment.Mix, head int, logits *mat.Dense) (loss float64, grad *mat.Dense) {
	targets := mix.Heads[head]
	if targets.Dense != nil {
		return KLDivergenceLogits(logits, targets.Dense)
	}
	rows, cols := logits.Dims()
	grad = mat.NewDense(rows, cols, nil)
	sideGrad := mat.NewDense(rows, cols, nil)
	for _, side := range targets.Sides {
		if side.Weight == 0 {
			continue
		}
		sideLoss, g := SparseCategoricalCrossEntropyLogits(logits, side.Labels)
		loss += side.Weight * sideLoss
		sideGrad.Scale(side.Weight, g)
		grad.Add(grad, sideGrad)
	}
	return loss, grad
}
