// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/leafgrade/leafgrade/pkg/support/sets"
	"gonum.org/v1/gonum/mat"
)

// Scores summarizes the quality of a set of predictions. Precision, Recall and F1 are macro
// averages over the classes.
type Scores struct {
	Accuracy, Precision, Recall, F1 float64
}

// ConfusionMatrix returns the numClasses x numClasses matrix of counts, with true labels in the
// rows and predicted labels in the columns. Classes absent from both yTrue and yPred get zero rows
// and columns.
func ConfusionMatrix(yTrue, yPred []int, numClasses int) *mat.Dense {
	cm := mat.NewDense(numClasses, numClasses, nil)
	for ii, label := range yTrue {
		cm.Set(label, yPred[ii], cm.At(label, yPred[ii])+1)
	}
	return cm
}

// MacroScores returns the accuracy and the macro averaged precision, recall and F1 of yPred.
//
// The averages are taken over the classes present in yTrue or yPred. When the denominator of
// the precision, recall or F1 of a class is zero, that value is taken to be zero.
func MacroScores(yTrue, yPred []int) Scores {
	labels := sets.Sorted(sets.Of(yTrue, yPred))
	if len(labels) == 0 {
		return Scores{}
	}

	scores := Scores{Accuracy: Accuracy(yPred, yTrue)}
	for _, label := range labels {
		var tp, fp, fn float64
		for ii, truth := range yTrue {
			pred := yPred[ii]
			switch {
			case truth == label && pred == label:
				tp++
			case pred == label:
				fp++
			case truth == label:
				fn++
			}
		}
		precision := safeDiv(tp, tp+fp)
		recall := safeDiv(tp, tp+fn)
		scores.Precision += precision
		scores.Recall += recall
		scores.F1 += safeDiv(2*precision*recall, precision+recall)
	}
	n := float64(len(labels))
	scores.Precision /= n
	scores.Recall /= n
	scores.F1 /= n
	return scores
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
