// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/leafgrade/leafgrade/pkg/ml/evaluate"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
)

// EpochLines returns the summary of an epoch, one line for the training split and one for the
// validation split. E.g.:
//
//	[Epoch: 12/ 80][TRAIN][LOSS: 0.53][Dis ACC: 81.20][Sev ACC: 77.01]
func EpochLines(result *train.EpochResult, headNames []string) []string {
	lines := make([]string, 0, 2)
	for _, split := range []struct {
		name    string
		metrics train.EpochMetrics
	}{{"TRAIN", result.Train}, {"VAL", result.Val}} {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Epoch:%3d/%3d][%s][LOSS: %4.2f]", result.Epoch+1, result.NumEpochs, split.name, split.metrics.Loss)
		for head, accuracy := range split.metrics.Accuracy {
			if head < len(headNames) && headNames[head] != "" {
				fmt.Fprintf(&sb, "[%s ACC: %5.2f]", headTitle(headNames[head]), accuracy)
			} else {
				fmt.Fprintf(&sb, "[ACC: %5.2f]", accuracy)
			}
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// headTitle capitalizes the head name: "dis" -> "Dis".
func headTitle(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// EpochSummaryName is the name of the hook attached by AttachEpochSummary.
const EpochSummaryName = "leafgrade.ui.commandline.epochSummary"

// AttachEpochSummary prints EpochLines at the end of every epoch. Use it instead of
// AttachProgressBar when the output is not a terminal.
func AttachEpochSummary(loop *train.Loop) {
	headNames := loop.HeadNames()
	loop.OnEpoch(EpochSummaryName, 0, func(_ *train.Loop, result *train.EpochResult) error {
		for _, line := range EpochLines(result, headNames) {
			fmt.Println(line)
		}
		return nil
	})
}

// EvalTable returns a table with the scores (as percentages) of each head of the report.
func EvalTable(report *evaluate.Report) *lgtable.Table {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow || col == 0 {
				return normalStyle
			}
			return rightAlignedStyle
		}).
		Headers(append([]string{"Head"}, evaluate.ResultsColumns...)...)
	for _, head := range report.Heads {
		name := headTitle(head.Name)
		if name == "" {
			name = "-"
		}
		s := head.Scores
		table.Row(name,
			fmt.Sprintf("%.2f", 100*s.Accuracy), fmt.Sprintf("%.2f", 100*s.Precision),
			fmt.Sprintf("%.2f", 100*s.Recall), fmt.Sprintf("%.2f", 100*s.F1))
	}
	return table
}

// ReportEval prints the results of an evaluation on the command line.
func ReportEval(report *evaluate.Report) {
	fmt.Printf("Results on %s (%d examples):\n", report.Dataset, report.NumExamples)
	fmt.Println(EvalTable(report).String())
}
