// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// progressBar holds a progressbar being displayed.
type progressBar struct {
	numSteps    int
	bar         *progressbar.ProgressBar
	headNames   []string
	totalAmount int

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

func (pBar *progressBar) onStart(loop *train.Loop, trainLoader *data.Loader) error {
	pBar.numSteps = max(1, loop.NumEpochs*trainLoader.NumBatches())
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(os.Stdout),
	)
	return nil
}

func (pBar *progressBar) onStep(loop *train.Loop, result *train.StepResult) error {
	if pBar.bar.IsFinished() {
		return nil
	}
	update := progressBarUpdate{
		amount: 1,
		median: FormatDuration(loop.MedianTrainStepDuration()),
		metrics: []string{
			fmt.Sprintf("%d/%d", loop.Epoch+1, loop.NumEpochs),
			fmt.Sprintf("%s of %s", humanize.Comma(int64(loop.LoopStep+1)), humanize.Comma(int64(pBar.numSteps))),
			fmt.Sprintf("%.4f", result.Loss),
		},
	}
	for _, accuracy := range result.Accuracies {
		update.metrics = append(update.metrics, fmt.Sprintf("%.2f%%", 100*accuracy))
	}
	pBar.updates <- update
	pBar.totalAmount++
	return nil
}

func (pBar *progressBar) onEpoch(_ *train.Loop, result *train.EpochResult) error {
	pBar.updates <- progressBarUpdate{epochLines: EpochLines(result, pBar.headNames)}
	return nil
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ train.State) error {
	if pBar.updates != nil {
		close(pBar.updates)
	}
	pBar.asyncUpdatesDone.Wait()
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	fmt.Println()
	return nil
}

// ProgressBarName is the name of the hooks of the progress bar.
const ProgressBarName = "leafgrade.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressBarUpdate is either the metrics of train steps, or the summary of a finished epoch.
type progressBarUpdate struct {
	amount     int
	median     string
	metrics    []string
	epochLines []string
}

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// everytime Loop is run, it will display a progress bar with progression and metrics, and
// the summary of each epoch (see EpochLines).
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		headNames:      loop.HeadNames(),
		extraMetricFns: extraMetrics,
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(os.Stdout),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		defer pBar.asyncUpdatesDone.Done()
		// Asynchronously draw updates: this is handy if the training is faster than the terminal.
		var pending *progressBarUpdate
		for {
			var update progressBarUpdate
			if pending != nil {
				update, pending = *pending, nil
			} else {
				var ok bool
				update, ok = <-pBar.updates
				if !ok {
					return
				}
			}
			if update.epochLines != nil {
				for _, line := range update.epochLines {
					fmt.Println(line)
				}
				// The stats table is redrawn below the summary.
				pBar.isFirstOutput = true
				continue
			}

			// Exhaust the step updates in the buffer:
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					if newUpdate.epochLines != nil {
						pending = &newUpdate
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}
			pBar.draw(update, amount)
		}
	}()
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	loop.OnStep(ProgressBarName, 0, pBar.onStep)
	loop.OnEpoch(ProgressBarName, 0, pBar.onEpoch)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

// draw prints the stats table and the progress bar, over the previous ones.
func (pBar *progressBar) draw(update progressBarUpdate, amount int) {
	pBar.statsTable.Data(lgtable.NewStringData())
	pBar.statsTable.Row("Epoch", update.metrics[0])
	pBar.statsTable.Row("Train Step", update.metrics[1])
	pBar.statsTable.Row("Median train step duration", update.median)
	pBar.statsTable.Row("Batch Loss", update.metrics[2])
	for head, accuracy := range update.metrics[3:] {
		name := "Batch Accuracy"
		if head < len(pBar.headNames) && pBar.headNames[head] != "" {
			name = fmt.Sprintf("Batch %s Accuracy", headTitle(pBar.headNames[head]))
		}
		pBar.statsTable.Row(name, accuracy)
	}
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		pBar.statsTable.Row(name, value)
	}

	// For command-line, we clear the previous lines that will be overwritten.
	pBar.termenv.HideCursor()
	if !pBar.isFirstOutput {
		numLinesToBackup := len(update.metrics) + 1 + 2 + 1 + len(pBar.extraMetricFns)
		pBar.termenv.CursorPrevLine(numLinesToBackup)
	}
	pBar.isFirstOutput = false

	// Print update.
	fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
	_ = pBar.bar.Add(amount) // Prints progress bar line.
	fmt.Println()
	pBar.termenv.ShowCursor()
	time.Sleep(maxUpdateFrequency)
}
