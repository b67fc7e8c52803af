// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"strings"

	"github.com/leafgrade/leafgrade/pkg/ml/data"
	"github.com/leafgrade/leafgrade/pkg/ml/models"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// OutputMode selects which heads of a multi-head model are trained, and which losses are monitored.
type OutputMode int

const (
	// OutputMultitask trains all heads with the sum of their losses, and monitors their mean.
	OutputMultitask OutputMode = iota

	// OutputDisease trains and monitors only the disease head.
	OutputDisease

	// OutputSeverity trains and monitors only the severity head.
	OutputSeverity
)

var outputModeNames = []string{"multitask", "disease", "severity"}

// String implements fmt.Stringer.
func (m OutputMode) String() string {
	if m < 0 || int(m) >= len(outputModeNames) {
		return fmt.Sprintf("OutputMode(%d)", int(m))
	}
	return outputModeNames[m]
}

// OutputModeFromName parses the name of an output mode, see OutputMode.String.
func OutputModeFromName(name string) (OutputMode, error) {
	for ii, modeName := range outputModeNames {
		if strings.EqualFold(name, modeName) {
			return OutputMode(ii), nil
		}
	}
	return 0, errors.Errorf("unknown output mode %q, valid values are %q", name, outputModeNames)
}

// MarshalText implements encoding.TextMarshaler.
func (m OutputMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OutputMode) UnmarshalText(text []byte) error {
	parsed, err := OutputModeFromName(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// router applies an OutputMode: it selects the heads whose gradients are back-propagated, and
// combines their losses into the monitored loss (their mean).
type router struct {
	selected []int
	routed   []bool
}

// newRouter resolves the output mode for a model with numHeads heads. Single head models always
// route their only head.
func newRouter(mode OutputMode, numHeads int) (*router, error) {
	r := &router{routed: make([]bool, numHeads)}
	switch {
	case numHeads == 1:
		r.selected = []int{0}
	case mode == OutputMultitask:
		for head := range numHeads {
			r.selected = append(r.selected, head)
		}
	case mode == OutputDisease:
		r.selected = []int{data.HeadDisease}
	case mode == OutputSeverity:
		if numHeads <= data.HeadSeverity {
			return nil, errors.Errorf("output mode %s requires a severity head, model has %d heads", mode, numHeads)
		}
		r.selected = []int{data.HeadSeverity}
	default:
		return nil, errors.Errorf("invalid output mode %s", mode)
	}
	for _, head := range r.selected {
		r.routed[head] = true
	}
	return r, nil
}

// Loss returns the monitored loss: the mean of the losses of the selected heads.
func (r *router) Loss(headLosses []float64) float64 {
	var sum float64
	for _, head := range r.selected {
		sum += headLosses[head]
	}
	return sum / float64(len(r.selected))
}

// Gradients sets to nil the gradients of the heads that are not routed, in place, and returns them.
func (r *router) Gradients(grads []*mat.Dense) []*mat.Dense {
	for head := range grads {
		if !r.routed[head] {
			grads[head] = nil
		}
	}
	return grads
}

// Params returns the parameters reached by the back-propagation of the routed heads: the shared
// ones and those of routed heads. The others are left untouched by the optimizer.
func (r *router) Params(params []*models.Param) []*models.Param {
	reached := make([]*models.Param, 0, len(params))
	for _, p := range params {
		if p.Head == models.SharedParam || (p.Head >= 0 && p.Head < len(r.routed) && r.routed[p.Head]) {
			reached = append(reached, p)
		}
	}
	return reached
}
