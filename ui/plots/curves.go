// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"
	"io"

	mg "github.com/erkkah/margaid"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Default dimensions of the training curves.
const (
	CurvesWidth  = 1024
	CurvesHeight = 400
)

// WriteCurvesSVG draws one line per curve of the given metricType, over the epochs, as an SVG into w.
func WriteCurvesSVG(w io.Writer, curves Curves, metricType string, width, height int) error {
	selected := curves.OfType(metricType)
	if selected.NumEpochs() == 0 {
		return errors.Errorf("no values of metric type %q to plot", metricType)
	}
	allSeries := make([]*mg.Series, 0, len(selected))
	allPoints := mg.NewSeries()
	for _, curve := range selected {
		s := mg.NewSeries(mg.Titled(curve.Name))
		for epoch, value := range curve.Values {
			v := mg.MakeValue(float64(epoch+1), value)
			s.Add(v)
			allPoints.Add(v)
		}
		allSeries = append(allSeries, s)
	}

	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithProjection(mg.XAxis, mg.Lin),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithProjection(mg.YAxis, mg.Lin),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epochs")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("%s metrics", metricType))
	diagram.Legend(mg.BottomLeft)
	return errors.Wrapf(diagram.Render(w), "failed to render plot for %q", metricType)
}

// SaveCurvesSVG writes one SVG file per metric type of curves, named "<basePath>_<metric type>.svg",
// and returns the paths written.
func SaveCurvesSVG(basePath string, curves Curves) ([]string, error) {
	var paths []string
	for _, metricType := range curves.MetricTypes() {
		filePath := fmt.Sprintf("%s_%s.svg", basePath, metricType)
		err := fsutil.WriteFileAtomic(filePath, func(w io.Writer) error {
			return WriteCurvesSVG(w, curves, metricType, CurvesWidth, CurvesHeight)
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, filePath)
	}
	return paths, nil
}
