// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input, using reservoir sampling.
type StreamingMedianMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn

	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

var _ Interface = (*StreamingMedianMetric)(nil)

// NewMedianMetric creates a streaming median metric.
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(name, shortName, metricType string, prettyPrintFn PrettyPrintFn) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		name:          name,
		shortName:     shortName,
		metricType:    metricType,
		pPrintFn:      prettyPrintFn,
		maxNumSamples: 10_001,
	}
}

// WithSampleSize configures the default number of random samples to keep to estimate the median.
func (m *StreamingMedianMetric) WithSampleSize(n int) *StreamingMedianMetric {
	m.maxNumSamples = n
	return m
}

// WithRand sets the random number generator used to select the samples kept.
func (m *StreamingMedianMetric) WithRand(rng *rand.Rand) *StreamingMedianMetric {
	m.rng = rng
	return m
}

// Name implements Interface.
func (m *StreamingMedianMetric) Name() string { return m.name }

// ShortName implements Interface.
func (m *StreamingMedianMetric) ShortName() string { return m.shortName }

// MetricType implements Interface.
func (m *StreamingMedianMetric) MetricType() string { return m.metricType }

// PrettyPrint implements Interface.
func (m *StreamingMedianMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", value)
	}
	return m.pPrintFn(value)
}

// Update feeds a new value to the metric.
func (m *StreamingMedianMetric) Update(x float64) {
	if m.samples == nil {
		m.samples = make([]float64, 0, min(m.maxNumSamples, 1024))
		m.samplesSeen = 0
		if m.rng == nil {
			m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	m.samplesSeen++

	// Simple case: we have space to simply store the new sampled x.
	if len(m.samples) < m.maxNumSamples {
		m.samples = append(m.samples, x)
		return
	}

	// We must decide whether to keep x:
	if m.rng.Float64() >= float64(m.maxNumSamples)/float64(m.samplesSeen) {
		return
	}
	// We replace the new sampled x in a random position.
	m.samples[m.rng.IntN(m.maxNumSamples)] = x
}

// NumSamples returns the number of values seen since the last Reset.
func (m *StreamingMedianMetric) NumSamples() int { return m.samplesSeen }

// Value implements Interface. It returns 0 if no values were seen.
func (m *StreamingMedianMetric) Value() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	slices.Sort(m.samples)
	return m.samples[len(m.samples)/2]
}

// Reset implements Interface.
func (m *StreamingMedianMetric) Reset() {
	m.samples = nil
	m.samplesSeen = 0
}
