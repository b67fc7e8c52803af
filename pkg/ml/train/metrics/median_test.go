package metrics

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingMedian(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 19))
	metric := NewMedianMetric("step_time", "time", "duration", nil).WithSampleSize(10_000).WithRand(rng)
	require.Equal(t, 0.0, metric.Value())

	t.Run("Random 1/r numbers", func(t *testing.T) {
		// Sample from 0.01 < r < 1.0 randomly (so median r is expected to be 0.99/2 = 0.495),
		// and then feed StreamingMedian values of 1/r (so median is expected to be 1/0.495 = 2.0202020...).
		const numExamples = 100_001
		values := make([]float64, 0, numExamples)
		for range numExamples {
			r := rng.Float64()*0.99 + 0.01
			r = 1 / r
			values = append(values, r)
			metric.Update(r)
		}
		median := metric.Value()
		slices.Sort(values)
		want := values[numExamples/2]
		fmt.Printf("\tgot median=%.5g, wanted median=%.5g\n", median, want)
		require.InDelta(t, want, median, 0.1)
		require.Equal(t, numExamples, metric.NumSamples())
	})

	metric = metric.WithSampleSize(100)
	metric.Reset()
	t.Run("Consecutive numbers from 1 to 1000", func(t *testing.T) {
		const numExamples = 1_001
		for ii := range numExamples {
			metric.Update(float64(ii))
		}
		require.InDelta(t, 500.0, metric.Value(), 200)
	})
}
