// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"time"
)

// FormatDuration prints a train step duration with 2 decimal places in the largest unit below it,
// e.g. "12.35ms" or "1.50s". Durations of a minute or more are rounded to the second, e.g. "1m30s".
func FormatDuration(d time.Duration) string {
	units := []struct {
		unit time.Duration
		name string
	}{{time.Second, "s"}, {time.Millisecond, "ms"}, {time.Microsecond, "µs"}}
	if d >= time.Minute || d <= -time.Minute {
		return d.Round(time.Second).String()
	}
	abs := d.Abs()
	for _, u := range units {
		if abs >= u.unit {
			return fmt.Sprintf("%.2f%s", float64(d)/float64(u.unit), u.name)
		}
	}
	return fmt.Sprintf("%dns", d.Nanoseconds())
}
