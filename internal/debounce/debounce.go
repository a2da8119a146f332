// Package debounce polls a digital input on a fixed period and reports an
// edge only when the sampled level differs from the last confirmed level.
// Per spec.md §4.1, no multi-sample debounce beyond a single-period
// comparison is required — contrast with the firmware's debouncr-backed
// DebouncerLevelExt (peripheral-controller/firmware/src/io_helpers/debounce.rs),
// which accumulates several samples before confirming an edge; this task
// trades that extra filtering for the simpler model spec.md calls for.
package debounce

import (
	"context"
	"time"

	"github.com/hoshiguma/safetycore/internal/checked"
	"github.com/hoshiguma/safetycore/internal/gpio"
)

// Task polls pin every period and invokes onChange whenever the sampled
// level differs from the previously confirmed level, including the first
// sample taken. It runs until ctx is cancelled.
func Task(ctx context.Context, pin gpio.Pin, period time.Duration, onChange func(level bool)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last checked.Update[bool]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := pin.Read()
			if last.Store(level) {
				onChange(level)
			}
		}
	}
}
