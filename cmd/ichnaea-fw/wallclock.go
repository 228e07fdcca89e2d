package main

import (
	"time"

	"ichnaea/x/timex"
)

// wallClock is the hal.Clock for this binary: real monotonic time,
// rebased to zero at construction so every duration the core reasons
// about starts from boot.
type wallClock struct {
	startMs int64
}

func newWallClock() *wallClock { return &wallClock{startMs: timex.NowMs()} }

func (c *wallClock) Millis() uint64 { return uint64(timex.NowMs() - c.startMs) }

func (c *wallClock) Micros() uint64 { return c.Millis() * 1000 }

func (c *wallClock) DelayMicros(n uint32) { time.Sleep(time.Duration(n) * time.Microsecond) }
