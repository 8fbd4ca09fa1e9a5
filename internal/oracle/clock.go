package oracle

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current unix time in seconds
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// ManualClock is a clock advanced explicitly, used for replay and tests
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a clock reading start
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Set moves the clock to t
func (c *ManualClock) Set(t int64) {
	c.now.Store(t)
}

// Advance moves the clock forward by d seconds
func (c *ManualClock) Advance(d int64) int64 {
	return c.now.Add(d)
}
