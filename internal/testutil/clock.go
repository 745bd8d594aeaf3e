package testutil

import "sync"

// StepClock is a thread-safe monotonic counter for step sequence numbers.
//
// The orchestrator stamps every recorded outcome with a value from a
// fresh StepClock, so two runs of the same scenario produce identical
// sequences. Reset exists so a clock can be reused across test cases.
type StepClock struct {
	mu  sync.Mutex
	seq int
}

// NewStepClock creates a clock starting at 0. The first Next returns 1.
func NewStepClock() *StepClock {
	return &StepClock{}
}

// Next increments and returns the next sequence number.
func (c *StepClock) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the latest issued sequence number.
func (c *StepClock) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
