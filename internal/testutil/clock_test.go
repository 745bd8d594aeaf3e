package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepClock(t *testing.T) {
	c := NewStepClock()
	assert.Equal(t, 0, c.Current())
	assert.Equal(t, 1, c.Next())
	assert.Equal(t, 2, c.Next())
	assert.Equal(t, 2, c.Current())

	c.Reset()
	assert.Equal(t, 0, c.Current())
	assert.Equal(t, 1, c.Next())
}

func TestStepClockConcurrent(t *testing.T) {
	c := NewStepClock()
	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for v := range seen {
		assert.False(t, unique[v], "sequence numbers must be unique")
		unique[v] = true
	}
	assert.Equal(t, 100, c.Current())
}
