package vsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamedLockConflict(t *testing.T) {
	nl := NewNamedLock()

	assert.True(t, nl.Acquire("a"))
	assert.False(t, nl.Acquire("a"))
	assert.True(t, nl.Acquire("b"))
	assert.True(t, nl.Held("a"))

	nl.Release("a")
	assert.False(t, nl.Held("a"))
	assert.True(t, nl.Acquire("a"))
	assert.True(t, nl.Held("b"))
}

func TestNamedLockSingleWinner(t *testing.T) {
	nl := NewNamedLock()

	var wg sync.WaitGroup
	won := int32(0)
	var l sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if nl.Acquire("contended") {
				l.Lock()
				won++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won)
}

func TestSemaphoreTryLock(t *testing.T) {
	s := NewSemaphore(1, 0)

	assert.True(t, s.TryLock(time.Millisecond))
	assert.False(t, s.TryLock(time.Millisecond))
	s.Unlock()
	assert.True(t, s.TryLock(time.Millisecond))
	s.Unlock()
}
