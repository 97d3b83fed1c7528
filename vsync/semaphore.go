package vsync

import (
	"sync/atomic"
	"time"
)

// Semaphore bounds both the number of holders and the number of waiters.
// TryLock fails fast once every waiter slot is taken instead of queueing
// unboundedly behind a stuck handler.
type Semaphore struct {
	c     chan struct{}
	slots int32
}

func NewSemaphore(max uint, maxWaiters uint) *Semaphore {
	return &Semaphore{
		c:     make(chan struct{}, max),
		slots: int32(max + maxWaiters),
	}
}

func (s *Semaphore) Lock() {
	atomic.AddInt32(&s.slots, -1)
	s.c <- struct{}{}
}

func (s *Semaphore) Unlock() {
	atomic.AddInt32(&s.slots, 1)
	<-s.c
}

func (s *Semaphore) TryLock(timeout time.Duration) bool {
	if atomic.AddInt32(&s.slots, -1) < 0 {
		atomic.AddInt32(&s.slots, 1)
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.c <- struct{}{}:
		return true
	case <-t.C:
		atomic.AddInt32(&s.slots, 1)
		return false
	}
}
