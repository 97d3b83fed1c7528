package vsync

import "sync"

// NamedLock hands out at most one exclusive hold per name. Acquire on a name
// that is already held fails instead of blocking, which is how a second
// publish on a live stream key gets rejected as a conflict.
type NamedLock struct {
	l     sync.Mutex
	names map[string]struct{}
}

func NewNamedLock() *NamedLock {
	return &NamedLock{
		names: make(map[string]struct{}),
	}
}

func (nl *NamedLock) Acquire(name string) bool {
	nl.l.Lock()
	defer nl.l.Unlock()
	if _, held := nl.names[name]; held {
		return false
	}
	nl.names[name] = struct{}{}
	return true
}

func (nl *NamedLock) Release(name string) {
	nl.l.Lock()
	defer nl.l.Unlock()
	delete(nl.names, name)
}

func (nl *NamedLock) Held(name string) bool {
	nl.l.Lock()
	defer nl.l.Unlock()
	_, held := nl.names[name]
	return held
}
