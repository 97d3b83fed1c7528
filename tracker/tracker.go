package tracker

import "sync"

// Tracker is the set of stream keys currently publishing. Publish and
// unpublish callbacks for different sessions run on different goroutines, so
// every mutation goes through the mutex.
type Tracker struct {
	l    sync.Mutex
	live map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		live: make(map[string]struct{}),
	}
}

func (tr *Tracker) MarkLive(streamKey string) {
	tr.l.Lock()
	defer tr.l.Unlock()
	tr.live[streamKey] = struct{}{}
}

// MarkEnded is a no-op for keys that were never live.
func (tr *Tracker) MarkEnded(streamKey string) {
	tr.l.Lock()
	defer tr.l.Unlock()
	delete(tr.live, streamKey)
}

func (tr *Tracker) IsLive(streamKey string) bool {
	tr.l.Lock()
	defer tr.l.Unlock()
	_, ok := tr.live[streamKey]
	return ok
}

func (tr *Tracker) ListLive() []string {
	tr.l.Lock()
	defer tr.l.Unlock()
	result := make([]string, 0, len(tr.live))
	for key := range tr.live {
		result = append(result, key)
	}
	return result
}
