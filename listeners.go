package reactor

import (
	"sync"
)

// listenerList is an ordered set of callbacks. Removal is by the func
// returned from add. Emit calls a snapshot, so listeners may add or remove
// listeners, including themselves.
type listenerList struct {
	entries []listenerEntry
	mu      sync.Mutex
	nextID  uint64
}

type listenerEntry struct {
	fn func()
	id uint64
}

func (x *listenerList) add(fn func()) (remove func()) {
	if fn == nil {
		return func() {}
	}
	x.mu.Lock()
	x.nextID++
	id := x.nextID
	x.entries = append(x.entries, listenerEntry{fn: fn, id: id})
	x.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			x.mu.Lock()
			defer x.mu.Unlock()
			for i, e := range x.entries {
				if e.id == id {
					x.entries = append(x.entries[:i:i], x.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (x *listenerList) emit() {
	x.mu.Lock()
	if len(x.entries) == 0 {
		x.mu.Unlock()
		return
	}
	snapshot := make([]listenerEntry, len(x.entries))
	copy(snapshot, x.entries)
	x.mu.Unlock()
	for _, e := range snapshot {
		e.fn()
	}
}
