package owner

import (
	"sync"
)

// Context holds the signed-in owner. An empty ID means signed out.
type Context struct {
	mu       sync.RWMutex
	ownerID  string
	watchers map[int]chan string
	nextID   int
}

// NewContext creates a signed-out Context
func NewContext() *Context {
	return &Context{
		watchers: make(map[int]chan string),
	}
}

// Get returns the current owner ID
func (oc *Context) Get() string {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return oc.ownerID
}

// SignedIn reports whether an owner is set
func (oc *Context) SignedIn() bool {
	return oc.Get() != ""
}

// Set signs ownerID in, or signs out when it is empty. Watchers are told
// only about actual changes.
func (oc *Context) Set(ownerID string) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.ownerID == ownerID {
		return
	}
	oc.ownerID = ownerID
	for _, ch := range oc.watchers {
		offer(ch, ownerID)
	}
}

// Watch returns a channel carrying the current owner now and after every
// change. A slow reader only sees the latest owner. Call cancel to stop;
// it closes the channel.
func (oc *Context) Watch() (<-chan string, func()) {
	ch := make(chan string, 1)

	oc.mu.Lock()
	id := oc.nextID
	oc.nextID++
	oc.watchers[id] = ch
	offer(ch, oc.ownerID)
	oc.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			oc.mu.Lock()
			delete(oc.watchers, id)
			close(ch)
			oc.mu.Unlock()
		})
	}
	return ch, cancel
}

// offer replaces any unread value. Caller holds oc.mu.
func offer(ch chan string, v string) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
