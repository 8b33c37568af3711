package actorcell

import (
	"sync"

	"github.com/gokit/xid"
)

// Watchers implements a concurrency-safe registry of functions to be
// informed of a cell's lifecycle transitions.
type Watchers struct {
	wl       sync.RWMutex
	watchers map[string]func(interface{})
}

// NewWatchers returns a new instance of Watchers.
func NewWatchers() *Watchers {
	return &Watchers{
		watchers: map[string]func(interface{}){},
	}
}

// Inform delivers a giving value to all registered subscribers.
func (w *Watchers) Inform(k interface{}) {
	w.wl.RLock()
	defer w.wl.RUnlock()
	for _, wm := range w.watchers {
		wm(k)
	}
}

// Clear removes all registered subscribers from watcher.
func (w *Watchers) Clear() {
	w.wl.Lock()
	defer w.wl.Unlock()
	w.watchers = map[string]func(interface{}){}
}

// Add registers giving function into the watch list, returning a
// Subscription used to remove it.
func (w *Watchers) Add(fn func(interface{})) Subscription {
	key := xid.New().String()
	w.wl.Lock()
	w.watchers[key] = fn
	w.wl.Unlock()
	return &watcherSub{key: key, w: w}
}

func (w *Watchers) remove(key string) {
	w.wl.Lock()
	defer w.wl.Unlock()
	delete(w.watchers, key)
}

type watcherSub struct {
	key string
	w   *Watchers
}

// Stop removes the associated watch function from its registry.
func (ws *watcherSub) Stop() {
	ws.w.remove(ws.key)
}
