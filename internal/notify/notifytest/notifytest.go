// Package notifytest provides a recording notify.UINotifier for tests.
package notifytest

import (
	"sync"

	"github.com/yungbote/masterctl/internal/notify"
)

type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func New() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) CountOf(t notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
