package revlog

import (
	"context"
	"sync"
)

const fanoutBuffer = 64

// Fanout hands every published entry to each registered subscriber, in
// publish order. A slow subscriber slows publishers down; one that went away
// is skipped.
type Fanout struct {
	mu     sync.Mutex
	subs   map[*fanoutSub]struct{}
	closed bool
}

// A sub's ch is closed only by whoever removes it from subs, under mu.
type fanoutSub struct {
	ch       chan Entry
	done     chan struct{}
	doneOnce sync.Once
}

func (sub *fanoutSub) stop() {
	sub.doneOnce.Do(func() {
		close(sub.done)
	})
}

// Subscribe registers a subscriber until ctx ends or the returned func is
// called, after which the channel is closed. After Close the channel comes
// back already closed.
func (f *Fanout) Subscribe(ctx context.Context) (<-chan Entry, func()) {
	sub := &fanoutSub{
		ch:   make(chan Entry, fanoutBuffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.stop()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if f.subs == nil {
		f.subs = map[*fanoutSub]struct{}{}
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	unsubscribe := func() {
		// Wakes a Publish blocked on this sub so mu frees up.
		sub.stop()
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[sub]; ok {
			delete(f.subs, sub)
			close(sub.ch)
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return sub.ch, unsubscribe
}

func (f *Fanout) Publish(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		}
	}
}

// Close ends every subscription. Publish is a no-op afterwards.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.stop()
		close(sub.ch)
	}
	f.subs = nil
	f.closed = true
}
