package realtime

import (
	"context"
	"log"
	"sync"
)

const memoryBuffer = 64

type memorySub struct {
	ch   chan Event
	done <-chan struct{}
}

// MemoryFeed fans events out to in-process subscribers over buffered channels.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string][]*memorySub)}
}

func (f *MemoryFeed) Publish(_ context.Context, ev Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs[ev.Table] {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			log.Printf("[warn] realtime: subscriber buffer full on %s, event dropped", ev.Table)
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, table string, h Handler) error {
	sub := &memorySub{ch: make(chan Event, memoryBuffer), done: ctx.Done()}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return context.Canceled
	}
	f.subs[table] = append(f.subs[table], sub)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.remove(table, sub)
		for {
			select {
			case ev := <-sub.ch:
				h(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (f *MemoryFeed) remove(table string, target *memorySub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[table]
	for i, sub := range subs {
		if sub == target {
			f.subs[table] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Close stops accepting subscriptions. Running subscribers end with their contexts.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
