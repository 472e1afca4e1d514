// Package events is the in-process fulfillment event hook. State
// transitions publish here so notification, leaderboard and similar
// collaborators can react without the core depending on them.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

// Handler receives one event. It runs on its own goroutine; panics are
// recovered and logged, and a slow handler delays nobody.
type Handler func(ctx context.Context, event domain.Event)

type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	wg   sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers fn for the named event. The wildcard "*" receives
// every event, which is how the outbound sinks attach.
func (b *Bus) Subscribe(name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], fn)
}

// Publish delivers the event to every matching subscriber, best-effort
// and out-of-band. It never blocks on subscriber behavior and never
// fails: the state transition that produced the event is already
// committed and cannot be rolled back from here.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	handlers := append(append([]Handler{}, b.subs[event.Name]...), b.subs["*"]...)
	b.mu.RUnlock()

	// Detach from the caller's request context so an ending request does
	// not cancel in-flight notification work.
	ctx = context.WithoutCancel(ctx)
	for _, fn := range handlers {
		b.wg.Add(1)
		go func(fn Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "event subscriber panicked", "event", event.Name, "panic", r)
				}
			}()
			fn(ctx, event)
		}(fn)
	}
}

// Wait blocks until all in-flight deliveries finish. Tests and shutdown
// use it; production code never has to.
func (b *Bus) Wait() {
	b.wg.Wait()
}
