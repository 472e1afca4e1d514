package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

func TestPublishReachesNamedAndWildcardSubscribers(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	counts := map[string]int{}
	record := func(key string) Handler {
		return func(_ context.Context, _ domain.Event) {
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}
	}
	bus.Subscribe(domain.EventOrderCreated, record("named"))
	bus.Subscribe(domain.EventPaymentVerified, record("other"))
	bus.Subscribe("*", record("wildcard"))

	bus.Publish(context.Background(), domain.Event{Name: domain.EventOrderCreated, At: time.Now()})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["named"])
	assert.Equal(t, 1, counts["wildcard"])
	assert.Zero(t, counts["other"])
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var delivered int
	bus.Subscribe("*", func(_ context.Context, _ domain.Event) {
		panic("subscriber bug")
	})
	bus.Subscribe("*", func(_ context.Context, _ domain.Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), domain.Event{Name: domain.EventDeliveryCompleted, At: time.Now()})
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, delivered)
}

func TestPublishSurvivesCancelledRequestContext(t *testing.T) {
	bus := NewBus()
	got := make(chan struct{})
	bus.Subscribe(domain.EventOrderDelivered, func(ctx context.Context, _ domain.Event) {
		assert.NoError(t, ctx.Err())
		close(got)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, domain.Event{Name: domain.EventOrderDelivered, At: time.Now()})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("subscriber never ran")
	}
	bus.Wait()
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Publish(context.Background(), domain.Event{Name: domain.EventPaymentFailed, At: time.Now()})
	bus.Wait()
}
