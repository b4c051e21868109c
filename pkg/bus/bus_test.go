package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		valid bool
	}{
		{"card created", TopicCardCreated, true},
		{"card updated", TopicCardUpdated, true},
		{"card deleted", TopicCardDeleted, true},
		{"connection created", TopicConnectionCreated, true},
		{"connection suggested", TopicConnectionSuggested, true},
		{"progress update", TopicProgressUpdate, true},
		{"operation complete", TopicOperationComplete, true},
		{"operation failed", TopicOperationFailed, true},
		{"operation cancelled", TopicOperationCancelled, true},
		{"wildcard is not a published topic", TopicAll, false},
		{"unknown", Topic("card_exploded"), false},
		{"empty", Topic(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.topic.IsValid())
		})
	}
}

func TestBus_OrderedDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	const n = 100
	got := make([]string, 0, n)
	done := make(chan struct{})

	b.Subscribe(TopicCardCreated, "collector", func(_ context.Context, ev Event) {
		p := ev.Payload.(CardCreatedPayload)
		got = append(got, p.CardID)
		if len(got) == n {
			close(done)
		}
	})

	for i := 0; i < n; i++ {
		b.Emit(TopicCardCreated, CardCreatedPayload{CardID: cardID(i), CanvasID: "canvas-1"})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for delivery, got %d of %d", len(got), n)
	}

	for i, id := range got {
		require.Equal(t, cardID(i), id, "events must arrive in emission order")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var created, deleted atomic.Int64
	b.Subscribe(TopicCardCreated, "created-only", func(_ context.Context, _ Event) {
		created.Add(1)
	})
	b.Subscribe(TopicCardDeleted, "deleted-only", func(_ context.Context, _ Event) {
		deleted.Add(1)
	})

	b.Emit(TopicCardCreated, CardCreatedPayload{CardID: "c1"})
	b.Emit(TopicCardCreated, CardCreatedPayload{CardID: "c2"})
	b.Emit(TopicCardDeleted, CardDeletedPayload{CardID: "c1"})

	b.Close()

	assert.Equal(t, int64(2), created.Load())
	assert.Equal(t, int64(1), deleted.Load())
}

func TestBus_TopicAllReceivesEverything(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var mu sync.Mutex
	var topics []Topic
	b.Subscribe(TopicAll, "firehose", func(_ context.Context, ev Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	})

	b.Emit(TopicCardCreated, CardCreatedPayload{CardID: "c1"})
	b.Emit(TopicProgressUpdate, ProgressUpdatePayload{OperationID: "op-1", Progress: 0.5})
	b.Emit(TopicOperationComplete, OperationCompletePayload{OperationID: "op-1"})

	b.Close()

	require.Equal(t, []Topic{TopicCardCreated, TopicProgressUpdate, TopicOperationComplete}, topics,
		"wildcard subscriber must observe cross-topic emission order")
}

func TestBus_MultipleSubscribersEachGetACopy(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var a, c atomic.Int64
	b.Subscribe(TopicConnectionCreated, "a", func(_ context.Context, _ Event) { a.Add(1) })
	b.Subscribe(TopicConnectionCreated, "c", func(_ context.Context, _ Event) { c.Add(1) })

	score := 0.87
	b.Emit(TopicConnectionCreated, ConnectionCreatedPayload{
		SourceID:        "c1",
		TargetID:        "c2",
		ConnectionType:  "related",
		SimilarityScore: &score,
	})

	b.Close()

	assert.Equal(t, int64(1), a.Load())
	assert.Equal(t, int64(1), c.Load())
}

func TestBus_SlowSubscriberDoesNotBlockEmit(t *testing.T) {
	b := New(nil)

	release := make(chan struct{})
	b.Subscribe(TopicProgressUpdate, "slow", func(_ context.Context, _ Event) {
		<-release
	})

	// Flood well past the buffer size. Emit must return without waiting
	// on the stuck handler; overflow is dropped, not queued.
	start := time.Now()
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Emit(TopicProgressUpdate, ProgressUpdatePayload{OperationID: "op-1", Progress: float64(i)})
	}
	require.Less(t, time.Since(start), 2*time.Second, "Emit must never block on a slow subscriber")

	close(release)
	b.Close()
}

func TestBus_HandlerPanicDoesNotKillSubscriber(t *testing.T) {
	b := New(nil)

	var handled atomic.Int64
	b.Subscribe(TopicCardUpdated, "flaky", func(_ context.Context, ev Event) {
		p := ev.Payload.(CardUpdatedPayload)
		if p.CardID == "boom" {
			panic("handler exploded")
		}
		handled.Add(1)
	})

	b.Emit(TopicCardUpdated, CardUpdatedPayload{CardID: "boom"})
	b.Emit(TopicCardUpdated, CardUpdatedPayload{CardID: "fine"})

	b.Close()

	assert.Equal(t, int64(1), handled.Load(), "events after a panic must still be delivered")
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count atomic.Int64
	seen := make(chan struct{}, 1)
	sub := b.Subscribe(TopicCardDeleted, "temp", func(_ context.Context, _ Event) {
		count.Add(1)
		seen <- struct{}{}
	})

	b.Emit(TopicCardDeleted, CardDeletedPayload{CardID: "c1"})
	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("first event never delivered")
	}

	sub.Unsubscribe()
	b.Emit(TopicCardDeleted, CardDeletedPayload{CardID: "c2"})

	// The second emit has nowhere to go; give any stray delivery a moment.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())
}

func TestBus_CloseDrainsQueuedEvents(t *testing.T) {
	b := New(nil)

	var handled atomic.Int64
	b.Subscribe(TopicOperationFailed, "counter", func(_ context.Context, _ Event) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
	})

	const n = 50
	for i := 0; i < n; i++ {
		b.Emit(TopicOperationFailed, OperationFailedPayload{OperationID: "op", Error: "x"})
	}

	b.Close()

	assert.Equal(t, int64(n), handled.Load(), "Close must wait for queued events")
}

func TestBus_EmitAfterCloseIsDropped(t *testing.T) {
	b := New(nil)

	var handled atomic.Int64
	b.Subscribe(TopicOperationCancelled, "counter", func(_ context.Context, _ Event) {
		handled.Add(1)
	})

	b.Close()

	assert.NotPanics(t, func() {
		b.Emit(TopicOperationCancelled, OperationCancelledPayload{OperationID: "op"})
	})
	assert.Equal(t, int64(0), handled.Load())
}

func TestBus_AsyncSubscriber(t *testing.T) {
	b := New(nil)

	const n = 20
	var handled atomic.Int64
	b.SubscribeAsync(TopicProgressUpdate, "async", func(_ context.Context, _ Event) {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
	})

	for i := 0; i < n; i++ {
		b.Emit(TopicProgressUpdate, ProgressUpdatePayload{OperationID: "op", Progress: float64(i) / n})
	}

	b.Close()

	assert.Equal(t, int64(n), handled.Load(), "Close must wait for in-flight async handlers")
}

func TestBus_HandlerContextCancelledAfterClose(t *testing.T) {
	b := New(nil)

	ctxCh := make(chan context.Context, 1)
	b.Subscribe(TopicCardCreated, "ctx-probe", func(ctx context.Context, _ Event) {
		ctxCh <- ctx
	})

	b.Emit(TopicCardCreated, CardCreatedPayload{CardID: "c1"})

	var ctx context.Context
	select {
	case ctx = <-ctxCh:
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered")
	}

	require.NoError(t, ctx.Err(), "handler context must be live while the bus is open")
	b.Close()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func cardID(i int) string {
	return "card-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
