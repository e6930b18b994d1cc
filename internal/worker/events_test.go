package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	queue     []any // kafka.Message or error
	committed []int64
	drained   chan struct{}
}

func newFetcher(items ...any) *scriptedFetcher {
	return &scriptedFetcher{queue: items, drained: make(chan struct{})}
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	if err, ok := next.(error); ok {
		return kafka.Message{}, err
	}
	return next.(kafka.Message), nil
}

func (f *scriptedFetcher) Commit(_ context.Context, m kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, m.Offset)
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []model.EventPayload
}

func (r *recordingDispatcher) DeliverToSubscribers(eventType string, p model.EventPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.EventType = eventType
	r.events = append(r.events, p)
}

func msg(offset int64, value string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(value)}
}

func TestEventsKafka_Run(t *testing.T) {
	fetcher := newFetcher(
		msg(1, `{"event_type":"proposal.accepted","timestamp":"2024-03-01T12:00:00Z","entity_id":"p-1","actor":"user:9","data":{"total":99}}`),
		msg(2, `not json`),
		errors.New("broker unavailable"),
		msg(3, `{"entity_id":"p-2"}`),
		msg(4, `{"event_type":"invoice.sent","entity_id":"inv-3"}`),
	)
	disp := &recordingDispatcher{}

	w := NewEventsKafka(fetcher, disp, zaptest.NewLogger(t))
	w.RetryWait = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-fetcher.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain the topic")
	}
	cancel()
	require.NoError(t, <-done)

	require.Len(t, disp.events, 2)
	first := disp.events[0]
	assert.Equal(t, "proposal.accepted", first.EventType)
	assert.Equal(t, "p-1", first.EntityID)
	assert.Equal(t, "user:9", first.Actor)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), first.Timestamp.UTC())
	assert.EqualValues(t, 99, first.Data["total"])
	assert.Equal(t, "invoice.sent", disp.events[1].EventType)

	// poison messages are committed too, so the partition never stalls
	assert.Equal(t, []int64{1, 2, 3, 4}, fetcher.committed)
}
