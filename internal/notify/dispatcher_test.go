package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

type captureSender struct {
	mu      sync.Mutex
	sent    []domain.Notification
	failFor int32
}

func (s *captureSender) Send(_ context.Context, n domain.Notification) error {
	if atomic.LoadInt32(&s.failFor) > 0 {
		atomic.AddInt32(&s.failFor, -1)
		return errors.New("simulated push outage")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *captureSender) delivered() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.sent...)
}

func enqueue(t *testing.T, q Queue, title string) {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), domain.Notification{
		UserID: uuid.New(),
		Title:  title,
		Body:   "body",
	}))
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	queue := NewMemoryQueue()
	sender := &captureSender{}
	enqueue(t, queue, "first")
	enqueue(t, queue, "second")

	d := NewDispatcher(queue, sender, zap.NewNop(), DispatcherConfig{BatchSize: 10, RetryMax: 3})
	require.NoError(t, d.RunOnce(context.Background()))

	delivered := sender.delivered()
	require.Len(t, delivered, 2)
	require.Equal(t, "first", delivered[0].Title)

	remaining, err := queue.LoadPending(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	queue := NewMemoryQueue()
	sender := &captureSender{failFor: 2}
	enqueue(t, queue, "flaky")

	d := NewDispatcher(queue, sender, zap.NewNop(), DispatcherConfig{BatchSize: 10, RetryMax: 5})
	require.NoError(t, d.RunOnce(context.Background()))
	require.Len(t, sender.delivered(), 1)
}

func TestDispatcherKeepsUndeliveredRows(t *testing.T) {
	queue := NewMemoryQueue()
	sender := &captureSender{failFor: 100}
	enqueue(t, queue, "stuck")

	d := NewDispatcher(queue, sender, zap.NewNop(), DispatcherConfig{BatchSize: 10, RetryMax: 2})
	require.Error(t, d.RunOnce(context.Background()))

	remaining, err := queue.LoadPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "undelivered notification stays queued")
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	queue := NewMemoryQueue()
	sender := &captureSender{}
	enqueue(t, queue, "loop")

	d := NewDispatcher(queue, sender, zap.NewNop(), DispatcherConfig{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sender.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
