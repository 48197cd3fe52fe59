package background

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []models.EmailMessage
	err     error
	release chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, msg models.EmailMessage) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// syncBuffer guards the log buffer; workers and the failure logger write concurrently
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func lockedEmail(to string) models.EmailMessage {
	return models.EmailMessage{To: to, Subject: "Account Locked", Kind: "account_locked"}
}

func TestNotificationDispatcher_DeliversAndRunsHook(t *testing.T) {
	sender := &fakeSender{}
	d := NewNotificationDispatcher(sender, DispatcherConfig{Workers: 2, QueueSize: 10, SendTimeout: time.Second}, discardLogger())
	d.Start()

	var hookCalls int
	var mu sync.Mutex
	hook := func(ctx context.Context) error {
		mu.Lock()
		hookCalls++
		mu.Unlock()
		return nil
	}

	assert.True(t, d.Enqueue(lockedEmail("a@example.com"), hook))
	assert.True(t, d.Enqueue(lockedEmail("b@example.com"), nil))

	d.Stop()

	assert.Equal(t, 2, sender.count())
	mu.Lock()
	assert.Equal(t, 1, hookCalls)
	mu.Unlock()
}

func TestNotificationDispatcher_SendFailureSkipsHookAndIsLogged(t *testing.T) {
	sender := &fakeSender{err: errors.New("ses throttled")}
	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	d := NewNotificationDispatcher(sender, DispatcherConfig{Workers: 1, QueueSize: 4}, logger)
	d.Start()

	hookCalled := false
	d.Enqueue(lockedEmail("owner@example.com"), func(ctx context.Context) error {
		hookCalled = true
		return nil
	})
	d.Stop()

	assert.False(t, hookCalled)
	assert.Contains(t, logs.String(), "notification delivery failed")
	assert.Contains(t, logs.String(), "ses throttled")
	assert.NotContains(t, logs.String(), "owner@example.com")
}

func TestNotificationDispatcher_HookFailureIsLogged(t *testing.T) {
	logs := &syncBuffer{}
	d := NewNotificationDispatcher(&fakeSender{}, DispatcherConfig{Workers: 1, QueueSize: 4}, slog.New(slog.NewJSONHandler(logs, nil)))
	d.Start()

	d.Enqueue(lockedEmail("owner@example.com"), func(ctx context.Context) error {
		return errors.New("update failed")
	})
	d.Stop()

	assert.Contains(t, logs.String(), `"stage":"after_send"`)
}

func TestNotificationDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	sender := &fakeSender{release: make(chan struct{})}
	d := NewNotificationDispatcher(sender, DispatcherConfig{Workers: 1, QueueSize: 1}, discardLogger())
	d.Start()

	// First job is picked up by the worker and parks in Send; second fills the queue
	require.True(t, d.Enqueue(lockedEmail("1@example.com"), nil))
	require.Eventually(t, func() bool { return len(d.jobs) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Enqueue(lockedEmail("2@example.com"), nil))

	done := make(chan bool)
	go func() { done <- d.Enqueue(lockedEmail("3@example.com"), nil) }()

	select {
	case accepted := <-done:
		assert.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(sender.release)
	d.Stop()
	assert.Equal(t, 2, sender.count())
}

func TestNotificationDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewNotificationDispatcher(&fakeSender{}, DispatcherConfig{}, discardLogger())
	d.Start()
	d.Stop()
	d.Stop()

	assert.False(t, d.Enqueue(lockedEmail("late@example.com"), nil))
}
