package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// captureLogger records log messages for assertions.
type captureLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *captureLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *captureLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if m == msg {
			n++
		}
	}
	return n
}

func (l *captureLogger) Debug(msg string, _ ...observability.Field) { l.record(msg) }
func (l *captureLogger) Info(msg string, _ ...observability.Field)  { l.record(msg) }
func (l *captureLogger) Warn(msg string, _ ...observability.Field)  { l.record(msg) }
func (l *captureLogger) Error(msg string, _ ...observability.Field) { l.record(msg) }
func (l *captureLogger) With(...observability.Field) observability.Logger {
	return l
}
func (l *captureLogger) WithContext(context.Context) observability.Logger {
	return l
}
func (l *captureLogger) Sync() error { return nil }

func TestNewEvent(t *testing.T) {
	t.Parallel()

	event := NewEvent("alice", "orders", OutcomeDenied, "expired token", "corr-1")
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "alice", event.Subject)
	assert.Equal(t, "orders", event.Service)
	assert.Equal(t, OutcomeDenied, event.Outcome)
	assert.Equal(t, "expired token", event.Reason)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, time.UTC, event.Timestamp.Location())

	other := NewEvent("alice", "orders", OutcomeDenied, "expired token", "corr-1")
	assert.NotEqual(t, event.ID, other.ID)
}

func TestLogRecorder_RecordsAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}
	recorder := NewLogRecorder(logger, 8)

	for i := 0; i < 5; i++ {
		recorder.Record(NewEvent("alice", "orders", OutcomeSuccess, "", "corr"))
	}
	recorder.Close()

	assert.Equal(t, 5, logger.count("audit"))
}

func TestLogRecorder_DropsWhenFull(t *testing.T) {
	t.Parallel()

	// A tiny buffer plus a burst larger than it forces drops; the recorder
	// must not block regardless.
	logger := &captureLogger{}
	recorder := NewLogRecorder(logger, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			recorder.Record(NewEvent("alice", "orders", OutcomeSuccess, "", "corr"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}
	recorder.Close()
}

func TestLogRecorder_RecordAfterCloseIsSafe(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}
	recorder := NewLogRecorder(logger, 8)
	recorder.Record(NewEvent("alice", "orders", OutcomeSuccess, "", "corr"))
	recorder.Close()

	require.NotPanics(t, func() {
		recorder.Record(NewEvent("alice", "orders", OutcomeSuccess, "", "corr"))
	})
	require.NotPanics(t, recorder.Close)

	// Only the pre-close event reached the logger.
	assert.Equal(t, 1, logger.count("audit"))
}

func TestLogRecorder_ConcurrentRecordAndClose(t *testing.T) {
	t.Parallel()

	recorder := NewLogRecorder(&captureLogger{}, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				recorder.Record(NewEvent("alice", "orders", OutcomeSuccess, "", "corr"))
			}
		}()
	}
	recorder.Close()
	wg.Wait()
}

func TestNopRecorder(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		r := NopRecorder()
		r.Record(NewEvent("a", "b", OutcomeError, "", ""))
		r.Close()
	})
}
