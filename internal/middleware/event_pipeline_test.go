package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	domrepo "AlgoArena/internal/domain/repository"
)

type fakeSink struct {
	mu     sync.Mutex
	events []*models.Event
	fail   bool
}

func (f *fakeSink) Publish(_ context.Context, e *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestPipelineDeliversBufferedEvents(t *testing.T) {
	sink := &fakeSink{}
	p := NewEventPipeline(sink, domrepo.NopMetrics{})
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), &models.Event{Type: models.EventTickSnapshot}))
	}

	assert.Eventually(t, func() bool { return sink.count() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
}

func TestPipelineRejectsInvalidEvent(t *testing.T) {
	p := NewEventPipeline(&fakeSink{}, domrepo.NopMetrics{})
	assert.Error(t, p.Publish(context.Background(), nil))
	assert.Error(t, p.Publish(context.Background(), &models.Event{}))
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	p := NewEventPipeline(sink, domrepo.NopMetrics{}, WithBufferSize(2))
	// Worker not started, so the buffer fills and the third publish fails fast.
	require.NoError(t, p.Publish(context.Background(), &models.Event{Type: models.EventTickSnapshot}))
	require.NoError(t, p.Publish(context.Background(), &models.Event{Type: models.EventTickSnapshot}))

	done := make(chan error, 1)
	go func() { done <- p.Publish(context.Background(), &models.Event{Type: models.EventTickSnapshot}) }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full buffer")
	}
}

func TestCloseFlushesBacklog(t *testing.T) {
	sink := &fakeSink{}
	p := NewEventPipeline(sink, domrepo.NopMetrics{})
	require.NoError(t, p.Publish(context.Background(), &models.Event{Type: models.EventAgentHalted}))
	p.Start(context.Background())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, sink.count())
}
