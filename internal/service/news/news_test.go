package news

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlgoArena/internal/domain/models"
	"AlgoArena/pkg/cache"
	"AlgoArena/pkg/logger"
)

func newTestService(url string) *Service {
	return New(Config{
		URL:          url,
		PollInterval: time.Minute,
		CacheTTL:     time.Minute,
		Freshness:    10 * time.Minute,
	}, cache.NewMemoryCache(), logger.Nop())
}

func TestRefreshFetchesHeadlines(t *testing.T) {
	items := []models.NewsItem{
		{Title: "Exchange halts withdrawals", Significance: 0.9, Timestamp: time.Now()},
		{Title: "Minor protocol upgrade", Significance: 0.2, Timestamp: time.Now()},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	s := newTestService(srv.URL)
	s.refresh(context.Background())

	got := s.Latest()
	require.Len(t, got, 2)
	assert.Equal(t, "Exchange halts withdrawals", got[0].Title)
	assert.InDelta(t, 0.9, s.LatestScore(), 1e-9)
}

func TestStaleHeadlinesDoNotScore(t *testing.T) {
	s := newTestService("")
	s.mu.Lock()
	s.latest = []models.NewsItem{
		{Title: "Old crash", Significance: 0.95, Timestamp: time.Now().Add(-time.Hour)},
	}
	s.mu.Unlock()

	assert.Zero(t, s.LatestScore())
}

func TestFallbackWhenNoUpstream(t *testing.T) {
	s := newTestService("")
	s.refresh(context.Background())

	require.NotEmpty(t, s.Latest())
	// Fallback scores stay below the soft trigger band.
	assert.Less(t, s.LatestScore(), 0.3)
}

func TestFetchFailureFallsBackToCache(t *testing.T) {
	var fail bool
	items := []models.NewsItem{{Title: "Cached story", Significance: 0.4, Timestamp: time.Now()}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	s := newTestService(srv.URL)
	s.refresh(context.Background())
	require.Len(t, s.Latest(), 1)

	fail = true
	s.refresh(context.Background())
	got := s.Latest()
	require.Len(t, got, 1)
	assert.Equal(t, "Cached story", got[0].Title)
}
