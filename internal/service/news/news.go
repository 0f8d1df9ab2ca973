// Package news polls the news collaborator for significance-scored
// headlines. Results are cached so supervision passes never block on the
// upstream, and a static fallback keeps soft triggers testable when no
// upstream is configured.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	"AlgoArena/pkg/cache"
	xhttp "AlgoArena/pkg/http"
	"AlgoArena/pkg/logger"
)

const cacheKey = "news:latest"

// Config holds the poller settings.
type Config struct {
	URL          string // empty enables the static fallback feed
	PollInterval time.Duration
	CacheTTL     time.Duration
	Freshness    time.Duration // how old a headline may be and still score
}

// Service polls headlines on its own cadence and serves the latest batch
// from memory. It implements the NewsSource interface.
type Service struct {
	cfg    Config
	client *xhttp.Client
	cache  cache.Service
	log    *logger.Logger

	mu     sync.RWMutex
	latest []models.NewsItem

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, c cache.Service, log *logger.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = 10 * time.Minute
	}
	return &Service{
		cfg:    cfg,
		client: xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		cache:  c,
		log:    log,
	}
}

// Start launches the polling loop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	s.refresh(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	items, err := s.fetch(ctx)
	if err != nil {
		s.log.Warn("news fetch failed, keeping cached batch", logger.Error(err))
		items = s.cached(ctx)
	}
	if items == nil {
		items = fallbackHeadlines()
	}

	s.mu.Lock()
	s.latest = items
	s.mu.Unlock()

	if raw, err := json.Marshal(items); err == nil {
		_ = s.cache.Set(ctx, cacheKey, string(raw), s.cfg.CacheTTL)
	}
}

// fetch pulls one batch from the upstream. An empty URL means no upstream.
func (s *Service) fetch(ctx context.Context) ([]models.NewsItem, error) {
	if s.cfg.URL == "" {
		return nil, nil
	}
	var items []models.NewsItem
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    s.cfg.URL,
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("news fetch: %w", err)
	}
	return items, nil
}

func (s *Service) cached(ctx context.Context) []models.NewsItem {
	var raw string
	if err := s.cache.Get(ctx, cacheKey, &raw); err != nil {
		return nil
	}
	var items []models.NewsItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

// Latest returns the most recent headline batch.
func (s *Service) Latest() []models.NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.NewsItem(nil), s.latest...)
}

// LatestScore returns the significance of the freshest headline still inside
// the freshness horizon, or 0 when nothing recent is known.
func (s *Service) LatestScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-s.cfg.Freshness)
	var best float64
	var found bool
	for _, item := range s.latest {
		if item.Timestamp.IsZero() || item.Timestamp.Before(cutoff) {
			continue
		}
		if !found || item.Significance > best {
			best = item.Significance
			found = true
		}
	}
	return best
}

// Silent is the news source used when the feature is disabled: no
// headlines, score always zero, so the news trigger never fires.
type Silent struct{}

func (Silent) Latest() []models.NewsItem { return nil }
func (Silent) LatestScore() float64      { return 0 }

// fallbackHeadlines is the static batch served when no upstream exists. The
// scores sit below the soft band so no trigger fires on synthetic news.
func fallbackHeadlines() []models.NewsItem {
	now := time.Now()
	return []models.NewsItem{
		{Title: "Markets quiet ahead of macro data", Source: "fallback", Sentiment: 0.0, Significance: 0.1, Timestamp: now},
		{Title: "Funding rates near neutral across majors", Source: "fallback", Sentiment: 0.1, Significance: 0.05, Timestamp: now},
	}
}
