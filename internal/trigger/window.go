package trigger

import (
	"encoding/json"
	"sync"
	"time"
)

// Sample is one timestamped observation in a rolling window.
type Sample struct {
	T int64   `json:"t"` // unix ms
	V float64 `json:"v"`
}

// series is a time-bounded, monotonic rolling buffer.
type series struct {
	MaxAge  time.Duration `json:"max_age"`
	Samples []Sample      `json:"samples"`
}

func (s *series) add(ts time.Time, v float64) {
	ms := ts.UnixMilli()
	// Monotonicity: out-of-order samples are dropped rather than reordered.
	if n := len(s.Samples); n > 0 && ms < s.Samples[n-1].T {
		return
	}
	s.Samples = append(s.Samples, Sample{T: ms, V: v})
	s.prune(ts)
}

func (s *series) prune(now time.Time) {
	cutoff := now.Add(-s.MaxAge).UnixMilli()
	i := 0
	for i < len(s.Samples) && s.Samples[i].T < cutoff {
		i++
	}
	if i > 0 {
		s.Samples = append(s.Samples[:0], s.Samples[i:]...)
	}
}

func (s *series) copySamples() []Sample {
	return append([]Sample(nil), s.Samples...)
}

// Window is the immutable per-agent view the evaluator classifies: recent
// equity samples, true-range samples and volume samples for the benchmark
// symbol.
type Window struct {
	Equity    []Sample
	TrueRange []Sample
	Volume    []Sample
}

// Store keeps the rolling trigger windows: a 5-minute equity series per agent
// plus shared benchmark true-range and volume series over the baseline
// horizon. All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	equityAge time.Duration
	marketAge time.Duration
	equity    map[string]*series
	trueRange *series
	volume    *series
}

func NewStore(equityWindow, baselineWindow time.Duration) *Store {
	return &Store{
		equityAge: equityWindow,
		marketAge: baselineWindow,
		equity:    make(map[string]*series),
		trueRange: &series{MaxAge: baselineWindow},
		volume:    &series{MaxAge: baselineWindow},
	}
}

// AddEquity appends one equity sample for an agent.
func (s *Store) AddEquity(agentID string, ts time.Time, equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.equity[agentID]
	if !ok {
		se = &series{MaxAge: s.equityAge}
		s.equity[agentID] = se
	}
	se.add(ts, equity)
}

// AddMarket appends one benchmark market sample: the tick's true range
// (high minus low) and its volume.
func (s *Store) AddMarket(ts time.Time, high, low, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if high >= low && low > 0 {
		s.trueRange.add(ts, high-low)
	}
	if volume >= 0 {
		s.volume.add(ts, volume)
	}
}

// WindowFor returns a copy of the agent's trigger window.
func (s *Store) WindowFor(agentID string) Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := Window{
		TrueRange: s.trueRange.copySamples(),
		Volume:    s.volume.copySamples(),
	}
	if se, ok := s.equity[agentID]; ok {
		w.Equity = se.copySamples()
	}
	return w
}

// DropAgent removes the equity series for one agent.
func (s *Store) DropAgent(agentID string) {
	s.mu.Lock()
	delete(s.equity, agentID)
	s.mu.Unlock()
}

// Clear wipes every series. Called on resets.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = make(map[string]*series)
	s.trueRange = &series{MaxAge: s.marketAge}
	s.volume = &series{MaxAge: s.marketAge}
}

type storeSnapshot struct {
	Equity    map[string]*series `json:"equity"`
	TrueRange *series            `json:"true_range"`
	Volume    *series            `json:"volume"`
}

// Marshal serializes the store for snapshot persistence.
func (s *Store) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(storeSnapshot{Equity: s.equity, TrueRange: s.trueRange, Volume: s.volume})
}

// Restore replaces the store contents from a snapshot blob. A corrupt blob
// leaves the store empty: degraded trigger accuracy, never a crash.
func (s *Store) Restore(blob []byte) error {
	var snap storeSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Equity != nil {
		s.equity = snap.Equity
	}
	if snap.TrueRange != nil {
		s.trueRange = snap.TrueRange
	}
	if snap.Volume != nil {
		s.volume = snap.Volume
	}
	return nil
}
