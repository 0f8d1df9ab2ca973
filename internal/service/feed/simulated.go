package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	"AlgoArena/pkg/logger"
)

// basePrices seeds the random walk for well-known symbols; anything else
// starts at 100.
var basePrices = map[string]float64{
	"BTC": 50000,
	"ETH": 3000,
	"SOL": 150,
	"BNB": 600,
}

// Simulated is a MarketStream that random-walks prices locally. It keeps the
// engine fully operational with no upstream collaborator: every tick carries
// plausible OHLV data and the derived signal set strategies may reference.
type Simulated struct {
	symbols  []string
	interval time.Duration
	log      *logger.Logger
	rng      *rand.Rand

	mu        sync.Mutex
	prices    map[string]float64
	history   map[string][]float64
	connected bool
}

func NewSimulated(symbols []string, interval time.Duration, log *logger.Logger) drepo.MarketStream {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulated{
		symbols:  symbols,
		interval: interval,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:   make(map[string]float64),
		history:  make(map[string][]float64),
	}
}

func (s *Simulated) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symbols {
		base, ok := basePrices[sym]
		if !ok {
			base = 100
		}
		s.prices[sym] = base
	}
	s.connected = true
	s.log.Info("simulated feed started", logger.Strings("symbols", s.symbols))
	return nil
}

func (s *Simulated) Read(ctx context.Context) (<-chan *models.MarketTick, <-chan error) {
	ticks := make(chan *models.MarketTick, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(ticks)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case ticks <- s.step(now):
				default:
				}
			}
		}
	}()
	return ticks, errs
}

// step advances every symbol one random-walk increment and builds the tick.
func (s *Simulated) step(now time.Time) *models.MarketTick {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make(map[string]models.SymbolTick, len(s.symbols))
	for _, sym := range s.symbols {
		p := s.prices[sym]
		// Geometric step with occasional larger shocks so volatility
		// triggers have something to bite on.
		sigma := 0.0008
		if s.rng.Float64() < 0.02 {
			sigma = 0.006
		}
		p *= math.Exp(sigma * s.rng.NormFloat64())
		s.prices[sym] = p

		h := append(s.history[sym], p)
		if len(h) > 64 {
			h = h[len(h)-64:]
		}
		s.history[sym] = h

		spread := p * (0.0002 + 0.0008*s.rng.Float64())
		symbols[sym] = models.SymbolTick{
			Symbol:  sym,
			Price:   p,
			Volume:  50 + s.rng.Float64()*150,
			High:    p + spread,
			Low:     p - spread,
			Signals: s.signals(sym, h),
		}
	}
	return &models.MarketTick{Timestamp: now, Symbols: symbols}
}

// signals derives the alpha signal set from the walk history plus bounded
// noise for the microstructure signals no walk can produce.
func (s *Simulated) signals(sym string, h []float64) map[string]float64 {
	last := h[len(h)-1]
	sig := map[string]float64{
		"obi_weighted":          clamp(s.rng.NormFloat64()*0.3, -1, 1),
		"ofi":                   s.rng.NormFloat64() * 40,
		"micro_price":           last * (1 + s.rng.NormFloat64()*0.0001),
		"sentiment":             clamp(s.rng.NormFloat64()*0.4, -1, 1),
		"attention":             s.rng.Float64(),
		"cvd_divergence":        s.rng.NormFloat64() * 0.5,
		"taker_ratio":           0.5 + clamp(s.rng.NormFloat64()*0.15, -0.5, 0.5),
		"funding_rate_velocity": s.rng.NormFloat64() * 0.0001,
	}
	if len(h) >= 20 {
		var sum float64
		for _, p := range h[len(h)-20:] {
			sum += p
		}
		sma := sum / 20
		sig["sma_gap"] = (last - sma) / sma * 100
	}
	if len(h) >= 2 {
		sig["momentum"] = (last - h[0]) / h[0] * 100
	}
	if len(h) >= 10 {
		sig["parkinson_vol"] = stddev(h[len(h)-10:]) / last * 100
	}
	return sig
}

func (s *Simulated) Reconnect(context.Context) error { return nil }

func (s *Simulated) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
