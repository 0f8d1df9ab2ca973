package sandbox

import (
	"fmt"
	"math"

	"AlgoArena/internal/domain/models"
)

// Document is the declarative strategy format the generation collaborator
// produces. It is the only thing untrusted code can say: signal conditions,
// weights and risk parameters. Anything else fails validation.
type Document struct {
	Name           string  `json:"name"`
	CooldownSec    int     `json:"cooldown_sec"`
	RiskFraction   float64 `json:"risk_fraction"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	EntryThreshold float64 `json:"entry_threshold"`
	Rules          []Rule  `json:"rules"`
}

// Rule scores one condition over a named signal. Derived signals (sma_gap,
// momentum, volatility) are computed from the price history over Window
// samples; every other name is looked up in the tick's signal map.
type Rule struct {
	Signal string  `json:"signal"`
	Window int     `json:"window,omitempty"`
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// Program is a compiled, immutable strategy handle. It implements
// models.Strategy and carries no capability beyond reading the views it is
// handed.
type Program struct {
	doc Document
}

// Compile validates source and returns a runnable program.
func Compile(source string, v *Validator) (*Program, error) {
	doc, err := v.Parse(source)
	if err != nil {
		return nil, err
	}
	return &Program{doc: *doc}, nil
}

func (p *Program) Name() string { return p.doc.Name }

// Run evaluates the document against the market and agent views. Exits are
// checked before entries, matching the strategy contract the generator is
// prompted with: manage open positions first, then scan for the best entry.
func (p *Program) Run(market models.MarketView, agent models.AgentView) (models.Decision, error) {
	if len(market.Symbols) == 0 {
		return models.Hold(), nil
	}

	if d, ok := p.exitDecision(market, agent); ok {
		return d, nil
	}

	if p.inCooldown(market, agent) {
		return models.Hold(), nil
	}

	return p.entryDecision(market, agent), nil
}

func (p *Program) exitDecision(market models.MarketView, agent models.AgentView) (models.Decision, bool) {
	for sym, qty := range agent.Holdings {
		if qty == 0 {
			continue
		}
		view, ok := market.Symbols[sym]
		if !ok || view.Price <= 0 {
			continue
		}
		entry := agent.EntryPrices[sym]
		if entry <= 0 {
			continue
		}

		pnlPct := (view.Price/entry - 1) * 100
		if qty < 0 {
			pnlPct = -pnlPct
		}

		if p.doc.TakeProfitPct > 0 && pnlPct >= p.doc.TakeProfitPct ||
			p.doc.StopLossPct < 0 && pnlPct <= p.doc.StopLossPct {
			if qty > 0 {
				return models.Decision{Action: models.ActionSell, Symbol: sym, Quantity: qty}, true
			}
			return models.Decision{Action: models.ActionBuy, Symbol: sym, Quantity: -qty}, true
		}
	}
	return models.Decision{}, false
}

func (p *Program) inCooldown(market models.MarketView, agent models.AgentView) bool {
	if p.doc.CooldownSec <= 0 || len(agent.TradeHistory) == 0 {
		return false
	}
	last := agent.TradeHistory[len(agent.TradeHistory)-1].Timestamp
	return market.TimeMs-last < int64(p.doc.CooldownSec)*1000
}

func (p *Program) entryDecision(market models.MarketView, agent models.AgentView) models.Decision {
	bestScore := math.Inf(-1)
	bestSym := ""
	var bestPrice float64

	for sym, view := range market.Symbols {
		if view.Price <= 0 || agent.Holdings[sym] != 0 {
			continue
		}
		score := p.score(view)
		if score > bestScore {
			bestScore = score
			bestSym = sym
			bestPrice = view.Price
		}
	}

	if bestSym == "" || bestScore < p.doc.EntryThreshold {
		return models.Hold()
	}

	qty := agent.Cash * p.doc.RiskFraction / bestPrice
	if qty <= 0 {
		return models.Hold()
	}
	return models.Decision{Action: models.ActionBuy, Symbol: bestSym, Quantity: qty}
}

func (p *Program) score(view models.SymbolView) float64 {
	var score float64
	for _, r := range p.doc.Rules {
		val, ok := signalValue(r, view)
		if !ok {
			continue
		}
		if compare(r.Op, val, r.Value) {
			score += r.Weight
		}
	}
	return score
}

func signalValue(r Rule, view models.SymbolView) (float64, bool) {
	switch r.Signal {
	case "price":
		return view.Price, view.Price > 0
	case "volume":
		return view.Volume, true
	case "sma_gap":
		sma, ok := mean(tail(view.History, r.Window))
		if !ok || sma == 0 {
			return 0, false
		}
		return view.Price/sma - 1, true
	case "momentum":
		h := tail(view.History, r.Window)
		if len(h) < 2 || h[0] == 0 {
			return 0, false
		}
		return h[len(h)-1]/h[0] - 1, true
	case "volatility":
		return stddev(tail(view.History, r.Window))
	default:
		v, ok := view.Signals[r.Signal]
		return v, ok
	}
}

func compare(op string, a, b float64) bool {
	switch op {
	case "gt":
		return a > b
	case "ge":
		return a >= b
	case "lt":
		return a < b
	case "le":
		return a <= b
	case "abs_gt":
		return math.Abs(a) > b
	default:
		return false
	}
}

func tail(h []float64, n int) []float64 {
	if n <= 0 || n > len(h) {
		return h
	}
	return h[len(h)-n:]
}

func mean(h []float64) (float64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range h {
		sum += v
	}
	return sum / float64(len(h)), true
}

func stddev(h []float64) (float64, bool) {
	m, ok := mean(h)
	if !ok || len(h) < 2 {
		return 0, false
	}
	var ss float64
	for _, v := range h {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(h)-1)), true
}

// String returns a short description for logs.
func (p *Program) String() string {
	return fmt.Sprintf("program %q (%d rules, threshold %.1f)", p.doc.Name, len(p.doc.Rules), p.doc.EntryThreshold)
}
