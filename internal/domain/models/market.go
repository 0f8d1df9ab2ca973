package models

import "time"

// SymbolTick is one per-symbol record inside a market tick.
type SymbolTick struct {
	Symbol  string             `json:"symbol"`
	Price   float64            `json:"price"`
	Volume  float64            `json:"volume"` // incremental volume for this tick
	High    float64            `json:"high"`
	Low     float64            `json:"low"`
	Signals map[string]float64 `json:"signals,omitempty"` // derived alpha signals
}

// MarketTick is one market snapshot covering all tracked symbols.
type MarketTick struct {
	Timestamp time.Time             `json:"timestamp"`
	Symbols   map[string]SymbolTick `json:"symbols"`
}

// Price returns the price for a symbol and whether it is usable.
func (t *MarketTick) Price(symbol string) (float64, bool) {
	st, ok := t.Symbols[symbol]
	if !ok || st.Price <= 0 {
		return 0, false
	}
	return st.Price, true
}

// Prices returns a symbol to price map, skipping unusable entries.
func (t *MarketTick) Prices() map[string]float64 {
	out := make(map[string]float64, len(t.Symbols))
	for sym, st := range t.Symbols {
		if st.Price > 0 {
			out[sym] = st.Price
		}
	}
	return out
}

// NewsItem is one significance-scored headline from the news collaborator.
type NewsItem struct {
	Title        string    `json:"title"`
	Source       string    `json:"source"`
	Sentiment    float64   `json:"sentiment"`    // -1..1
	Significance float64   `json:"significance"` // 0..1
	Timestamp    time.Time `json:"timestamp"`
}
