package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports why generated strategy source was rejected. It is
// surfaced to the regeneration manager, which retries or halts the agent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "strategy validation: " + e.Reason }

func rejectf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// allowedSignals is the full capability surface of a strategy: tick signals
// published by the market collaborator plus history-derived values. A rule
// referencing anything else is rejected.
var allowedSignals = map[string]bool{
	"price":                 true,
	"volume":                true,
	"sma_gap":               true,
	"momentum":              true,
	"volatility":            true,
	"obi_weighted":          true,
	"micro_price":           true,
	"ofi":                   true,
	"sentiment":             true,
	"attention":             true,
	"cvd_divergence":        true,
	"taker_ratio":           true,
	"parkinson_vol":         true,
	"funding_rate_velocity": true,
}

var allowedOps = map[string]bool{"gt": true, "ge": true, "lt": true, "le": true, "abs_gt": true}

// forbiddenTokens trips the capability scan on raw source before parsing.
// Generated output sometimes smuggles escape attempts inside string fields;
// none of these have a legitimate place in a strategy document.
var forbiddenTokens = []string{
	"http://", "https://", "exec", "import", "subprocess",
	"os.", "file://", "socket", "env(", "getenv",
}

// Validator performs the static syntax and capability check on generated
// strategy source.
type Validator struct {
	MaxRules    int
	MaxWindow   int
	MaxRisk     float64
	MaxWeight   float64
	MaxCooldown int
}

func NewValidator(maxRules, maxWindow int) *Validator {
	return &Validator{
		MaxRules:    maxRules,
		MaxWindow:   maxWindow,
		MaxRisk:     0.25,
		MaxWeight:   100,
		MaxCooldown: 3600,
	}
}

// Parse validates source and returns the decoded document.
func (v *Validator) Parse(source string) (*Document, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, rejectf("empty source")
	}

	lower := strings.ToLower(source)
	for _, tok := range forbiddenTokens {
		if strings.Contains(lower, tok) {
			return nil, rejectf("disallowed capability reference %q", tok)
		}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(source)))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, rejectf("syntax: %v", err)
	}
	if dec.More() {
		return nil, rejectf("trailing data after document")
	}

	if doc.Name == "" {
		return nil, rejectf("name required")
	}
	if len(doc.Rules) == 0 {
		return nil, rejectf("at least one rule required")
	}
	if len(doc.Rules) > v.MaxRules {
		return nil, rejectf("too many rules: %d > %d", len(doc.Rules), v.MaxRules)
	}
	if doc.RiskFraction <= 0 || doc.RiskFraction > v.MaxRisk {
		return nil, rejectf("risk_fraction %.4f outside (0, %.2f]", doc.RiskFraction, v.MaxRisk)
	}
	if doc.StopLossPct > 0 {
		return nil, rejectf("stop_loss_pct must be negative or zero")
	}
	if doc.TakeProfitPct < 0 {
		return nil, rejectf("take_profit_pct must be positive or zero")
	}
	if doc.CooldownSec < 0 || doc.CooldownSec > v.MaxCooldown {
		return nil, rejectf("cooldown_sec %d outside [0, %d]", doc.CooldownSec, v.MaxCooldown)
	}

	for i, r := range doc.Rules {
		if !allowedSignals[r.Signal] {
			return nil, rejectf("rule %d references disallowed signal %q", i, r.Signal)
		}
		if !allowedOps[r.Op] {
			return nil, rejectf("rule %d uses disallowed op %q", i, r.Op)
		}
		if r.Window < 0 || r.Window > v.MaxWindow {
			return nil, rejectf("rule %d window %d outside [0, %d]", i, r.Window, v.MaxWindow)
		}
		if r.Weight < -v.MaxWeight || r.Weight > v.MaxWeight {
			return nil, rejectf("rule %d weight %.1f outside [%.0f, %.0f]", i, r.Weight, -v.MaxWeight, v.MaxWeight)
		}
	}
	return &doc, nil
}
