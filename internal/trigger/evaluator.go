package trigger

import (
	"fmt"
	"time"
)

// Kind classifies a supervision pass.
type Kind string

const (
	KindNone Kind = "NONE"
	KindSoft Kind = "SOFT"
	KindHard Kind = "HARD"
)

// Classification is the evaluator's verdict for one agent.
type Classification struct {
	Kind    Kind
	Reason  string
	Details map[string]float64
}

// Config holds the trigger thresholds.
type Config struct {
	DrawdownLimit    float64       // fraction, e.g. 0.03
	ATRRatio         float64       // recent ATR vs baseline, e.g. 2.0
	VolumeRatio      float64       // recent volume vs baseline, e.g. 5.0
	NewsMinor        float64       // soft band lower bound, exclusive
	NewsCatastrophic float64       // soft band upper bound, exclusive
	RecentWindow     time.Duration // "current" slice of the market series
}

// Evaluator is a pure classifier over trigger windows. It holds no state,
// so one instance serves every agent.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate classifies one agent's window. Hard conditions are checked in
// fixed priority order and the first match wins: equity drawdown, then ATR
// spike, then volume spike. When no hard condition fires, a news
// significance score strictly inside the soft band yields SOFT.
func (e *Evaluator) Evaluate(w Window, now time.Time, newsScore float64) Classification {
	if dd, peak := drawdown(w.Equity); peak > 0 && dd > e.cfg.DrawdownLimit {
		return Classification{
			Kind:    KindHard,
			Reason:  fmt.Sprintf("drawdown %.2f%% exceeds %.2f%% limit", dd*100, e.cfg.DrawdownLimit*100),
			Details: map[string]float64{"drawdown": dd, "peak": peak},
		}
	}

	cutoff := now.Add(-e.cfg.RecentWindow).UnixMilli()
	if recent, base, ok := splitMeans(w.TrueRange, cutoff); ok && recent >= e.cfg.ATRRatio*base {
		return Classification{
			Kind:    KindHard,
			Reason:  fmt.Sprintf("ATR %.4f is %.1fx baseline %.4f", recent, recent/base, base),
			Details: map[string]float64{"atr": recent, "baseline": base},
		}
	}
	if recent, base, ok := splitMeans(w.Volume, cutoff); ok && recent >= e.cfg.VolumeRatio*base {
		return Classification{
			Kind:    KindHard,
			Reason:  fmt.Sprintf("volume %.2f is %.1fx baseline %.2f", recent, recent/base, base),
			Details: map[string]float64{"volume": recent, "baseline": base},
		}
	}

	if newsScore > e.cfg.NewsMinor && newsScore < e.cfg.NewsCatastrophic {
		return Classification{
			Kind:    KindSoft,
			Reason:  fmt.Sprintf("news significance %.2f", newsScore),
			Details: map[string]float64{"news_significance": newsScore},
		}
	}

	return Classification{Kind: KindNone}
}

// drawdown returns the fractional fall from the window's equity peak to its
// latest sample, along with the peak itself.
func drawdown(equity []Sample) (dd, peak float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	for _, s := range equity {
		if s.V > peak {
			peak = s.V
		}
	}
	last := equity[len(equity)-1].V
	if peak <= 0 {
		return 0, peak
	}
	return (peak - last) / peak, peak
}

// splitMeans splits a series at cutoff and returns the mean of the recent
// slice and the mean of the older baseline. ok is false when either side is
// empty or the baseline is zero, in which case no ratio can be formed.
func splitMeans(samples []Sample, cutoff int64) (recent, base float64, ok bool) {
	var rSum, bSum float64
	var rN, bN int
	for _, s := range samples {
		if s.T >= cutoff {
			rSum += s.V
			rN++
		} else {
			bSum += s.V
			bN++
		}
	}
	if rN == 0 || bN == 0 {
		return 0, 0, false
	}
	base = bSum / float64(bN)
	if base <= 0 {
		return 0, 0, false
	}
	return rSum / float64(rN), base, true
}
