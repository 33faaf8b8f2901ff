package strategy

import (
	"log/slog"
	"math"

	"github.com/Gonzalo32/daily-trading/internal/market"
	"github.com/Gonzalo32/daily-trading/internal/model"
)

// Regime labels. The strings are persisted in decision samples, so they
// are part of the training-data vocabulary.
const (
	RegimeTrendingBullish = "trending_bullish"
	RegimeTrendingBearish = "trending_bearish"
	RegimeRanging         = "ranging"
	RegimeHighVolatility  = "high_volatility"
	RegimeLowVolatility   = "low_volatility"
	RegimeChaotic         = "chaotic"
)

// RegimeClassifier labels the market context once per day from a window of
// recent snapshots. The label rides along on every decision sample that
// day.
type RegimeClassifier struct {
	logger *slog.Logger
}

func NewRegimeClassifier(logger *slog.Logger) *RegimeClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegimeClassifier{logger: logger}
}

// Classify inspects the window, newest snapshot last. An empty window
// yields the conservative default: ranging, low confidence.
func (c *RegimeClassifier) Classify(window []market.Snapshot) model.RegimeInfo {
	if len(window) == 0 {
		return model.RegimeInfo{Regime: RegimeRanging, Confidence: 0.3, VolatilityLevel: "medium"}
	}

	latest := window[len(window)-1]
	fast := latest.Indicators.FastMA.InexactFloat64()
	slow := latest.Indicators.SlowMA.InexactFloat64()
	atr := latest.Indicators.ATR.InexactFloat64()
	price := latest.Price.InexactFloat64()

	var emaDiffPct, atrPct float64
	if slow > 0 {
		emaDiffPct = (fast - slow) / slow * 100
	}
	if price > 0 {
		atrPct = atr / price * 100
	}
	efficiency := trendEfficiency(window)

	regime := classify(emaDiffPct, atrPct, efficiency)
	info := model.RegimeInfo{
		Regime:          regime,
		Confidence:      confidence(emaDiffPct, atrPct, efficiency),
		VolatilityLevel: volatilityLevel(atrPct),
	}

	c.logger.Info("market regime classified",
		"symbol", latest.Symbol,
		"regime", info.Regime,
		"confidence", info.Confidence,
		"volatility", info.VolatilityLevel)
	return info
}

func classify(emaDiffPct, atrPct, efficiency float64) string {
	switch {
	case atrPct > 5 && efficiency < 0.3:
		return RegimeChaotic
	case atrPct > 3.5:
		return RegimeHighVolatility
	case atrPct < 0.5:
		return RegimeLowVolatility
	case efficiency > 0.5 && emaDiffPct > 2:
		return RegimeTrendingBullish
	case efficiency > 0.5 && emaDiffPct < -2:
		return RegimeTrendingBearish
	}
	return RegimeRanging
}

// trendEfficiency is net price change over the window divided by the sum
// of absolute tick-to-tick changes: 1.0 is a straight line, 0 is churn.
func trendEfficiency(window []market.Snapshot) float64 {
	if len(window) < 2 {
		return 0
	}
	first := window[0].Price.InexactFloat64()
	last := window[len(window)-1].Price.InexactFloat64()

	var path float64
	for i := 1; i < len(window); i++ {
		path += math.Abs(window[i].Price.InexactFloat64() - window[i-1].Price.InexactFloat64())
	}
	if path == 0 {
		return 0
	}
	return math.Abs(last-first) / path
}

func confidence(emaDiffPct, atrPct, efficiency float64) float64 {
	trend := math.Min(1, math.Abs(emaDiffPct)/5)
	vol := math.Min(1, math.Abs(atrPct-2)/3) // distance from "ordinary" volatility
	total := (trend + vol + efficiency) / 3
	return math.Max(0.3, math.Min(1, total))
}

func volatilityLevel(atrPct float64) string {
	switch {
	case atrPct > 3.5:
		return "high"
	case atrPct < 0.5:
		return "low"
	}
	return "medium"
}
