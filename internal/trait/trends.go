package trait

import (
	"math"
	"slices"
	"time"
)

// Moving-average windows, in samples.
const (
	ShortWindow    = 5
	LongWindow     = 20
	SeasonalWindow = 24
)

// AnalyzeTrends recomputes the trend analysis of a trait from its
// history. A statistic whose window is not yet filled keeps its
// previous value.
func (e *Engine) AnalyzeTrends(st *State, name string, now time.Time) (TrendAnalysis, error) {
	if err := e.check("trait.analyze_trends"); err != nil {
		return TrendAnalysis{}, err
	}
	hist := st.metrics(name).History
	ta := st.trend(name)

	shortMA := movingAverage(hist, ShortWindow)
	longMA := movingAverage(hist, LongWindow)
	seasonalMA := movingAverage(hist, SeasonalWindow)

	if n := len(shortMA); n >= 2 {
		ta.ShortTermSlope = (shortMA[n-1] - shortMA[n-2]) / ShortWindow
	}
	if n := len(longMA); n >= 2 {
		ta.LongTermSlope = (longMA[n-1] - longMA[n-2]) / LongWindow
	}
	if n := len(shortMA); n >= 3 {
		ta.Acceleration = (shortMA[n-1] - 2*shortMA[n-2] + shortMA[n-3]) / (ShortWindow * ShortWindow)
	}

	ta.Volatility = stdDev(hist)

	if n := len(seasonalMA); n >= 2 {
		var sum float64
		for i := 1; i < n; i++ {
			sum += math.Abs(seasonalMA[i] - seasonalMA[i-1])
		}
		ta.Seasonality = sum / float64(n-1)
	}

	if len(hist) >= 4 {
		diffs := make([]float64, len(hist)-1)
		for i := 1; i < len(hist); i++ {
			diffs[i-1] = hist[i] - hist[i-1]
		}
		var sum float64
		for i := 1; i < len(diffs); i++ {
			sum += math.Abs(diffs[i] - diffs[i-1])
		}
		ta.Cyclicality = sum / float64(len(diffs)-1)
	}

	ta.MovingAverages = slices.Clone(shortMA)
	ta.SeasonalComponents = slices.Clone(seasonalMA)
	ta.LastAnalysis = now
	return *ta, nil
}
