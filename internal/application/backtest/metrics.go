package backtest

import (
	"math"
	"time"

	backtestDomain "backtest-core/internal/domain/backtest"
)

// computeMetrics 由淨值曲線與交易紀錄彙算指標；所有 adapter 共用
// 同一組鍵，讓等價比對有固定的比較基礎。
func computeMetrics(initial float64, curve []backtestDomain.EquityPoint, trades []backtestDomain.Trade, start, end time.Time) map[string]float64 {
	metrics := map[string]float64{
		backtestDomain.MetricROI:         0,
		backtestDomain.MetricCAGR:        0,
		backtestDomain.MetricMaxDrawdown: 0,
		backtestDomain.MetricEndingValue: initial,
		backtestDomain.MetricTradeCount:  float64(len(trades)),
		backtestDomain.MetricWinRate:     0,
	}
	if len(curve) == 0 || initial <= 0 {
		return metrics
	}

	ending := curve[len(curve)-1].Equity
	metrics[backtestDomain.MetricEndingValue] = ending
	metrics[backtestDomain.MetricROI] = ending/initial - 1

	days := end.Sub(start).Hours() / 24
	if days >= 1 && ending > 0 {
		metrics[backtestDomain.MetricCAGR] = math.Pow(ending/initial, 365/days) - 1
	}

	peak := initial
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	metrics[backtestDomain.MetricMaxDrawdown] = maxDD

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.PNL > 0 {
				wins++
			}
		}
		metrics[backtestDomain.MetricWinRate] = float64(wins) / float64(len(trades))
	}
	return metrics
}
