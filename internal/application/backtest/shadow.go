package backtest

import (
	"context"
	"fmt"
	"time"

	backtestDomain "backtest-core/internal/domain/backtest"
	"backtest-core/internal/domain/market"
)

// ShadowAdapter 包裝一個記帳方式不可直接比較的候選後端：
// 採用候選後端的交易決策，但淨值與指標改由本地資料集
// 以收盤價重新估值。產出的指標僅供方向性參考，fidelity 為 shadow。
type ShadowAdapter struct {
	candidate Adapter
	snapshots SnapshotSource
}

// NewShadowAdapter 以候選後端與快照來源建立 shadow adapter。
func NewShadowAdapter(candidate Adapter, snapshots SnapshotSource) *ShadowAdapter {
	return &ShadowAdapter{candidate: candidate, snapshots: snapshots}
}

func (a *ShadowAdapter) Mode() string {
	return fmt.Sprintf("shadow(%s)", a.candidate.Mode())
}

func (a *ShadowAdapter) Fidelity() backtestDomain.ExecutionFidelity {
	return backtestDomain.FidelityShadow
}

// Run 執行候選後端，再將其交易重播到參考估值上。
func (a *ShadowAdapter) Run(ctx context.Context, req backtestDomain.RunRequest) (backtestDomain.RunResult, error) {
	inner, err := a.candidate.Run(ctx, req)
	if err != nil {
		return backtestDomain.RunResult{}, err
	}

	data, _, err := a.snapshots.Load(inner.Meta.DataSnapshotID)
	if err != nil {
		return backtestDomain.RunResult{}, err
	}
	dates := tradingDates(data, req.StartDate, req.EndDate)
	if len(dates) == 0 {
		return backtestDomain.RunResult{}, &backtestDomain.DataError{
			SnapshotID: inner.Meta.DataSnapshotID,
			Reason:     "no trading dates in requested range",
		}
	}

	initialCash := req.InitialCash
	if initialCash <= 0 {
		initialCash = 100000
	}
	curve := replayTrades(initialCash, inner.Trades, data, dates)

	result := backtestDomain.RunResult{
		Metrics:     computeMetrics(initialCash, curve, inner.Trades, dates[0], dates[len(dates)-1]),
		Trades:      inner.Trades,
		EquityCurve: curve,
		Meta: backtestDomain.ResultMeta{
			RunID:             inner.Meta.RunID,
			AdapterMode:       a.Mode(),
			ExecutionFidelity: a.Fidelity(),
			DataSnapshotID:    inner.Meta.DataSnapshotID,
			Assumptions: append([]string{
				"equity revalued at local bar close, candidate accounting discarded",
			}, inner.Meta.Assumptions...),
		},
	}
	return result, nil
}

// replayTrades 以交易的進出場現金流重建淨值曲線；持倉期間
// 依當日收盤價估值。
func replayTrades(initial float64, trades []backtestDomain.Trade, data market.Dataset, dates []time.Time) []backtestDomain.EquityPoint {
	type holding struct {
		symbol string
		qty    float64
		entry  float64
	}
	cash := initial
	open := make(map[int]*holding, len(trades))
	curve := make([]backtestDomain.EquityPoint, 0, len(dates))

	for _, date := range dates {
		day := date.Format("2006-01-02")
		for i, t := range trades {
			if t.EntryDate.Format("2006-01-02") == day {
				cash -= t.EntryPrice * t.Quantity
				open[i] = &holding{symbol: t.Symbol, qty: t.Quantity, entry: t.EntryPrice}
			}
		}
		for i, t := range trades {
			if _, held := open[i]; held && t.ExitDate.Format("2006-01-02") == day {
				cash += t.ExitPrice * t.Quantity
				delete(open, i)
			}
		}

		bars := barsAt(data, date)
		equity := cash
		for _, h := range open {
			if bar, ok := bars[h.symbol]; ok {
				equity += h.qty * bar.Close
			} else {
				equity += h.qty * h.entry
			}
		}
		curve = append(curve, backtestDomain.EquityPoint{Date: date, Equity: equity})
	}
	return curve
}
