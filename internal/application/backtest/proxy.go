package backtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	backtestDomain "backtest-core/internal/domain/backtest"
	executionDomain "backtest-core/internal/domain/execution"
)

// ProxyAdapter 為簡化後端：訂單在當根 bar 收盤價立即全額成交，
// 沒有延遲、部分成交或撮合佇列。速度換精度，fidelity 為 proxy。
type ProxyAdapter struct {
	strategies  *StrategyRegistry
	snapshots   SnapshotSource
	provider    DataProvider
	feeRate     float64
	slippagePct float64
}

// NewProxyAdapter 建立 proxy adapter。
func NewProxyAdapter(strategies *StrategyRegistry, snapshots SnapshotSource, provider DataProvider) *ProxyAdapter {
	return &ProxyAdapter{
		strategies:  strategies,
		snapshots:   snapshots,
		provider:    provider,
		feeRate:     0.001,
		slippagePct: 0,
	}
}

func (a *ProxyAdapter) Mode() string { return "proxy-barclose" }

func (a *ProxyAdapter) Fidelity() backtestDomain.ExecutionFidelity {
	return backtestDomain.FidelityProxy
}

type proxyLot struct {
	entryDate  int // index into dates
	entryPrice float64
	qty        float64
	cost       float64
}

// Run 執行一次 bar-close 回測。
func (a *ProxyAdapter) Run(ctx context.Context, req backtestDomain.RunRequest) (backtestDomain.RunResult, error) {
	if err := validateRequest(req, a.strategies); err != nil {
		return backtestDomain.RunResult{}, err
	}
	strategy, _ := a.strategies.Resolve(req.StrategyID)

	// latency profile 在此後端沒有意義，但仍要求名稱合法，
	// 讓同一份請求能在後端間互換。
	if _, err := executionDomain.ProfileByName(req.LatencyProfile); err != nil {
		return backtestDomain.RunResult{}, &backtestDomain.ValidationError{Reasons: []string{err.Error()}}
	}

	data, snapshotID, err := resolveData(ctx, req, a.snapshots, a.provider)
	if err != nil {
		return backtestDomain.RunResult{}, err
	}
	dates := tradingDates(data, req.StartDate, req.EndDate)
	if len(dates) == 0 {
		return backtestDomain.RunResult{}, &backtestDomain.DataError{
			SnapshotID: snapshotID,
			Reason:     "no trading dates in requested range",
		}
	}

	initialCash := req.InitialCash
	if initialCash <= 0 {
		initialCash = 100000
	}
	cash := initialCash
	positions := make(map[string]*proxyLot)
	var trades []backtestDomain.Trade
	curve := make([]backtestDomain.EquityPoint, 0, len(dates))

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return backtestDomain.RunResult{}, fmt.Errorf("run aborted at %s: %w", date.Format("2006-01-02"), err)
		}
		bars := barsAt(data, date)

		view := PortfolioView{Cash: cash, Positions: make(map[string]float64)}
		equity := cash
		for sym, lot := range positions {
			if bar, ok := bars[sym]; ok {
				equity += lot.qty * bar.Close
			} else {
				equity += lot.qty * lot.entryPrice
			}
			view.Positions[sym] = lot.qty
		}
		view.Equity = equity

		intents := strategy(BarContext{
			Date:    date,
			Bars:    bars,
			Params:  req.Params,
			History: historyUpTo(data, date),
		}, view)

		for _, intent := range intents {
			bar, ok := bars[intent.Symbol]
			if !ok || intent.Quantity <= 0 {
				continue
			}
			switch executionDomain.Side(intent.Side) {
			case executionDomain.SideBuy:
				price := bar.Close * (1 + a.slippagePct)
				cost := price * intent.Quantity
				fee := cost * a.feeRate
				if cost+fee > cash {
					continue
				}
				cash -= cost + fee
				lot, held := positions[intent.Symbol]
				if !held {
					positions[intent.Symbol] = &proxyLot{entryDate: i, entryPrice: price, qty: intent.Quantity, cost: cost + fee}
					continue
				}
				total := lot.qty + intent.Quantity
				lot.entryPrice = (lot.entryPrice*lot.qty + price*intent.Quantity) / total
				lot.cost += cost + fee
				lot.qty = total
			case executionDomain.SideSell:
				lot, held := positions[intent.Symbol]
				if !held || lot.qty <= 0 {
					continue
				}
				qty := intent.Quantity
				if qty > lot.qty {
					qty = lot.qty
				}
				price := bar.Close * (1 - a.slippagePct)
				proceeds := price * qty
				fee := proceeds * a.feeRate
				cash += proceeds - fee

				costShare := lot.cost * (qty / lot.qty)
				pnl := proceeds - fee - costShare
				pnlPct := 0.0
				if costShare != 0 {
					pnlPct = pnl / costShare
				}
				trades = append(trades, backtestDomain.Trade{
					Symbol:     intent.Symbol,
					Side:       "long",
					EntryDate:  dates[lot.entryDate],
					EntryPrice: lot.entryPrice,
					ExitDate:   date,
					ExitPrice:  price,
					Quantity:   qty,
					PNL:        pnl,
					PNLPct:     pnlPct,
				})
				lot.cost -= costShare
				lot.qty -= qty
				if lot.qty <= 0 {
					delete(positions, intent.Symbol)
				}
			}
		}

		equity = cash
		for sym, lot := range positions {
			if bar, ok := bars[sym]; ok {
				equity += lot.qty * bar.Close
			} else {
				equity += lot.qty * lot.entryPrice
			}
		}
		curve = append(curve, backtestDomain.EquityPoint{Date: date, Equity: equity})
	}

	return backtestDomain.RunResult{
		Metrics:     computeMetrics(initialCash, curve, trades, dates[0], dates[len(dates)-1]),
		Trades:      trades,
		EquityCurve: curve,
		Meta: backtestDomain.ResultMeta{
			RunID:             uuid.NewString(),
			AdapterMode:       a.Mode(),
			ExecutionFidelity: a.Fidelity(),
			DataSnapshotID:    snapshotID,
			Assumptions: []string{
				"orders fill in full at bar close, no latency",
				"latency profile and risk limits not enforced",
			},
		},
	}, nil
}
