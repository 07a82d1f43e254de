package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appexec "backtest-core/internal/application/execution"
	backtestDomain "backtest-core/internal/domain/backtest"
	executionDomain "backtest-core/internal/domain/execution"
)

// CheckpointSink 讓 adapter 在 run 結束時落一份模擬器狀態。
type CheckpointSink interface {
	Save(cp executionDomain.Checkpoint) error
}

// NativeAdapter 驅動本地執行模擬器，逐 bar 呼叫策略回呼；
// 指標出自模擬器自身的記帳，fidelity 為 native。
type NativeAdapter struct {
	strategies  *StrategyRegistry
	snapshots   SnapshotSource
	provider    DataProvider
	checkpoints CheckpointSink
	feeRate     decimal.Decimal
}

// NewNativeAdapter 建立 native adapter。provider 可為 nil，
// 此時請求必須指定既有的 data_snapshot_id。
func NewNativeAdapter(strategies *StrategyRegistry, snapshots SnapshotSource, provider DataProvider) *NativeAdapter {
	return &NativeAdapter{
		strategies: strategies,
		snapshots:  snapshots,
		provider:   provider,
		feeRate:    decimal.NewFromFloat(0.001),
	}
}

// WithCheckpoints 設定 run 結束時寫入 checkpoint 的目的地。
func (a *NativeAdapter) WithCheckpoints(sink CheckpointSink) *NativeAdapter {
	a.checkpoints = sink
	return a
}

func (a *NativeAdapter) Mode() string { return "native-sim" }

func (a *NativeAdapter) Fidelity() backtestDomain.ExecutionFidelity {
	return backtestDomain.FidelityNative
}

// Run 執行一次完整回測。
func (a *NativeAdapter) Run(ctx context.Context, req backtestDomain.RunRequest) (backtestDomain.RunResult, error) {
	if err := validateRequest(req, a.strategies); err != nil {
		return backtestDomain.RunResult{}, err
	}
	strategy, _ := a.strategies.Resolve(req.StrategyID)

	profile, err := executionDomain.ProfileByName(req.LatencyProfile)
	if err != nil {
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
	sim := appexec.NewSimulator(appexec.Config{
		InitialCash: decimal.NewFromFloat(initialCash),
		Risk:        req.Risk,
		Profile:     profile,
		FeeRate:     a.feeRate,
		Seed:        req.Seed,
		StartTime:   dates[0],
	})

	curve := make([]backtestDomain.EquityPoint, 0, len(dates))
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return backtestDomain.RunResult{}, fmt.Errorf("run aborted at %s: %w", date.Format("2006-01-02"), err)
		}
		if i > 0 {
			sim.StartNewDay()
		}

		bars := barsAt(data, date)
		for sym, bar := range bars {
			sim.SetMarketPrice(sym, decimal.NewFromFloat(bar.Close))
		}

		intents := strategy(BarContext{
			Date:    date,
			Bars:    bars,
			Params:  req.Params,
			History: historyUpTo(data, date),
		}, a.portfolioView(sim))

		for _, intent := range intents {
			side := executionDomain.Side(intent.Side)
			if side != executionDomain.SideBuy && side != executionDomain.SideSell {
				continue
			}
			if _, err := sim.SubmitOrder(intent.Symbol, side, decimal.NewFromFloat(intent.Quantity)); err != nil {
				return backtestDomain.RunResult{}, &backtestDomain.EngineError{Backend: a.Mode(), Err: err}
			}
		}

		// 當日所有延遲動作在日終前結清。
		sim.AdvanceTo(date.Add(23 * time.Hour))
		equity, _ := sim.Equity().Float64()
		curve = append(curve, backtestDomain.EquityPoint{Date: date, Equity: equity})
	}

	trades := extractTrades(sim.Orders())
	result := backtestDomain.RunResult{
		Metrics:     computeMetrics(initialCash, curve, trades, dates[0], dates[len(dates)-1]),
		Trades:      trades,
		EquityCurve: curve,
		Meta: backtestDomain.ResultMeta{
			RunID:             uuid.NewString(),
			AdapterMode:       a.Mode(),
			ExecutionFidelity: a.Fidelity(),
			DataSnapshotID:    snapshotID,
			Assumptions: []string{
				"fills priced at bar close",
				fmt.Sprintf("latency profile %s, seed %d", profile.Name, req.Seed),
			},
		},
	}

	if a.checkpoints != nil {
		cp := sim.Checkpoint()
		if err := a.checkpoints.Save(cp); err != nil {
			return backtestDomain.RunResult{}, fmt.Errorf("save final checkpoint: %w", err)
		}
		result.Meta.Assumptions = append(result.Meta.Assumptions, "final checkpoint "+cp.ID)
	}
	return result, nil
}

func (a *NativeAdapter) portfolioView(sim *appexec.Simulator) PortfolioView {
	cash, _ := sim.Cash().Float64()
	equity, _ := sim.Equity().Float64()
	positions := make(map[string]float64)
	for sym, p := range sim.Positions() {
		qty, _ := p.Quantity.Float64()
		if qty != 0 {
			positions[sym] = qty
		}
	}
	return PortfolioView{Cash: cash, Equity: equity, Positions: positions}
}

// extractTrades 將訂單成交配成進出場回合：買入累積部位，
// 賣出依平均成本結算損益。
func extractTrades(orders []executionDomain.Order) []backtestDomain.Trade {
	type lot struct {
		qty       decimal.Decimal
		cost      decimal.Decimal // 含手續費的總成本
		entryDate time.Time
	}
	lots := make(map[string]*lot)
	var trades []backtestDomain.Trade

	for _, order := range orders {
		for _, ex := range order.Executions {
			l, ok := lots[order.Symbol]
			if !ok {
				l = &lot{qty: decimal.Zero, cost: decimal.Zero}
				lots[order.Symbol] = l
			}
			if order.Side == executionDomain.SideBuy {
				if l.qty.IsZero() {
					l.entryDate = ex.Time
				}
				l.qty = l.qty.Add(ex.Quantity)
				l.cost = l.cost.Add(ex.Price.Mul(ex.Quantity)).Add(ex.Fee)
				continue
			}
			// 賣出：結算至多現有部位的數量。
			if l.qty.Sign() <= 0 {
				continue
			}
			closeQty := ex.Quantity
			if closeQty.GreaterThan(l.qty) {
				closeQty = l.qty
			}
			avgCost := l.cost.Div(l.qty)
			proceeds := ex.Price.Mul(closeQty).Sub(ex.Fee)
			pnl := proceeds.Sub(avgCost.Mul(closeQty))

			entryPrice, _ := avgCost.Float64()
			exitPrice, _ := ex.Price.Float64()
			qty, _ := closeQty.Float64()
			pnlF, _ := pnl.Float64()
			pnlPct := 0.0
			if base, _ := avgCost.Mul(closeQty).Float64(); base != 0 {
				pnlPct = pnlF / base
			}
			trades = append(trades, backtestDomain.Trade{
				Symbol:     order.Symbol,
				Side:       "long",
				EntryDate:  l.entryDate,
				EntryPrice: entryPrice,
				ExitDate:   ex.Time,
				ExitPrice:  exitPrice,
				Quantity:   qty,
				PNL:        pnlF,
				PNLPct:     pnlPct,
			})

			l.cost = l.cost.Sub(avgCost.Mul(closeQty))
			l.qty = l.qty.Sub(closeQty)
			if l.qty.IsZero() {
				l.cost = decimal.Zero
			}
		}
	}
	return trades
}
