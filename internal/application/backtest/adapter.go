package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	backtestDomain "backtest-core/internal/domain/backtest"
	"backtest-core/internal/domain/market"
	"backtest-core/internal/infrastructure/snapshot"
)

// Adapter 以單一窄介面包裝一個執行後端。不同後端各自獨立實作，
// 不共用基底型別；各自攜帶 fidelity 中繼資料，不假裝可互換。
type Adapter interface {
	// Mode 回傳 adapter 識別字串，會寫入結果的 adapter_mode。
	Mode() string
	// Fidelity 回傳此後端產生指標的品質等級。
	Fidelity() backtestDomain.ExecutionFidelity
	// Run 執行一次回測；請求格式錯誤時在任何副作用前回傳
	// ValidationError。
	Run(ctx context.Context, req backtestDomain.RunRequest) (backtestDomain.RunResult, error)
}

// DataProvider 為外部資料協作者：依標的與日期區間提供日 K 序列。
// 抓取、快取與新鮮度檢查都是 provider 的責任。
type DataProvider interface {
	History(ctx context.Context, symbol string, start, end time.Time) (market.Series, error)
}

// SnapshotSource 為 adapter 所需的快照操作子集。
type SnapshotSource interface {
	Create(data market.Dataset) (snapshot.Snapshot, error)
	Load(id string) (market.Dataset, snapshot.Snapshot, error)
}

// BarContext 為策略回呼當根 bar 可見的市場資訊。
type BarContext struct {
	Date   time.Time
	Bars   map[string]market.Bar
	Params map[string]float64
	// History 為各標的到目前 bar 為止（含）的序列。
	History market.Dataset
}

// PortfolioView 為策略回呼可見的組合狀態；唯讀。
type PortfolioView struct {
	Cash      float64
	Equity    float64
	Positions map[string]float64
}

// OrderIntent 為策略回呼的輸出：零或多筆下單意圖。
type OrderIntent struct {
	Symbol   string
	Side     string // BUY / SELL
	Quantity float64
}

// Strategy 為不透明的策略回呼：每個模擬 bar 呼叫一次。
// 核心不對其內部做任何限制。
type Strategy func(bar BarContext, portfolio PortfolioView) []OrderIntent

// StrategyRegistry 管理具名策略回呼；以實例注入，非全域狀態。
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry 建立空的策略註冊表。
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

// Register 註冊策略；重複名稱覆蓋舊值。
func (r *StrategyRegistry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Resolve 取得具名策略。
func (r *StrategyRegistry) Resolve(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names 回傳已註冊的策略名稱（排序後）。
func (r *StrategyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// validateRequest 檢查請求與策略存在性；所有 adapter 在任何
// 副作用前執行。
func validateRequest(req backtestDomain.RunRequest, strategies *StrategyRegistry) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, ok := strategies.Resolve(req.StrategyID); !ok {
		return &backtestDomain.ValidationError{
			Reasons: []string{fmt.Sprintf("unknown strategy %q", req.StrategyID)},
		}
	}
	return nil
}

// resolveData 取得本次 run 的價格資料：優先使用指定快照，否則向
// provider 取數並固化成新快照，讓重播不依賴可變的上游。
func resolveData(ctx context.Context, req backtestDomain.RunRequest, snapshots SnapshotSource, provider DataProvider) (market.Dataset, string, error) {
	if req.DataSnapshotID != "" {
		data, meta, err := snapshots.Load(req.DataSnapshotID)
		if err != nil {
			return nil, "", err
		}
		return data, meta.ID, nil
	}
	if provider == nil {
		return nil, "", &backtestDomain.DataError{Reason: "no snapshot id and no data provider configured"}
	}
	data := make(market.Dataset, len(req.Symbols))
	for _, sym := range req.Symbols {
		series, err := provider.History(ctx, sym, req.StartDate, req.EndDate)
		if err != nil {
			return nil, "", &backtestDomain.DataError{Reason: fmt.Sprintf("fetch %s: %v", sym, err)}
		}
		if len(series) == 0 {
			return nil, "", &backtestDomain.DataError{Reason: fmt.Sprintf("no data for %s in range", sym)}
		}
		data[sym] = series
	}
	meta, err := snapshots.Create(data)
	if err != nil {
		return nil, "", err
	}
	return data, meta.ID, nil
}

// tradingDates 取所有標的日期的聯集（排序後）並限制在請求區間內。
func tradingDates(data market.Dataset, start, end time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, series := range data {
		for _, bar := range series {
			d := bar.TradeDate
			if d.Before(start) || d.After(end) {
				continue
			}
			seen[d] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// barsAt 回傳指定日期各標的的 bar。
func barsAt(data market.Dataset, date time.Time) map[string]market.Bar {
	out := make(map[string]market.Bar)
	for sym, series := range data {
		for _, bar := range series {
			if bar.TradeDate.Equal(date) {
				out[sym] = bar
				break
			}
		}
	}
	return out
}

// historyUpTo 回傳各標的到 date 為止（含）的序列切片。
func historyUpTo(data market.Dataset, date time.Time) market.Dataset {
	out := make(market.Dataset, len(data))
	for sym, series := range data {
		n := 0
		for n < len(series) && !series[n].TradeDate.After(date) {
			n++
		}
		out[sym] = series[:n]
	}
	return out
}
