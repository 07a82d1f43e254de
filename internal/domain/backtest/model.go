package backtest

import (
	"fmt"
	"time"

	"backtest-core/internal/domain/execution"
)

// ExecutionFidelity 標示結果指標的來源品質。
type ExecutionFidelity string

const (
	// FidelityNative 後端以自身的記帳產生指標。
	FidelityNative ExecutionFidelity = "native"
	// FidelityProxy 指標來自邏輯等價的簡化引擎。
	FidelityProxy ExecutionFidelity = "proxy"
	// FidelityShadow 指標由參考後端的估值代算（影子估值）。
	FidelityShadow ExecutionFidelity = "shadow"
)

// RunRequest 定義單次回測請求；建立後不再修改。
type RunRequest struct {
	StrategyID     string               `json:"strategy_id"`
	Symbols        []string             `json:"symbols"`
	StartDate      time.Time            `json:"start_date"`
	EndDate        time.Time            `json:"end_date"`
	Params         map[string]float64   `json:"params,omitempty"`
	DataSnapshotID string               `json:"data_snapshot_id,omitempty"`
	Risk           execution.RiskConfig `json:"risk"`
	LatencyProfile string               `json:"latency_profile"`
	InitialCash    float64              `json:"initial_cash"`
	Seed           int64                `json:"seed"`
}

// Validate 檢查請求基本合理性；策略是否存在由 adapter 以註冊表判斷。
func (r RunRequest) Validate() error {
	var reasons []string
	if r.StrategyID == "" {
		reasons = append(reasons, "strategy_id is required")
	}
	if len(r.Symbols) == 0 {
		reasons = append(reasons, "symbols must not be empty")
	}
	for i, s := range r.Symbols {
		if s == "" {
			reasons = append(reasons, fmt.Sprintf("symbols[%d] is empty", i))
		}
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		reasons = append(reasons, "start_date and end_date required")
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate) {
		reasons = append(reasons, "end_date must not be before start_date")
	}
	if r.InitialCash < 0 {
		reasons = append(reasons, "initial_cash must be >= 0")
	}
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// 指標鍵名；所有 adapter 一律回報同一組鍵。
const (
	MetricROI         = "roi"
	MetricCAGR        = "cagr"
	MetricMaxDrawdown = "max_drawdown"
	MetricEndingValue = "ending_value"
	MetricTradeCount  = "trade_count"
	MetricWinRate     = "win_rate"
)

// ResultMeta 附在結果上的執行中繼資料。
type ResultMeta struct {
	RunID             string            `json:"run_id"`
	AdapterMode       string            `json:"adapter_mode"`
	ExecutionFidelity ExecutionFidelity `json:"execution_fidelity"`
	DataSnapshotID    string            `json:"data_snapshot_id,omitempty"`
	Assumptions       []string          `json:"assumptions,omitempty"`
}

// Trade 描述一筆已完成的進出場。
type Trade struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryDate  time.Time `json:"entry_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitDate   time.Time `json:"exit_date"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PNL        float64   `json:"pnl"`
	PNLPct     float64   `json:"pnl_pct"`
}

// EquityPoint 代表每日淨值。
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// RunResult 為回測輸出契約；下游僅讀取此結構，不碰後端內部狀態。
type RunResult struct {
	Metrics     map[string]float64 `json:"metrics"`
	Trades      []Trade            `json:"trades"`
	EquityCurve []EquityPoint      `json:"equity_curve"`
	Meta        ResultMeta         `json:"meta"`
}

// ParamSet 為具名且完整型別的單組回測參數。
type ParamSet struct {
	Name    string             `json:"name"`
	Request RunRequest         `json:"request"`
	Extra   map[string]float64 `json:"extra,omitempty"`
}

// ParamGrid 取代鬆散的 kwargs 扇出：批次排程僅消費這個結構。
type ParamGrid struct {
	Name string     `json:"name"`
	Sets []ParamSet `json:"sets"`
}

// Validate 檢查每組參數皆可獨立執行。
func (g ParamGrid) Validate() error {
	if len(g.Sets) == 0 {
		return &ValidationError{Reasons: []string{"param grid must contain at least one set"}}
	}
	seen := make(map[string]struct{}, len(g.Sets))
	for i, set := range g.Sets {
		if set.Name == "" {
			return &ValidationError{Reasons: []string{fmt.Sprintf("sets[%d] name is required", i)}}
		}
		if _, dup := seen[set.Name]; dup {
			return &ValidationError{Reasons: []string{fmt.Sprintf("duplicate param set name %q", set.Name)}}
		}
		seen[set.Name] = struct{}{}
		if err := set.Request.Validate(); err != nil {
			return fmt.Errorf("sets[%d] (%s): %w", i, set.Name, err)
		}
	}
	return nil
}
