package execution

// RiskConfig 定義交易前風控限制；零值代表不限制。
type RiskConfig struct {
	// MaxPositionPerSymbol 個別標的的持倉上限（股數，絕對值）。
	MaxPositionPerSymbol map[string]float64 `json:"max_position_per_symbol,omitempty"`
	// MaxGrossExposure 全組合毛部位上限（|多|+|空| 的市值）。
	MaxGrossExposure float64 `json:"max_gross_exposure,omitempty"`
	// MaxNetExposure 全組合淨部位上限（多-空 市值的絕對值）。
	MaxNetExposure float64 `json:"max_net_exposure,omitempty"`
	// MaxDailyDrawdownPct 單日最大回撤（相對當日起始淨值），如 0.05。
	MaxDailyDrawdownPct float64 `json:"max_daily_drawdown_pct,omitempty"`
	// MaxTotalDrawdownPct 總回撤上限（相對歷史峰值）；觸發即鎖死 kill-switch。
	MaxTotalDrawdownPct float64 `json:"max_total_drawdown_pct,omitempty"`
	// KillSwitch 初始即停用交易。
	KillSwitch bool `json:"kill_switch,omitempty"`
}

// RiskState 為風控即時狀態；僅由模擬器更新，呼叫端只能讀取。
type RiskState struct {
	PeakValue       float64 `json:"peak_value"`
	DailyStartValue float64 `json:"daily_start_value"`
	TradingEnabled  bool    `json:"trading_enabled"`
	KillSwitch      bool    `json:"kill_switch"`
}
