package execution

import (
	"fmt"
	"time"
)

// LatencyProfile 模擬券商來回延遲：送單、成交（含抖動區間）、撤單。
type LatencyProfile struct {
	Name         string        `json:"name"`
	SubmitDelay  time.Duration `json:"submit_delay"`
	FillDelayMin time.Duration `json:"fill_delay_min"`
	FillDelayMax time.Duration `json:"fill_delay_max"`
	CancelDelay  time.Duration `json:"cancel_delay"`
	// FillLot 單次成交的最大股數；超過者分段成交（0 表示不分段）。
	FillLot float64 `json:"fill_lot"`
}

var profiles = map[string]LatencyProfile{
	"instant": {
		Name: "instant",
	},
	"fast": {
		Name:         "fast",
		SubmitDelay:  10 * time.Millisecond,
		FillDelayMin: 20 * time.Millisecond,
		FillDelayMax: 50 * time.Millisecond,
		CancelDelay:  10 * time.Millisecond,
		FillLot:      5000,
	},
	"normal": {
		Name:         "normal",
		SubmitDelay:  50 * time.Millisecond,
		FillDelayMin: 100 * time.Millisecond,
		FillDelayMax: 200 * time.Millisecond,
		CancelDelay:  50 * time.Millisecond,
		FillLot:      1000,
	},
	"slow": {
		Name:         "slow",
		SubmitDelay:  200 * time.Millisecond,
		FillDelayMin: 500 * time.Millisecond,
		FillDelayMax: 1500 * time.Millisecond,
		CancelDelay:  200 * time.Millisecond,
		FillLot:      500,
	},
}

// ProfileByName 取得具名延遲設定；空字串回傳 normal。
func ProfileByName(name string) (LatencyProfile, error) {
	if name == "" {
		name = "normal"
	}
	p, ok := profiles[name]
	if !ok {
		return LatencyProfile{}, fmt.Errorf("unknown latency profile %q", name)
	}
	return p, nil
}

// ProfileNames 回傳所有內建延遲設定名稱。
func ProfileNames() []string {
	return []string{"instant", "fast", "normal", "slow"}
}
