package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckpointSchemaVersion 為目前的 checkpoint 結構版本；
// 載入時版本不符一律整批拒絕，不做部分還原。
const CheckpointSchemaVersion = 1

// PositionSnapshot 為單一標的持倉快照。
type PositionSnapshot struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// PendingActionSnapshot 序列化佇列中尚未觸發的延遲動作。
type PendingActionSnapshot struct {
	Kind      string          `json:"kind"`
	OrderID   string          `json:"order_id"`
	TriggerAt time.Time       `json:"trigger_at"`
	Seq       uint64          `json:"seq"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
}

// Checkpoint 為單一模擬器的完整可序列化狀態；寫入後不可變，
// 新的 checkpoint 一律是新物件。
type Checkpoint struct {
	ID            string                  `json:"id"`
	SchemaVersion int                     `json:"schema_version"`
	CreatedAt     time.Time               `json:"created_at"`
	SimClock      time.Time               `json:"sim_clock"`
	Cash          decimal.Decimal         `json:"cash"`
	Positions     []PositionSnapshot      `json:"positions"`
	Orders        []Order                 `json:"orders"`
	Pending       []PendingActionSnapshot `json:"pending"`
	NextSeq       uint64                  `json:"next_seq"`
	Risk          RiskConfig              `json:"risk"`
	RiskState     RiskState               `json:"risk_state"`
	Profile       string                  `json:"latency_profile"`
	FeeRate       decimal.Decimal         `json:"fee_rate"`
	Seed          int64                   `json:"seed"`
	RandDraws     uint64                  `json:"rand_draws"`
}
