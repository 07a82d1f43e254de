package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示買賣方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 表示委託型態；目前模擬器僅支援市價單。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus 為訂單生命週期狀態，僅允許前進、不可回退。
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPendingSubmit   OrderStatus = "PENDING_SUBMIT"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal 回傳狀態是否為終態。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

var transitions = map[OrderStatus][]OrderStatus{
	StatusNew:             {StatusPendingSubmit, StatusRejected},
	StatusPendingSubmit:   {StatusSubmitted, StatusRejected, StatusCancelled},
	StatusSubmitted:       {StatusPartiallyFilled, StatusFilled, StatusRejected, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// CanTransition 回傳 from -> to 是否為合法轉移。
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RejectionReason 說明訂單被拒的原因；風控拒單是正常終態，不是系統錯誤。
type RejectionReason string

const (
	RejectTradingHalted     RejectionReason = "TRADING_HALTED"
	RejectPositionLimit     RejectionReason = "POSITION_LIMIT"
	RejectExposureLimit     RejectionReason = "EXPOSURE_LIMIT"
	RejectInsufficientFunds RejectionReason = "INSUFFICIENT_FUNDS"
	RejectInvalidOrder      RejectionReason = "INVALID_ORDER"
)

// OrderExecution 為單筆成交紀錄；訂單的成交歷史只能追加。
type OrderExecution struct {
	Time     time.Time       `json:"time"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
}

// Order 為模擬器內的委託單。
type Order struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Type       OrderType        `json:"type"`
	Status     OrderStatus      `json:"status"`
	Reason     RejectionReason  `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Executions []OrderExecution `json:"executions,omitempty"`
}

// FilledQuantity 回傳已成交數量合計。
func (o *Order) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, ex := range o.Executions {
		total = total.Add(ex.Quantity)
	}
	return total
}

// LeavesQuantity 回傳尚未成交的數量。
func (o *Order) LeavesQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity())
}

// Transition 套用狀態轉移；非法轉移回傳錯誤。
func (o *Order) Transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid order transition %s -> %s (order %s)", o.Status, to, o.ID)
	}
	o.Status = to
	return nil
}

// RecordExecution 追加一筆成交並依剩餘數量推進狀態。
func (o *Order) RecordExecution(ex OrderExecution) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s already terminal (%s)", o.ID, o.Status)
	}
	o.Executions = append(o.Executions, ex)
	if o.LeavesQuantity().Sign() <= 0 {
		return o.Transition(StatusFilled)
	}
	return o.Transition(StatusPartiallyFilled)
}
