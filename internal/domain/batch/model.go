package batch

import (
	"fmt"
	"time"
)

// Status 為批次狀態機：PENDING -> RUNNING -> {COMPLETED|PARTIAL|FAILED|CANCELLED}。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusPartial   Status = "PARTIAL"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal 回傳批次是否已結束。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ItemResult 為單一批次項目的結果；重試以追加新結果表示，不覆寫歷史。
type ItemResult struct {
	ItemID        string        `json:"item_id"`
	Attempt       int           `json:"attempt"`
	Success       bool          `json:"success"`
	RunID         string        `json:"run_id,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	Duration      time.Duration `json:"duration"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Run 為一組平行回測的彙總單位。
type Run struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status"`
	TotalItems  int          `json:"total_items"`
	GridName    string       `json:"grid_name,omitempty"`
	Items       []ItemResult `json:"items"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	// Duration 與 Throughput 由 CompleteBatch 計算。
	Duration   time.Duration `json:"duration,omitempty"`
	Throughput float64       `json:"throughput,omitempty"`
}

// latestByItem 回傳每個 item 的最後一次結果。
func (r *Run) latestByItem() map[string]ItemResult {
	latest := make(map[string]ItemResult)
	for _, it := range r.Items {
		prev, ok := latest[it.ItemID]
		if !ok || it.Attempt >= prev.Attempt {
			latest[it.ItemID] = it
		}
	}
	return latest
}

// SucceededItems 回傳目前成功的項目數（以每項最後一次嘗試計）。
func (r *Run) SucceededItems() int {
	n := 0
	for _, it := range r.latestByItem() {
		if it.Success {
			n++
		}
	}
	return n
}

// FailedItems 回傳目前失敗的項目數（以每項最後一次嘗試計）。
func (r *Run) FailedItems() int {
	n := 0
	for _, it := range r.latestByItem() {
		if !it.Success {
			n++
		}
	}
	return n
}

// SuccessRate 回傳成功率；total 為 0 時回傳 0。
func (r *Run) SuccessRate() float64 {
	if r.TotalItems == 0 {
		return 0
	}
	return float64(r.SucceededItems()) / float64(r.TotalItems)
}

// ErrorSummary 彙總各錯誤分類的失敗數（以每項最後一次嘗試計）。
func (r *Run) ErrorSummary() map[ErrorCategory]int {
	out := make(map[ErrorCategory]int)
	for _, it := range r.latestByItem() {
		if !it.Success {
			out[it.ErrorCategory]++
		}
	}
	return out
}

// FailedItemIDs 回傳最後一次嘗試仍失敗的項目 ID。
func (r *Run) FailedItemIDs() []string {
	var out []string
	for id, it := range r.latestByItem() {
		if !it.Success {
			out = append(out, id)
		}
	}
	return out
}

// AttemptsFor 回傳指定項目已記錄的嘗試次數。
func (r *Run) AttemptsFor(itemID string) int {
	n := 0
	for _, it := range r.Items {
		if it.ItemID == itemID {
			n++
		}
	}
	return n
}

// Complete 檢查所有項目皆有結果後推導最終狀態與吞吐量。
func (r *Run) Complete(now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("batch %s already %s", r.ID, r.Status)
	}
	latest := r.latestByItem()
	if len(latest) < r.TotalItems {
		return fmt.Errorf("batch %s incomplete: %d/%d items have results", r.ID, len(latest), r.TotalItems)
	}
	succeeded := r.SucceededItems()
	switch {
	case succeeded == r.TotalItems:
		r.Status = StatusCompleted
	case succeeded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	r.CompletedAt = &now
	r.Duration = now.Sub(r.CreatedAt)
	if r.Duration > 0 {
		r.Throughput = float64(r.TotalItems) / r.Duration.Seconds()
	}
	return nil
}
