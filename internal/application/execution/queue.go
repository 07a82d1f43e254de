package execution

import (
	"container/heap"
	"time"

	"github.com/shopspring/decimal"
)

type actionKind string

const (
	actionSubmit actionKind = "submit"
	actionFill   actionKind = "fill"
	actionCancel actionKind = "cancel"
)

// pendingAction 為延遲觸發的模擬動作；在佇列中等到模擬時鐘
// 抵達 triggerAt 才被套用。
type pendingAction struct {
	kind      actionKind
	orderID   string
	triggerAt time.Time
	seq       uint64
	quantity  decimal.Decimal // 僅 fill 使用（分段成交的單段數量）
}

// actionQueue 為 min-heap，先比觸發時間、同時間依送件順序（FIFO）。
type actionQueue []*pendingAction

func (q actionQueue) Len() int { return len(q) }

func (q actionQueue) Less(i, j int) bool {
	if !q[i].triggerAt.Equal(q[j].triggerAt) {
		return q[i].triggerAt.Before(q[j].triggerAt)
	}
	return q[i].seq < q[j].seq
}

func (q actionQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *actionQueue) Push(x any) {
	*q = append(*q, x.(*pendingAction))
}

func (q *actionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (q *actionQueue) push(a *pendingAction) {
	heap.Push(q, a)
}

// popDue 取出下一筆 triggerAt <= t 的動作；沒有則回傳 nil。
func (q *actionQueue) popDue(t time.Time) *pendingAction {
	if len(*q) == 0 {
		return nil
	}
	next := (*q)[0]
	if next.triggerAt.After(t) {
		return nil
	}
	return heap.Pop(q).(*pendingAction)
}
