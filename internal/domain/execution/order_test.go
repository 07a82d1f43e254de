package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransitionsStrictlyForward(t *testing.T) {
	allowed := []struct {
		from, to OrderStatus
	}{
		{StatusNew, StatusPendingSubmit},
		{StatusNew, StatusRejected},
		{StatusPendingSubmit, StatusSubmitted},
		{StatusPendingSubmit, StatusCancelled},
		{StatusSubmitted, StatusPartiallyFilled},
		{StatusSubmitted, StatusFilled},
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to OrderStatus
	}{
		{StatusFilled, StatusCancelled},
		{StatusCancelled, StatusSubmitted},
		{StatusRejected, StatusPendingSubmit},
		{StatusSubmitted, StatusNew},
		{StatusFilled, StatusSubmitted},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusRejected, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusNew, StatusPendingSubmit, StatusSubmitted, StatusPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRecordExecutionAppendsAndAdvances(t *testing.T) {
	o := Order{
		ID:       "ord-000001",
		Symbol:   "AAPL",
		Side:     SideBuy,
		Quantity: decimal.NewFromInt(100),
		Status:   StatusSubmitted,
	}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := o.RecordExecution(OrderExecution{Time: now, Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(40)}); err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	if o.Status != StatusPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", o.Status)
	}

	if err := o.RecordExecution(OrderExecution{Time: now, Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(60)}); err != nil {
		t.Fatalf("second execution failed: %v", err)
	}
	if o.Status != StatusFilled {
		t.Fatalf("expected FILLED, got %s", o.Status)
	}
	if len(o.Executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(o.Executions))
	}

	if err := o.RecordExecution(OrderExecution{Quantity: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("expected error on execution after terminal state")
	}
}

func TestUnknownLatencyProfile(t *testing.T) {
	if _, err := ProfileByName("warp"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if p, err := ProfileByName(""); err != nil || p.Name != "normal" {
		t.Fatalf("expected normal fallback, got %+v err=%v", p, err)
	}
}
