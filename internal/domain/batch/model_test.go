package batch

import (
	"testing"
	"time"
)

func result(item string, attempt int, success bool, category ErrorCategory) ItemResult {
	return ItemResult{ItemID: item, Attempt: attempt, Success: success, ErrorCategory: category}
}

func TestCompleteDerivesStatus(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	done := created.Add(50 * time.Second)

	cases := []struct {
		name  string
		items []ItemResult
		want  Status
	}{
		{
			name: "all succeed",
			items: []ItemResult{
				result("a", 1, true, ""),
				result("b", 1, true, ""),
			},
			want: StatusCompleted,
		},
		{
			name: "mixed",
			items: []ItemResult{
				result("a", 1, true, ""),
				result("b", 1, false, CategoryEngineError),
			},
			want: StatusPartial,
		},
		{
			name: "all fail",
			items: []ItemResult{
				result("a", 1, false, CategoryDataError),
				result("b", 1, false, CategoryTimeout),
			},
			want: StatusFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := Run{ID: "b-1", Status: StatusRunning, TotalItems: 2, CreatedAt: created, Items: tc.items}
			if err := run.Complete(done); err != nil {
				t.Fatalf("Complete failed: %v", err)
			}
			if run.Status != tc.want {
				t.Errorf("expected %s, got %s", tc.want, run.Status)
			}
			if run.SucceededItems()+run.FailedItems() != run.TotalItems {
				t.Errorf("counters do not add up: %d+%d != %d", run.SucceededItems(), run.FailedItems(), run.TotalItems)
			}
			if run.Duration != 50*time.Second {
				t.Errorf("duration mismatch: %v", run.Duration)
			}
			if run.Throughput != float64(run.TotalItems)/50.0 {
				t.Errorf("throughput mismatch: %v", run.Throughput)
			}
		})
	}
}

func TestCompleteRequiresAllItems(t *testing.T) {
	run := Run{ID: "b-1", Status: StatusRunning, TotalItems: 3, CreatedAt: time.Now(),
		Items: []ItemResult{result("a", 1, true, "")}}
	if err := run.Complete(time.Now()); err == nil {
		t.Fatal("expected error for incomplete batch")
	}
	if run.Status != StatusRunning {
		t.Errorf("status must not change on failed completion: %s", run.Status)
	}
}

func TestCompleteRejectsTerminalBatch(t *testing.T) {
	now := time.Now()
	run := Run{ID: "b-1", Status: StatusRunning, TotalItems: 1, CreatedAt: now.Add(-time.Minute),
		Items: []ItemResult{result("a", 1, true, "")}}
	if err := run.Complete(now); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := run.Complete(now); err == nil {
		t.Fatal("expected error on second completion")
	}
}

func TestLatestAttemptWinsInCounters(t *testing.T) {
	run := Run{ID: "b-1", Status: StatusRunning, TotalItems: 2, CreatedAt: time.Now(),
		Items: []ItemResult{
			result("a", 1, false, CategoryEngineError),
			result("b", 1, true, ""),
			result("a", 2, true, ""), // 重試成功
		}}
	if run.SucceededItems() != 2 || run.FailedItems() != 0 {
		t.Errorf("latest attempt not honored: %d/%d", run.SucceededItems(), run.FailedItems())
	}
	if run.AttemptsFor("a") != 2 {
		t.Errorf("expected 2 attempts for a, got %d", run.AttemptsFor("a"))
	}
	if len(run.FailedItemIDs()) != 0 {
		t.Errorf("unexpected failed ids: %v", run.FailedItemIDs())
	}
}

func TestErrorSummaryCountsLatestFailures(t *testing.T) {
	run := Run{ID: "b-1", Status: StatusRunning, TotalItems: 3, CreatedAt: time.Now(),
		Items: []ItemResult{
			result("a", 1, false, CategoryEngineError),
			result("b", 1, false, CategoryEngineError),
			result("c", 1, false, CategoryDataError),
			result("c", 2, true, ""),
		}}
	summary := run.ErrorSummary()
	if summary[CategoryEngineError] != 2 {
		t.Errorf("expected 2 engine errors, got %d", summary[CategoryEngineError])
	}
	if _, ok := summary[CategoryDataError]; ok {
		t.Error("recovered item must not appear in summary")
	}
}
