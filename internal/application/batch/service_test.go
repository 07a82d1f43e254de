package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	backtestDomain "backtest-core/internal/domain/backtest"
	batchDomain "backtest-core/internal/domain/batch"
	"backtest-core/internal/infra/memory"
)

// scriptedAdapter 依 strategy id 回傳預先安排的錯誤；每個 id 的
// 錯誤只觸發指定次數，之後成功。
type scriptedAdapter struct {
	mu       sync.Mutex
	failures map[string]error
	failLeft map[string]int
	runs     int
}

func (a *scriptedAdapter) Mode() string { return "scripted" }

func (a *scriptedAdapter) Fidelity() backtestDomain.ExecutionFidelity {
	return backtestDomain.FidelityProxy
}

func (a *scriptedAdapter) Run(_ context.Context, req backtestDomain.RunRequest) (backtestDomain.RunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs++
	if left, ok := a.failLeft[req.StrategyID]; ok && left > 0 {
		a.failLeft[req.StrategyID] = left - 1
		return backtestDomain.RunResult{}, a.failures[req.StrategyID]
	}
	return backtestDomain.RunResult{
		Metrics: map[string]float64{backtestDomain.MetricROI: 0.1},
		Meta: backtestDomain.ResultMeta{
			RunID:          "run-" + req.StrategyID,
			AdapterMode:    "scripted",
			DataSnapshotID: "snap-test",
		},
	}, nil
}

func newScripted(failures map[string]error, times int) *scriptedAdapter {
	left := make(map[string]int, len(failures))
	for k := range failures {
		left[k] = times
	}
	return &scriptedAdapter{failures: failures, failLeft: left}
}

func testGrid(names ...string) backtestDomain.ParamGrid {
	grid := backtestDomain.ParamGrid{Name: "sweep"}
	for _, name := range names {
		grid.Sets = append(grid.Sets, backtestDomain.ParamSet{
			Name: name,
			Request: backtestDomain.RunRequest{
				StrategyID:     name,
				Symbols:        []string{"AAPL"},
				StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:        time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
				LatencyProfile: "normal",
			},
		})
	}
	return grid
}

func TestBatchRunAllSucceed(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, newScripted(nil, 0), store, Config{Workers: 2})

	run, err := svc.Run(context.Background(), testGrid("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, batchDomain.StatusCompleted, run.Status)
	require.Equal(t, 3, run.SucceededItems())
	require.Zero(t, run.FailedItems())
	require.Equal(t, 1.0, run.SuccessRate())
	require.NotNil(t, run.CompletedAt)
	require.Greater(t, run.Throughput, 0.0)

	// 成功項目的完整結果已保存。
	result, err := store.GetResult(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, "snap-test", result.Meta.DataSnapshotID)
}

func TestBatchRunPartialWithCategorySummary(t *testing.T) {
	failures := map[string]error{
		"p2": &backtestDomain.EngineError{Backend: "scripted", Err: errors.New("boom")},
		"p4": &backtestDomain.EngineError{Backend: "scripted", Err: errors.New("boom")},
	}
	store := memory.NewStore()
	svc := NewService(store, newScripted(failures, 99), store, Config{Workers: 3})

	run, err := svc.Run(context.Background(), testGrid("p1", "p2", "p3", "p4", "p5"))
	require.NoError(t, err)

	require.Equal(t, batchDomain.StatusPartial, run.Status)
	require.Equal(t, 3, run.SucceededItems())
	require.Equal(t, 2, run.FailedItems())
	require.Equal(t, run.TotalItems, run.SucceededItems()+run.FailedItems())

	summary := run.ErrorSummary()
	require.Equal(t, 2, summary[batchDomain.CategoryEngineError])
	require.Len(t, summary, 1)
}

func TestBatchRunAllFailed(t *testing.T) {
	failures := map[string]error{
		"x": &backtestDomain.ValidationError{Reasons: []string{"bad params"}},
	}
	store := memory.NewStore()
	svc := NewService(store, newScripted(failures, 99), store, Config{Workers: 1})

	run, err := svc.Run(context.Background(), testGrid("x"))
	require.NoError(t, err)
	require.Equal(t, batchDomain.StatusFailed, run.Status)
	require.Equal(t, 1, run.ErrorSummary()[batchDomain.CategoryParameterError])
}

func TestRetryOnlyTransientFailures(t *testing.T) {
	failures := map[string]error{
		"flaky": &backtestDomain.EngineError{Backend: "scripted", Err: errors.New("transient")},
		"bad":   &backtestDomain.ValidationError{Reasons: []string{"invalid window"}},
	}
	store := memory.NewStore()
	adapter := newScripted(failures, 1) // 第一次失敗，重試成功
	svc := NewService(store, adapter, store, Config{Workers: 2, MaxAttempts: 3})

	grid := testGrid("ok", "flaky", "bad")
	run, err := svc.Run(context.Background(), grid)
	require.NoError(t, err)
	require.Equal(t, batchDomain.StatusPartial, run.Status)
	require.Equal(t, 2, run.FailedItems())

	retried, err := svc.Retry(context.Background(), run.ID, grid)
	require.NoError(t, err)

	// flaky 重跑成功；bad 屬 PARAMETER_ERROR 不得重試。
	require.Equal(t, batchDomain.StatusPartial, retried.Status)
	require.Equal(t, 2, retried.SucceededItems())
	require.Equal(t, 1, retried.FailedItems())
	require.Equal(t, []string{"bad"}, retried.FailedItemIDs())

	// 歷史以追加保存：flaky 有兩筆結果。
	require.Equal(t, 2, retried.AttemptsFor("flaky"))
	require.Equal(t, 1, retried.AttemptsFor("bad"))
}

func TestRetryStopsAtAttemptCap(t *testing.T) {
	failures := map[string]error{
		"flaky": &backtestDomain.EngineError{Backend: "scripted", Err: errors.New("still down")},
	}
	store := memory.NewStore()
	svc := NewService(store, newScripted(failures, 99), store, Config{Workers: 1, MaxAttempts: 2})

	grid := testGrid("flaky")
	run, err := svc.Run(context.Background(), grid)
	require.NoError(t, err)
	require.Equal(t, batchDomain.StatusFailed, run.Status)

	first, err := svc.Retry(context.Background(), run.ID, grid)
	require.NoError(t, err)
	require.Equal(t, 2, first.AttemptsFor("flaky"))

	// 已達上限：不再執行，批次維持原狀。
	second, err := svc.Retry(context.Background(), run.ID, grid)
	require.NoError(t, err)
	require.Equal(t, 2, second.AttemptsFor("flaky"))
	require.Equal(t, batchDomain.StatusFailed, second.Status)
}

func TestCancelBeforeCompletion(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, newScripted(nil, 0), store, Config{})

	run, err := svc.CreateBatch(context.Background(), testGrid("a", "b"))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, batchDomain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = svc.Cancel(context.Background(), run.ID)
	require.Error(t, err)
}

func TestCreateBatchValidatesGrid(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, newScripted(nil, 0), store, Config{})

	_, err := svc.CreateBatch(context.Background(), backtestDomain.ParamGrid{Name: "empty"})
	var verr *backtestDomain.ValidationError
	require.ErrorAs(t, err, &verr)

	dup := testGrid("same", "same")
	_, err = svc.CreateBatch(context.Background(), dup)
	require.ErrorAs(t, err, &verr)
}
