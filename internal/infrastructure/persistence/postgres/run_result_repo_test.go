package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	backtestDomain "backtest-core/internal/domain/backtest"
)

func sampleResult() backtestDomain.RunResult {
	return backtestDomain.RunResult{
		Metrics: map[string]float64{backtestDomain.MetricROI: 0.1},
		Trades: []backtestDomain.Trade{
			{Symbol: "MSFT", Side: "long", Quantity: 10, PNL: 50},
			{Symbol: "AAPL", Side: "long", Quantity: 5, PNL: -10},
			{Symbol: "AAPL", Side: "long", Quantity: 5, PNL: 20},
		},
		Meta: backtestDomain.ResultMeta{
			RunID:             "run-1",
			AdapterMode:       "native-sim",
			ExecutionFidelity: backtestDomain.FidelityNative,
			DataSnapshotID:    "snap-abc",
		},
	}
}

func TestRunResultRepo_SaveResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewRunResultRepo(db)

	// symbols 欄位為去重排序後的交易標的。
	mock.ExpectExec("INSERT INTO run_results").
		WithArgs("run-1", "native-sim", "native", "snap-abc", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveResult(context.Background(), sampleResult()); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunResultRepo_SaveResultRequiresRunID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewRunResultRepo(db)
	result := sampleResult()
	result.Meta.RunID = ""
	if err := repo.SaveResult(context.Background(), result); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestRunResultRepo_GetResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewRunResultRepo(db)

	payload, _ := json.Marshal(sampleResult())
	mock.ExpectQuery("SELECT payload FROM run_results WHERE run_id=").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	result, err := repo.GetResult(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Meta.DataSnapshotID != "snap-abc" {
		t.Errorf("snapshot id mismatch: %s", result.Meta.DataSnapshotID)
	}
	if len(result.Trades) != 3 {
		t.Errorf("expected 3 trades, got %d", len(result.Trades))
	}
}

func TestRunResultRepo_ReferencedSnapshots(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewRunResultRepo(db)

	rows := sqlmock.NewRows([]string{"data_snapshot_id"}).
		AddRow("snap-abc").
		AddRow("snap-def")
	mock.ExpectQuery("SELECT DISTINCT data_snapshot_id FROM run_results").
		WillReturnRows(rows)

	refs, err := repo.ReferencedSnapshots(context.Background())
	if err != nil {
		t.Fatalf("ReferencedSnapshots failed: %v", err)
	}
	if !refs["snap-abc"] || !refs["snap-def"] {
		t.Errorf("missing references: %v", refs)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 references, got %d", len(refs))
	}
}

func TestTradeSymbolsDedupedAndSorted(t *testing.T) {
	syms := tradeSymbols(sampleResult())
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "MSFT" {
		t.Errorf("unexpected symbols: %v", syms)
	}
}
