package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"backtest-core/internal/domain/market"
)

func TestMarketDataRepo_InsertBar(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketDataRepo(db)
	bar := market.Bar{
		Symbol:    "AAPL",
		TradeDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:      99.5, High: 101, Low: 99, Close: 100,
		Volume: 12000,
	}

	mock.ExpectExec("INSERT INTO daily_bars").
		WithArgs("AAPL", bar.TradeDate, 99.5, 101.0, 99.0, 100.0, int64(12000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.InsertBar(context.Background(), bar); err != nil {
		t.Fatalf("InsertBar failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarketDataRepo_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	repo := NewMarketDataRepo(db)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)

	rows := sqlmock.NewRows([]string{"symbol", "trade_date", "open_price", "high_price", "low_price", "close_price", "volume"}).
		AddRow("AAPL", start, 99.5, 101.0, 99.0, 100.0, int64(12000)).
		AddRow("AAPL", start.AddDate(0, 0, 1), 100.0, 102.0, 99.5, 101.5, int64(9000))

	mock.ExpectQuery("SELECT (.+) FROM daily_bars").
		WithArgs("AAPL", start, end).
		WillReturnRows(rows)

	series, err := repo.History(context.Background(), "AAPL", start, end)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(series))
	}
	if err := series.Validate(); err != nil {
		t.Errorf("series invalid: %v", err)
	}
	if series[1].Close != 101.5 {
		t.Errorf("close mismatch: %v", series[1].Close)
	}
}
