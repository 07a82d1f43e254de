package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	batchDomain "backtest-core/internal/domain/batch"
)

// BatchRepo 實作 batch.Repository，使用 Postgres 儲存。
type BatchRepo struct {
	db *sql.DB
}

// NewBatchRepo 建立新實例。
func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// SaveBatch 寫入或覆蓋批次紀錄；項目結果以 JSONB 保存。
func (r *BatchRepo) SaveBatch(ctx context.Context, run batchDomain.Run) error {
	items, err := json.Marshal(run.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	const q = `
INSERT INTO batch_runs (id, status, total_items, grid_name, items, created_at, completed_at, duration_ms, throughput)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    items = EXCLUDED.items,
    completed_at = EXCLUDED.completed_at,
    duration_ms = EXCLUDED.duration_ms,
    throughput = EXCLUDED.throughput;
`
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, q,
		run.ID, string(run.Status), run.TotalItems, run.GridName, items,
		run.CreatedAt, completedAt, run.Duration.Milliseconds(), run.Throughput,
	)
	return err
}

// GetBatch 依 ID 取得批次紀錄。
func (r *BatchRepo) GetBatch(ctx context.Context, id string) (batchDomain.Run, error) {
	const q = `
SELECT id, status, total_items, grid_name, items, created_at, completed_at, duration_ms, throughput
FROM batch_runs WHERE id=$1;
`
	return r.scanBatch(r.db.QueryRowContext(ctx, q, id))
}

// ListBatches 列出批次（建立時間新到舊）。
func (r *BatchRepo) ListBatches(ctx context.Context) ([]batchDomain.Run, error) {
	const q = `
SELECT id, status, total_items, grid_name, items, created_at, completed_at, duration_ms, throughput
FROM batch_runs ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []batchDomain.Run
	for rows.Next() {
		run, err := r.scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *BatchRepo) scanBatch(row rowScanner) (batchDomain.Run, error) {
	var (
		run         batchDomain.Run
		status      string
		itemsRaw    []byte
		completedAt sql.NullTime
		durationMS  int64
	)
	if err := row.Scan(
		&run.ID, &status, &run.TotalItems, &run.GridName, &itemsRaw,
		&run.CreatedAt, &completedAt, &durationMS, &run.Throughput,
	); err != nil {
		return batchDomain.Run{}, err
	}
	run.Status = batchDomain.Status(status)
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &run.Items); err != nil {
			return batchDomain.Run{}, fmt.Errorf("decode items: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
