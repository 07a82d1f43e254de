package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lib/pq"

	backtestDomain "backtest-core/internal/domain/backtest"
)

// RunResultRepo 保存完整回測結果；payload 以 JSONB 保存，
// 標的清單另存陣列欄位供查詢。
type RunResultRepo struct {
	db *sql.DB
}

// NewRunResultRepo 建立新實例。
func NewRunResultRepo(db *sql.DB) *RunResultRepo {
	return &RunResultRepo{db: db}
}

// SaveResult 寫入或覆蓋單次回測結果。
func (r *RunResultRepo) SaveResult(ctx context.Context, result backtestDomain.RunResult) error {
	if result.Meta.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	const q = `
INSERT INTO run_results (run_id, adapter_mode, execution_fidelity, data_snapshot_id, symbols, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (run_id) DO UPDATE SET
    payload = EXCLUDED.payload,
    symbols = EXCLUDED.symbols;
`
	_, err = r.db.ExecContext(ctx, q,
		result.Meta.RunID, result.Meta.AdapterMode, string(result.Meta.ExecutionFidelity),
		result.Meta.DataSnapshotID, pq.Array(tradeSymbols(result)), payload,
	)
	return err
}

// GetResult 依 run ID 取得完整結果。
func (r *RunResultRepo) GetResult(ctx context.Context, runID string) (backtestDomain.RunResult, error) {
	const q = `
SELECT payload FROM run_results WHERE run_id=$1;
`
	var payload []byte
	if err := r.db.QueryRowContext(ctx, q, runID).Scan(&payload); err != nil {
		return backtestDomain.RunResult{}, err
	}
	var result backtestDomain.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return backtestDomain.RunResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

// ListBySymbol 列出曾交易指定標的的 run ID（新到舊）。
func (r *RunResultRepo) ListBySymbol(ctx context.Context, symbol string) ([]string, error) {
	const q = `
SELECT run_id FROM run_results WHERE $1 = ANY(symbols) ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReferencedSnapshots 回傳所有結果仍引用的快照 ID，供孤兒清理使用。
func (r *RunResultRepo) ReferencedSnapshots(ctx context.Context) (map[string]bool, error) {
	const q = `
SELECT DISTINCT data_snapshot_id FROM run_results WHERE data_snapshot_id <> '';
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// tradeSymbols 取結果中出現過的標的（去重排序）。
func tradeSymbols(result backtestDomain.RunResult) []string {
	seen := make(map[string]struct{})
	for _, t := range result.Trades {
		seen[t.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
