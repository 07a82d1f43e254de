package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	backtestDomain "backtest-core/internal/domain/backtest"
	batchDomain "backtest-core/internal/domain/batch"
	"backtest-core/internal/domain/market"
)

// Store 為無 DSN 模式使用的記憶體資料庫；mutex 保護所有存取。
type Store struct {
	mu      sync.RWMutex
	batches map[string]batchDomain.Run
	results map[string]backtestDomain.RunResult
	prices  map[string]market.Series
}

// NewStore 建立新的記憶體 Store 實例。
func NewStore() *Store {
	return &Store{
		batches: make(map[string]batchDomain.Run),
		results: make(map[string]backtestDomain.RunResult),
		prices:  make(map[string]market.Series),
	}
}

// BatchRepository impl

// SaveBatch 寫入或覆蓋批次紀錄。
func (s *Store) SaveBatch(ctx context.Context, run batchDomain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := run
	copied.Items = append([]batchDomain.ItemResult(nil), run.Items...)
	s.batches[run.ID] = copied
	return nil
}

// GetBatch 依 ID 取得批次紀錄。
func (s *Store) GetBatch(ctx context.Context, id string) (batchDomain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.batches[id]
	if !ok {
		return batchDomain.Run{}, fmt.Errorf("batch %s not found", id)
	}
	copied := run
	copied.Items = append([]batchDomain.ItemResult(nil), run.Items...)
	return copied, nil
}

// ListBatches 回傳所有批次（建立時間新到舊）。
func (s *Store) ListBatches(ctx context.Context) ([]batchDomain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]batchDomain.Run, 0, len(s.batches))
	for _, run := range s.batches {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RunResultRepository impl

// SaveResult 保存單次回測結果。
func (s *Store) SaveResult(ctx context.Context, result backtestDomain.RunResult) error {
	if result.Meta.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.Meta.RunID] = result
	return nil
}

// GetResult 依 run ID 取得回測結果。
func (s *Store) GetResult(ctx context.Context, runID string) (backtestDomain.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[runID]
	if !ok {
		return backtestDomain.RunResult{}, fmt.Errorf("run result %s not found", runID)
	}
	return r, nil
}

// ReferencedSnapshots 回傳所有結果仍引用的快照 ID，供孤兒清理使用。
func (s *Store) ReferencedSnapshots(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, r := range s.results {
		if r.Meta.DataSnapshotID != "" {
			out[r.Meta.DataSnapshotID] = true
		}
	}
	return out, nil
}

// DataProvider impl（測試與無外部資料來源時的本地供給）。

// InsertBar 寫入或覆蓋單檔單日的日 K。
func (s *Store) InsertBar(bar market.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.prices[bar.Symbol]
	for i := range series {
		if series[i].TradeDate.Equal(bar.TradeDate) {
			series[i] = bar
			return
		}
	}
	series = append(series, bar)
	series.Sort()
	s.prices[bar.Symbol] = series
}

// History 回傳指定標的在日期區間內的日 K 序列。
func (s *Store) History(ctx context.Context, symbol string, start, end time.Time) (market.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	out := make(market.Series, 0, len(series))
	for _, bar := range series {
		if bar.TradeDate.Before(start) || bar.TradeDate.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}
