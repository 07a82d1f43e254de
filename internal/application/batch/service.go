package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	backtestApp "backtest-core/internal/application/backtest"
	backtestDomain "backtest-core/internal/domain/backtest"
	batchDomain "backtest-core/internal/domain/batch"
	"backtest-core/internal/infrastructure/metrics"
)

// Repository 為批次紀錄的持久化介面；由呼叫端定義，postgres 與
// 記憶體實作各自滿足。
type Repository interface {
	SaveBatch(ctx context.Context, run batchDomain.Run) error
	GetBatch(ctx context.Context, id string) (batchDomain.Run, error)
	ListBatches(ctx context.Context) ([]batchDomain.Run, error)
}

// ResultStore 保存成功項目的完整回測結果；nil 表示不保存。
type ResultStore interface {
	SaveResult(ctx context.Context, result backtestDomain.RunResult) error
}

// Config 控制批次執行的平行度與重試策略。
type Config struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Service 為批次回測的應用服務：建立、執行、彙總與重試。
type Service struct {
	repo    Repository
	results ResultStore
	adapter backtestApp.Adapter
	cfg     Config
	now     func() time.Time

	// 序列化單一批次的結果追加；各 worker 的模擬器彼此獨立。
	mu sync.Mutex
}

// NewService 建立批次服務。results 可為 nil。
func NewService(repo Repository, adapter backtestApp.Adapter, results ResultStore, cfg Config) *Service {
	return &Service{
		repo:    repo,
		results: results,
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// CreateBatch 建立 PENDING 批次並持久化。
func (s *Service) CreateBatch(ctx context.Context, grid backtestDomain.ParamGrid) (batchDomain.Run, error) {
	if err := grid.Validate(); err != nil {
		return batchDomain.Run{}, err
	}
	run := batchDomain.Run{
		ID:         uuid.NewString(),
		Status:     batchDomain.StatusPending,
		TotalItems: len(grid.Sets),
		GridName:   grid.Name,
		CreatedAt:  s.now(),
	}
	if err := s.repo.SaveBatch(ctx, run); err != nil {
		return batchDomain.Run{}, fmt.Errorf("save batch: %w", err)
	}
	return run, nil
}

// GetBatch 取得批次現況。
func (s *Service) GetBatch(ctx context.Context, id string) (batchDomain.Run, error) {
	return s.repo.GetBatch(ctx, id)
}

// AddItemResult 追加一筆項目結果；重試以新結果追加，不覆寫歷史。
func (s *Service) AddItemResult(ctx context.Context, batchID string, item batchDomain.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("batch %s already %s", run.ID, run.Status)
	}
	run.Items = append(run.Items, item)
	return s.repo.SaveBatch(ctx, run)
}

// CompleteBatch 在所有項目皆有結果後推導最終狀態。
func (s *Service) CompleteBatch(ctx context.Context, batchID string) (batchDomain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return batchDomain.Run{}, err
	}
	if err := run.Complete(s.now()); err != nil {
		return batchDomain.Run{}, err
	}
	if err := s.repo.SaveBatch(ctx, run); err != nil {
		return batchDomain.Run{}, fmt.Errorf("save batch: %w", err)
	}
	metrics.BatchesTotal.WithLabelValues(string(run.Status)).Inc()
	log.Printf("[Batch] %s finished status=%s succeeded=%d failed=%d throughput=%.2f/s",
		run.ID, run.Status, run.SucceededItems(), run.FailedItems(), run.Throughput)
	return run, nil
}

// Run 建立批次並以 worker pool 執行整個參數網格。
func (s *Service) Run(ctx context.Context, grid backtestDomain.ParamGrid) (batchDomain.Run, error) {
	run, err := s.CreateBatch(ctx, grid)
	if err != nil {
		return batchDomain.Run{}, err
	}
	run.Status = batchDomain.StatusRunning
	if err := s.repo.SaveBatch(ctx, run); err != nil {
		return batchDomain.Run{}, fmt.Errorf("save batch: %w", err)
	}

	if err := s.executePool(ctx, run.ID, grid.Sets, 1); err != nil {
		return batchDomain.Run{}, err
	}
	return s.CompleteBatch(ctx, run.ID)
}

// Retry 只重跑最後一次仍失敗且分類屬暫時性的項目；嘗試次數受
// MaxAttempts 上限約束。
func (s *Service) Retry(ctx context.Context, batchID string, grid backtestDomain.ParamGrid) (batchDomain.Run, error) {
	run, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return batchDomain.Run{}, err
	}

	latestFailed := make(map[string]batchDomain.ItemResult)
	for _, id := range run.FailedItemIDs() {
		for _, it := range run.Items {
			if it.ItemID == id {
				if prev, ok := latestFailed[id]; !ok || it.Attempt >= prev.Attempt {
					latestFailed[id] = it
				}
			}
		}
	}

	var sets []backtestDomain.ParamSet
	for _, set := range grid.Sets {
		last, failed := latestFailed[set.Name]
		if !failed {
			continue
		}
		if !last.ErrorCategory.Retryable() {
			log.Printf("[Batch] %s item=%s category=%s not retryable, skipping", batchID, set.Name, last.ErrorCategory)
			continue
		}
		if run.AttemptsFor(set.Name) >= s.cfg.MaxAttempts {
			log.Printf("[Batch] %s item=%s attempt cap %d reached, skipping", batchID, set.Name, s.cfg.MaxAttempts)
			continue
		}
		metrics.RetriesTotal.WithLabelValues(string(last.ErrorCategory)).Inc()
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return run, nil
	}

	if s.cfg.Backoff > 0 {
		select {
		case <-time.After(s.cfg.Backoff):
		case <-ctx.Done():
			return batchDomain.Run{}, ctx.Err()
		}
	}

	// 重試前回到 RUNNING，讓 Complete 可以重新推導狀態。
	s.mu.Lock()
	run.Status = batchDomain.StatusRunning
	run.CompletedAt = nil
	if err := s.repo.SaveBatch(ctx, run); err != nil {
		s.mu.Unlock()
		return batchDomain.Run{}, fmt.Errorf("save batch: %w", err)
	}
	s.mu.Unlock()

	if err := s.executePool(ctx, batchID, sets, 0); err != nil {
		return batchDomain.Run{}, err
	}
	return s.CompleteBatch(ctx, batchID)
}

// Cancel 將未完成的批次標記為 CANCELLED。
func (s *Service) Cancel(ctx context.Context, batchID string) (batchDomain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return batchDomain.Run{}, err
	}
	if run.Status.Terminal() {
		return batchDomain.Run{}, fmt.Errorf("batch %s already %s", run.ID, run.Status)
	}
	run.Status = batchDomain.StatusCancelled
	now := s.now()
	run.CompletedAt = &now
	if err := s.repo.SaveBatch(ctx, run); err != nil {
		return batchDomain.Run{}, fmt.Errorf("save batch: %w", err)
	}
	metrics.BatchesTotal.WithLabelValues(string(run.Status)).Inc()
	return run, nil
}

// executePool 以固定數量的 worker 平行執行項目。attempt 為 0 時
// 依既有紀錄遞增。
func (s *Service) executePool(ctx context.Context, batchID string, sets []backtestDomain.ParamSet, attempt int) error {
	jobs := make(chan backtestDomain.ParamSet, len(sets))
	var wg sync.WaitGroup
	errCh := make(chan error, len(sets))

	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for set := range jobs {
				metrics.ActiveWorkers.Inc()
				item := s.executeItem(ctx, batchID, set, attempt)
				metrics.ActiveWorkers.Dec()
				if err := s.AddItemResult(ctx, batchID, item); err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}

	for _, set := range sets {
		jobs <- set
	}
	close(jobs)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeItem 執行單一項目並產生結果紀錄。
func (s *Service) executeItem(ctx context.Context, batchID string, set backtestDomain.ParamSet, attempt int) batchDomain.ItemResult {
	if attempt <= 0 {
		if run, err := s.repo.GetBatch(ctx, batchID); err == nil {
			attempt = run.AttemptsFor(set.Name) + 1
		} else {
			attempt = 1
		}
	}

	start := s.now()
	result, err := s.adapter.Run(ctx, set.Request)
	elapsed := time.Since(start)
	metrics.RunDuration.WithLabelValues(s.adapter.Mode()).Observe(elapsed.Seconds())

	item := batchDomain.ItemResult{
		ItemID:     set.Name,
		Attempt:    attempt,
		Duration:   elapsed,
		RecordedAt: s.now(),
	}
	if err != nil {
		category := batchDomain.Classify(err)
		item.ErrorMessage = err.Error()
		item.ErrorCategory = category
		metrics.RunsTotal.WithLabelValues("failure", string(category)).Inc()
		log.Printf("[Worker] batch=%s item=%s attempt=%d failed category=%s: %v", batchID, set.Name, attempt, category, err)
		return item
	}

	item.Success = true
	item.RunID = result.Meta.RunID
	metrics.RunsTotal.WithLabelValues("success", "").Inc()
	if s.results != nil {
		if saveErr := s.results.SaveResult(ctx, result); saveErr != nil {
			log.Printf("[Worker] batch=%s item=%s result save failed: %v", batchID, set.Name, saveErr)
		}
	}
	return item
}
