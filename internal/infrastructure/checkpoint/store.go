package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"backtest-core/internal/domain/backtest"
	executionDomain "backtest-core/internal/domain/execution"
)

// Store 以檔案保存 checkpoint；寫入採 write-to-temp 再 rename，
// 中途當機不會讓既有檔案毀損。
type Store struct {
	root string
}

// NewStore 建立 store 並確保目錄存在。
func NewStore(root string) (*Store, error) {
	dir := filepath.Join(root, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Save 寫入一份 checkpoint；checkpoint 寫入後即不可變。
func (s *Store) Save(cp executionDomain.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	buf, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, ".tmp-"+cp.ID+"-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(cp.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// Load 讀取 checkpoint 並驗證結構版本；版本不符一律 fail closed，
// 不做部分還原。
func (s *Store) Load(id string) (executionDomain.Checkpoint, error) {
	buf, err := os.ReadFile(s.path(id))
	if err != nil {
		return executionDomain.Checkpoint{}, fmt.Errorf("checkpoint %s not found: %w", id, err)
	}
	var cp executionDomain.Checkpoint
	if err := json.Unmarshal(buf, &cp); err != nil {
		return executionDomain.Checkpoint{}, &backtest.DataError{Reason: fmt.Sprintf("checkpoint %s corrupted: %v", id, err)}
	}
	if cp.SchemaVersion != executionDomain.CheckpointSchemaVersion {
		return executionDomain.Checkpoint{}, &backtest.SchemaVersionError{
			Stored:  cp.SchemaVersion,
			Current: executionDomain.CheckpointSchemaVersion,
		}
	}
	return cp, nil
}

// List 回傳所有 checkpoint（建立時間新到舊）。
func (s *Store) List() ([]executionDomain.Checkpoint, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []executionDomain.Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		cp, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete 移除單一 checkpoint。
func (s *Store) Delete(id string) error {
	return os.Remove(s.path(id))
}

// DeleteOlderThan 為保留政策清理入口：移除早於 cutoff 的 checkpoint。
func (s *Store) DeleteOlderThan(cutoff time.Time) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, cp := range all {
		if cp.CreatedAt.Before(cutoff) {
			if err := s.Delete(cp.ID); err != nil {
				return removed, err
			}
			removed = append(removed, cp.ID)
		}
	}
	return removed, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}
