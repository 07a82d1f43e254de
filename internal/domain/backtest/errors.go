package backtest

import "fmt"

// ValidationError 表示請求格式錯誤；在任何副作用發生前即回傳。
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request validation failed: %v", e.Reasons)
}

// DataError 表示價格資料缺漏、錯位或毀損（含快照雜湊不符）。
// 單次 run 立即中止，模擬器內不重試。
type DataError struct {
	SnapshotID string
	Reason     string
}

func (e *DataError) Error() string {
	if e.SnapshotID != "" {
		return fmt.Sprintf("data error (snapshot %s): %s", e.SnapshotID, e.Reason)
	}
	return fmt.Sprintf("data error: %s", e.Reason)
}

// EngineError 包裝後端執行期間的非預期錯誤；在批次項目邊界被捕捉分類。
type EngineError struct {
	Backend string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error (%s): %v", e.Backend, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// SchemaVersionError 表示 checkpoint 或快照版本不符；一律拒絕部分還原。
type SchemaVersionError struct {
	Stored  int
	Current int
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("schema version mismatch: stored v%d, current v%d", e.Stored, e.Current)
}
