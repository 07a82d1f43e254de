package batch

import (
	"context"
	"errors"
	"strings"

	"backtest-core/internal/domain/backtest"
)

// ErrorCategory 為批次失敗的固定分類集合。
type ErrorCategory string

const (
	CategoryDataError      ErrorCategory = "DATA_ERROR"
	CategoryParameterError ErrorCategory = "PARAMETER_ERROR"
	CategoryEngineError    ErrorCategory = "ENGINE_ERROR"
	CategoryTimeout        ErrorCategory = "TIMEOUT"
	CategoryMemoryError    ErrorCategory = "MEMORY_ERROR"
	CategoryUnknown        ErrorCategory = "UNKNOWN"
)

// Retryable 回傳此分類是否屬於可重試的暫時性失敗。
// 驗證錯誤與資料毀損重跑也不會好，一律不重試。
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryEngineError:
		return true
	default:
		return false
	}
}

// Classify 將批次項目的錯誤歸類：先比對型別，再以訊息樣式判斷，
// 無法辨識時保守地回傳 UNKNOWN。
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var vErr *backtest.ValidationError
	if errors.As(err, &vErr) {
		return CategoryParameterError
	}
	var dErr *backtest.DataError
	if errors.As(err, &dErr) {
		return CategoryDataError
	}
	var sErr *backtest.SchemaVersionError
	if errors.As(err, &sErr) {
		return CategoryDataError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var eErr *backtest.EngineError
	if errors.As(err, &eErr) {
		return CategoryEngineError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "out of memory") || strings.Contains(msg, "cannot allocate"):
		return CategoryMemoryError
	case strings.Contains(msg, "missing data") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "hash mismatch"):
		return CategoryDataError
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "parameter"):
		return CategoryParameterError
	case strings.Contains(msg, "panic") || strings.Contains(msg, "engine"):
		return CategoryEngineError
	default:
		return CategoryUnknown
	}
}
