package market

import (
	"fmt"
	"sort"
	"time"
)

// Bar 描述單一標的的日 K/成交量資料。
type Bar struct {
	Symbol    string
	TradeDate time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64 // 成交量（股）
}

// ValidationError 收集多個驗證失敗原因。
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bar validation failed: %v", e.Reasons)
}

// Validate 檢查欄位是否符合基本完整性條件。
func (b Bar) Validate() error {
	var reasons []string

	if b.Symbol == "" {
		reasons = append(reasons, "symbol is required")
	}
	if b.TradeDate.IsZero() {
		reasons = append(reasons, "trade_date is required")
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 {
		reasons = append(reasons, "price fields must be >= 0")
	}
	if b.High < maxFloat64(b.Open, b.Close, b.Low) {
		reasons = append(reasons, "high must be >= open/close/low")
	}
	if b.Low > minFloat64(b.Open, b.Close, b.High) {
		reasons = append(reasons, "low must be <= open/close/high")
	}
	if b.Volume < 0 {
		reasons = append(reasons, "volume must be >= 0")
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// Series 為單一標的依日期遞增排序的日 K 序列。
type Series []Bar

// Sort 依交易日遞增排序（原地）。
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].TradeDate.Before(s[j].TradeDate)
	})
}

// Range 回傳序列的起訖日期；空序列回傳 false。
func (s Series) Range() (start, end time.Time, ok bool) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s[0].TradeDate, s[len(s)-1].TradeDate, true
}

// Validate 逐筆檢查並要求日期嚴格遞增。
func (s Series) Validate() error {
	for i, b := range s {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar[%d]: %w", i, err)
		}
		if i > 0 && !s[i-1].TradeDate.Before(b.TradeDate) {
			return &ValidationError{Reasons: []string{
				fmt.Sprintf("bar[%d] trade_date must be strictly increasing", i),
			}}
		}
	}
	return nil
}

// Dataset 依標的彙整多檔日 K 序列。
type Dataset map[string]Series

// Symbols 回傳資料集內的標的（排序後）。
func (d Dataset) Symbols() []string {
	out := make([]string, 0, len(d))
	for sym := range d {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RowCount 回傳所有序列的總筆數。
func (d Dataset) RowCount() int {
	total := 0
	for _, s := range d {
		total += len(s)
	}
	return total
}

func maxFloat64(values ...float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minFloat64(values ...float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
