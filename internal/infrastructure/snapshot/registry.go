package snapshot

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"backtest-core/internal/domain/backtest"
	"backtest-core/internal/domain/market"
)

// Snapshot 為不可變、以內容定址的價格資料快照中繼資料。
// 相同輸入永遠得到相同 ID，重複建立自動去重。
type Snapshot struct {
	ID          string         `json:"id"`
	Symbols     []string       `json:"symbols"`
	StartDate   time.Time      `json:"start_date"`
	EndDate     time.Time      `json:"end_date"`
	CreatedAt   time.Time      `json:"created_at"`
	FileSizes   map[string]int `json:"file_sizes"`
	RowCount    int            `json:"row_count"`
	ContentHash string         `json:"content_hash"`
}

// Filter 提供 List 查詢條件；零值代表不過濾。
type Filter struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

// Registry 以檔案系統實作快照儲存；注入 storage root，
// 不使用任何 process-wide 單例，測試可並存多個 registry。
type Registry struct {
	root string
	now  func() time.Time
}

// NewRegistry 建立 registry 並確保目錄存在。
func NewRegistry(root string) (*Registry, error) {
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Registry{root: dir, now: time.Now}, nil
}

// Create 建立（或取回既有的）快照。ID 為排序後標的清單加上
// 各標的內容的確定性雜湊：載入順序不影響結果。
func (r *Registry) Create(data market.Dataset) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, &backtest.DataError{Reason: "dataset is empty"}
	}
	symbols := data.Symbols()
	encoded := make(map[string][]byte, len(symbols))
	for _, sym := range symbols {
		series := data[sym]
		if err := series.Validate(); err != nil {
			return Snapshot{}, &backtest.DataError{Reason: fmt.Sprintf("series %s: %v", sym, err)}
		}
		buf, err := encodeSeries(series)
		if err != nil {
			return Snapshot{}, err
		}
		encoded[sym] = buf
	}

	hash := contentHash(symbols, encoded)
	id := "snap-" + hash[:16]
	dir := filepath.Join(r.root, id)

	// 相同 ID 已存在：去重，直接回傳既有快照。
	if existing, err := r.manifest(id); err == nil {
		return existing, nil
	}

	var start, end time.Time
	rowCount := 0
	sizes := make(map[string]int, len(symbols))
	for _, sym := range symbols {
		s, e, _ := data[sym].Range()
		if start.IsZero() || s.Before(start) {
			start = s
		}
		if e.After(end) {
			end = e
		}
		rowCount += len(data[sym])
		sizes[sym] = len(encoded[sym])
	}

	meta := Snapshot{
		ID:          id,
		Symbols:     symbols,
		StartDate:   start,
		EndDate:     end,
		CreatedAt:   r.now().UTC(),
		FileSizes:   sizes,
		RowCount:    rowCount,
		ContentHash: hash,
	}

	// 先寫入暫存目錄再 rename，寫到一半當機不會留下半套快照。
	tmp, err := os.MkdirTemp(r.root, ".tmp-"+id+"-")
	if err != nil {
		return Snapshot{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, sym := range symbols {
		if err := os.WriteFile(filepath.Join(tmp, sym+".csv"), encoded[sym], 0o644); err != nil {
			return Snapshot{}, fmt.Errorf("write %s.csv: %w", sym, err)
		}
	}
	manifest, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	if err := os.WriteFile(filepath.Join(tmp, "manifest.json"), manifest, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		// 併發建立同一快照時 rename 會失敗；既有者必然內容相同。
		if existing, mErr := r.manifest(id); mErr == nil {
			return existing, nil
		}
		return Snapshot{}, fmt.Errorf("finalize snapshot: %w", err)
	}
	return meta, nil
}

// Load 讀回快照資料；重新計算內容雜湊，不符即視為資料毀損，
// 回傳 DataError（不可重試）。
func (r *Registry) Load(id string) (market.Dataset, Snapshot, error) {
	meta, err := r.manifest(id)
	if err != nil {
		return nil, Snapshot{}, err
	}
	data := make(market.Dataset, len(meta.Symbols))
	encoded := make(map[string][]byte, len(meta.Symbols))
	for _, sym := range meta.Symbols {
		buf, err := os.ReadFile(filepath.Join(r.root, id, sym+".csv"))
		if err != nil {
			return nil, Snapshot{}, &backtest.DataError{SnapshotID: id, Reason: fmt.Sprintf("read %s.csv: %v", sym, err)}
		}
		encoded[sym] = buf
		series, err := decodeSeries(sym, buf)
		if err != nil {
			return nil, Snapshot{}, &backtest.DataError{SnapshotID: id, Reason: err.Error()}
		}
		data[sym] = series
	}
	if got := contentHash(meta.Symbols, encoded); got != meta.ContentHash {
		return nil, Snapshot{}, &backtest.DataError{SnapshotID: id, Reason: "content hash mismatch (corruption)"}
	}
	return data, meta, nil
}

// List 依標的、日期與筆數過濾既有快照（建立時間新到舊）。
func (r *Registry) List(filter Filter) ([]Snapshot, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		meta, err := r.manifest(entry.Name())
		if err != nil {
			continue
		}
		if filter.Symbol != "" && !contains(meta.Symbols, filter.Symbol) {
			continue
		}
		if !filter.From.IsZero() && meta.EndDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && meta.StartDate.After(filter.To) {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete 移除單一快照。
func (r *Registry) Delete(id string) error {
	if _, err := r.manifest(id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(r.root, id))
}

// CleanupOrphans 刪除不再被任何 run 結果引用的快照，回傳被移除的 ID。
func (r *Registry) CleanupOrphans(referenced map[string]bool) ([]string, error) {
	all, err := r.List(Filter{})
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, meta := range all {
		if referenced[meta.ID] {
			continue
		}
		if err := r.Delete(meta.ID); err != nil {
			return removed, err
		}
		removed = append(removed, meta.ID)
	}
	return removed, nil
}

func (r *Registry) manifest(id string) (Snapshot, error) {
	buf, err := os.ReadFile(filepath.Join(r.root, id, "manifest.json"))
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s not found: %w", id, err)
	}
	var meta Snapshot
	if err := json.Unmarshal(buf, &meta); err != nil {
		return Snapshot{}, &backtest.DataError{SnapshotID: id, Reason: fmt.Sprintf("manifest corrupted: %v", err)}
	}
	return meta, nil
}

// contentHash 對排序後的標的與各自的正規化內容計算 sha256。
func contentHash(symbols []string, encoded map[string][]byte) string {
	h := sha256.New()
	for _, sym := range symbols {
		h.Write([]byte(sym))
		h.Write([]byte{'\n'})
		h.Write(encoded[sym])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// encodeSeries 以固定欄位順序與格式輸出 CSV，確保逐位元可重現。
func encodeSeries(series market.Series) ([]byte, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return nil, err
	}
	for _, b := range series {
		record := []string{
			b.TradeDate.Format("2006-01-02"),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func decodeSeries(symbol string, buf []byte) (market.Series, error) {
	reader := csv.NewReader(strings.NewReader(string(buf)))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s.csv: %w", symbol, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s.csv is empty", symbol)
	}
	series := make(market.Series, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 6 {
			return nil, fmt.Errorf("%s.csv row %d: expected 6 fields, got %d", symbol, i+1, len(rec))
		}
		date, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s.csv row %d: %w", symbol, i+1, err)
		}
		open, err1 := strconv.ParseFloat(rec[1], 64)
		high, err2 := strconv.ParseFloat(rec[2], 64)
		low, err3 := strconv.ParseFloat(rec[3], 64)
		clos, err4 := strconv.ParseFloat(rec[4], 64)
		volume, err5 := strconv.ParseInt(rec[5], 10, 64)
		for _, e := range []error{err1, err2, err3, err4, err5} {
			if e != nil {
				return nil, fmt.Errorf("%s.csv row %d: %w", symbol, i+1, e)
			}
		}
		series = append(series, market.Bar{
			Symbol:    symbol,
			TradeDate: date,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     clos,
			Volume:    volume,
		})
	}
	return series, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
