package equivalence

import (
	"context"
	"fmt"
	"sort"
	"time"

	backtestApp "backtest-core/internal/application/backtest"
	backtestDomain "backtest-core/internal/domain/backtest"
)

// Confidence 表示等價判定的可信度。
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ToleranceProfile 定義各指標允許的偏差；EndingValue 以相對值比較，
// 其餘指標比較絕對差。
type ToleranceProfile struct {
	Name       string             `json:"name"`
	Thresholds map[string]float64 `json:"thresholds"`
}

// DefaultTolerance 為日 K 回測的預設容忍度。
func DefaultTolerance() ToleranceProfile {
	return ToleranceProfile{
		Name: "default",
		Thresholds: map[string]float64{
			backtestDomain.MetricROI:         0.005,
			backtestDomain.MetricCAGR:        0.01,
			backtestDomain.MetricMaxDrawdown: 0.01,
			backtestDomain.MetricEndingValue: 0.005, // 相對
			backtestDomain.MetricTradeCount:  0,
			backtestDomain.MetricWinRate:     0.02,
		},
	}
}

// Scenario 描述一組等價比對：同一請求在兩個後端各跑 N 次。
type Scenario struct {
	Name      string                   `json:"name"`
	Request   backtestDomain.RunRequest `json:"request"`
	Tolerance ToleranceProfile         `json:"tolerance"`
	Samples   int                      `json:"samples"`
}

// MetricDelta 記錄單一指標的中位數與偏差。
type MetricDelta struct {
	Metric          string  `json:"metric"`
	ReferenceMedian float64 `json:"reference_median"`
	CandidateMedian float64 `json:"candidate_median"`
	Delta           float64 `json:"delta"`
	Threshold       float64 `json:"threshold"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// Record 為一次等價比對的完整輸出。
type Record struct {
	Scenario           string        `json:"scenario"`
	ReferenceMode      string        `json:"reference_mode"`
	CandidateMode      string        `json:"candidate_mode"`
	CandidateFidelity  backtestDomain.ExecutionFidelity `json:"candidate_fidelity"`
	Samples            int           `json:"samples"`
	Deltas             []MetricDelta `json:"deltas"`
	StrategyEquivalent bool          `json:"strategy_equivalent"`
	Confidence         Confidence    `json:"confidence"`
	Notes              []string      `json:"notes,omitempty"`
	EvaluatedAt        time.Time     `json:"evaluated_at"`
}

// Evaluator 在參考後端與候選後端之間執行容忍度比對。
type Evaluator struct {
	reference backtestApp.Adapter
	candidate backtestApp.Adapter
	now       func() time.Time
}

// NewEvaluator 建立 evaluator。
func NewEvaluator(reference, candidate backtestApp.Adapter) *Evaluator {
	return &Evaluator{reference: reference, candidate: candidate, now: time.Now}
}

// Evaluate 各跑 N 次取每指標中位數後比對。任一側執行失敗即
// 整個比對失敗，不產生部分結果。
func (e *Evaluator) Evaluate(ctx context.Context, sc Scenario) (Record, error) {
	samples := sc.Samples
	if samples <= 0 {
		samples = 3
	}
	tolerance := sc.Tolerance
	if len(tolerance.Thresholds) == 0 {
		tolerance = DefaultTolerance()
	}

	refMetrics, err := e.collect(ctx, e.reference, sc.Request, samples)
	if err != nil {
		return Record{}, fmt.Errorf("reference runs: %w", err)
	}
	candMetrics, err := e.collect(ctx, e.candidate, sc.Request, samples)
	if err != nil {
		return Record{}, fmt.Errorf("candidate runs: %w", err)
	}

	record := Record{
		Scenario:          sc.Name,
		ReferenceMode:     e.reference.Mode(),
		CandidateMode:     e.candidate.Mode(),
		CandidateFidelity: e.candidate.Fidelity(),
		Samples:           samples,
		EvaluatedAt:       e.now(),
	}

	keys := make([]string, 0, len(tolerance.Thresholds))
	for k := range tolerance.Thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	equivalent := true
	for _, metric := range keys {
		threshold := tolerance.Thresholds[metric]
		refMed := median(refMetrics[metric])
		candMed := median(candMetrics[metric])

		delta := candMed - refMed
		if delta < 0 {
			delta = -delta
		}
		// ending_value 數值級距大，以相對偏差比較。
		if metric == backtestDomain.MetricEndingValue && refMed != 0 {
			delta = delta / refMed
			if delta < 0 {
				delta = -delta
			}
		}

		within := delta <= threshold
		if !within {
			equivalent = false
			record.Notes = append(record.Notes, fmt.Sprintf(
				"%s outside tolerance: |%.6f - %.6f| = %.6f > %.6f",
				metric, candMed, refMed, delta, threshold))
		}
		record.Deltas = append(record.Deltas, MetricDelta{
			Metric:          metric,
			ReferenceMedian: refMed,
			CandidateMedian: candMed,
			Delta:           delta,
			Threshold:       threshold,
			WithinTolerance: within,
		})
	}
	record.StrategyEquivalent = equivalent
	record.Confidence = e.confidence(equivalent, samples)
	return record, nil
}

// collect 重複執行並收集每個指標的樣本。
func (e *Evaluator) collect(ctx context.Context, adapter backtestApp.Adapter, req backtestDomain.RunRequest, samples int) (map[string][]float64, error) {
	out := make(map[string][]float64)
	for i := 0; i < samples; i++ {
		result, err := adapter.Run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i+1, err)
		}
		for metric, value := range result.Metrics {
			out[metric] = append(out[metric], value)
		}
	}
	return out, nil
}

// confidence 由結果與樣本數推導可信度；候選端為 shadow fidelity 時
// 上限為 medium，影子估值不得宣告高可信度。
func (e *Evaluator) confidence(equivalent bool, samples int) Confidence {
	c := ConfidenceLow
	if equivalent {
		c = ConfidenceMedium
		if samples >= 5 {
			c = ConfidenceHigh
		}
	}
	if c == ConfidenceHigh && e.candidate.Fidelity() == backtestDomain.FidelityShadow {
		c = ConfidenceMedium
	}
	return c
}

// median 取樣本中位數；偶數個取中間兩數平均。
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
