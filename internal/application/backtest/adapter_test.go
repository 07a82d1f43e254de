package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	backtestDomain "backtest-core/internal/domain/backtest"
	"backtest-core/internal/domain/market"
	"backtest-core/internal/infrastructure/snapshot"
)

func risingDataset(symbols []string, start time.Time, days int) market.Dataset {
	data := make(market.Dataset, len(symbols))
	for i, sym := range symbols {
		series := make(market.Series, 0, days)
		base := 100.0 + float64(i)*50
		for d := 0; d < days; d++ {
			price := base + float64(d)
			series = append(series, market.Bar{
				Symbol:    sym,
				TradeDate: start.AddDate(0, 0, d),
				Open:      price - 0.5,
				High:      price + 1,
				Low:       price - 1,
				Close:     price,
				Volume:    10000,
			})
		}
		data[sym] = series
	}
	return data
}

func newTestRegistry(t *testing.T) *snapshot.Registry {
	t.Helper()
	reg, err := snapshot.NewRegistry(t.TempDir())
	require.NoError(t, err)
	return reg
}

func newTestStrategies() *StrategyRegistry {
	r := NewStrategyRegistry()
	RegisterBuiltins(r)
	return r
}

func TestNativeRunBuyAndHold(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	meta, err := reg.Create(risingDataset([]string{"AAPL"}, start, 10))
	require.NoError(t, err)

	adapter := NewNativeAdapter(newTestStrategies(), reg, nil)
	result, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 9),
		DataSnapshotID: meta.ID,
		LatencyProfile: "instant",
		InitialCash:    100000,
		Seed:           1,
	})
	require.NoError(t, err)

	require.Len(t, result.EquityCurve, 10)
	require.Equal(t, backtestDomain.FidelityNative, result.Meta.ExecutionFidelity)
	require.Equal(t, "native-sim", result.Meta.AdapterMode)
	require.Equal(t, meta.ID, result.Meta.DataSnapshotID)
	require.NotEmpty(t, result.Meta.RunID)

	// 價格逐日上漲，滿倉持有的 roi 必為正。
	require.Greater(t, result.Metrics[backtestDomain.MetricROI], 0.0)
	require.Equal(t, result.EquityCurve[9].Equity, result.Metrics[backtestDomain.MetricEndingValue])
	// 持有未平倉，不產生已完成交易。
	require.Zero(t, result.Metrics[backtestDomain.MetricTradeCount])
}

func TestNativeRejectsUnknownStrategy(t *testing.T) {
	adapter := NewNativeAdapter(newTestStrategies(), newTestRegistry(t), nil)
	_, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "no-such-strategy",
		Symbols:        []string{"AAPL"},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		LatencyProfile: "normal",
	})
	var verr *backtestDomain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestNativeRejectsUnknownLatencyProfile(t *testing.T) {
	adapter := NewNativeAdapter(newTestStrategies(), newTestRegistry(t), nil)
	_, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		LatencyProfile: "warp-speed",
	})
	var verr *backtestDomain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRunWithoutSnapshotOrProvider(t *testing.T) {
	adapter := NewNativeAdapter(newTestStrategies(), newTestRegistry(t), nil)
	_, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		LatencyProfile: "normal",
	})
	var derr *backtestDomain.DataError
	require.ErrorAs(t, err, &derr)
}

type staticProvider struct {
	data market.Dataset
}

func (p staticProvider) History(_ context.Context, symbol string, _, _ time.Time) (market.Series, error) {
	return p.data[symbol], nil
}

func TestProviderRunPinsSnapshot(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	provider := staticProvider{data: risingDataset([]string{"AAPL"}, start, 10)}

	adapter := NewNativeAdapter(newTestStrategies(), reg, provider)
	result, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 9),
		LatencyProfile: "instant",
		Seed:           1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Meta.DataSnapshotID)

	// 固化後的快照可直接重播。
	_, _, err = reg.Load(result.Meta.DataSnapshotID)
	require.NoError(t, err)
}

func TestNativeRunHonorsContext(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	meta, err := reg.Create(risingDataset([]string{"AAPL"}, start, 10))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewNativeAdapter(newTestStrategies(), reg, nil)
	_, err = adapter.Run(ctx, backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 9),
		DataSnapshotID: meta.ID,
		LatencyProfile: "instant",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestProxyRunImmediateFills(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	meta, err := reg.Create(risingDataset([]string{"AAPL", "MSFT"}, start, 10))
	require.NoError(t, err)

	adapter := NewProxyAdapter(newTestStrategies(), reg, nil)
	result, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL", "MSFT"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 9),
		DataSnapshotID: meta.ID,
		LatencyProfile: "normal",
		InitialCash:    100000,
	})
	require.NoError(t, err)
	require.Equal(t, backtestDomain.FidelityProxy, result.Meta.ExecutionFidelity)
	require.Len(t, result.EquityCurve, 10)
	require.Greater(t, result.Metrics[backtestDomain.MetricROI], 0.0)
}

func TestProxyAndNativeAgreeOnDirection(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	meta, err := reg.Create(risingDataset([]string{"AAPL"}, start, 20))
	require.NoError(t, err)

	req := backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 19),
		DataSnapshotID: meta.ID,
		LatencyProfile: "instant",
		InitialCash:    100000,
		Seed:           1,
	}
	strategies := newTestStrategies()

	native, err := NewNativeAdapter(strategies, reg, nil).Run(context.Background(), req)
	require.NoError(t, err)
	proxy, err := NewProxyAdapter(strategies, reg, nil).Run(context.Background(), req)
	require.NoError(t, err)

	// 兩個後端各自記帳，但同一份資料上同方向策略的 roi 正負一致。
	require.Greater(t, native.Metrics[backtestDomain.MetricROI], 0.0)
	require.Greater(t, proxy.Metrics[backtestDomain.MetricROI], 0.0)
	// 成交價與手續費模型不同，容許差異但不應離譜。
	require.InDelta(t, native.Metrics[backtestDomain.MetricROI], proxy.Metrics[backtestDomain.MetricROI], 0.05)
}

func TestShadowRevaluesCandidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t)
	meta, err := reg.Create(risingDataset([]string{"AAPL"}, start, 10))
	require.NoError(t, err)

	strategies := newTestStrategies()
	candidate := NewProxyAdapter(strategies, reg, nil)
	adapter := NewShadowAdapter(candidate, reg)

	require.Equal(t, "shadow(proxy-barclose)", adapter.Mode())
	require.Equal(t, backtestDomain.FidelityShadow, adapter.Fidelity())

	result, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "buy-and-hold",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 9),
		DataSnapshotID: meta.ID,
		LatencyProfile: "normal",
		InitialCash:    100000,
	})
	require.NoError(t, err)
	require.Equal(t, backtestDomain.FidelityShadow, result.Meta.ExecutionFidelity)
	require.Equal(t, "shadow(proxy-barclose)", result.Meta.AdapterMode)
	require.Len(t, result.EquityCurve, 10)
	require.Contains(t, result.Metrics, backtestDomain.MetricROI)
}

func TestSMACrossRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// 先漲 30 天再跌 30 天，確保均線產生上穿與下穿各一次。
	series := make(market.Series, 0, 60)
	price := 100.0
	for d := 0; d < 60; d++ {
		if d < 30 {
			price += 2
		} else {
			price -= 2
		}
		series = append(series, market.Bar{
			Symbol:    "AAPL",
			TradeDate: start.AddDate(0, 0, d),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    5000,
		})
	}
	reg := newTestRegistry(t)
	meta, err := reg.Create(market.Dataset{"AAPL": series})
	require.NoError(t, err)

	adapter := NewProxyAdapter(newTestStrategies(), reg, nil)
	result, err := adapter.Run(context.Background(), backtestDomain.RunRequest{
		StrategyID:     "sma-cross",
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 59),
		Params:         map[string]float64{"fast_window": 3, "slow_window": 10},
		LatencyProfile: "normal",
		DataSnapshotID: meta.ID,
		InitialCash:    100000,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Metrics[backtestDomain.MetricTradeCount], 1.0)
	require.NotEmpty(t, result.Trades)
	require.Equal(t, "AAPL", result.Trades[0].Symbol)
}
