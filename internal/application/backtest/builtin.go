package backtest

import (
	"sort"

	"backtest-core/internal/domain/market"
)

// RegisterBuiltins 註冊內建示範策略。外部策略可自行 Register，
// 內建款只確保系統開箱可跑。
func RegisterBuiltins(r *StrategyRegistry) {
	r.Register("buy-and-hold", BuyAndHold)
	r.Register("sma-cross", SMACross)
}

// BuyAndHold 在第一根有報價的 bar 把資金平均分到各標的後不再動作。
// 參數 allocation_pct（預設 0.95）控制投入比例。
func BuyAndHold(bar BarContext, portfolio PortfolioView) []OrderIntent {
	if len(portfolio.Positions) > 0 || len(bar.Bars) == 0 {
		return nil
	}
	alloc := 0.95
	if v, ok := bar.Params["allocation_pct"]; ok && v > 0 && v <= 1 {
		alloc = v
	}
	budget := portfolio.Cash * alloc / float64(len(bar.Bars))

	var intents []OrderIntent
	for _, sym := range sortedBarSymbols(bar.Bars) {
		price := bar.Bars[sym].Close
		if price <= 0 {
			continue
		}
		qty := float64(int(budget / price))
		if qty <= 0 {
			continue
		}
		intents = append(intents, OrderIntent{Symbol: sym, Side: "BUY", Quantity: qty})
	}
	return intents
}

// SMACross 為雙均線交叉：短均線上穿長均線買進、下穿賣出。
// 參數 fast_window（預設 5）、long window slow_window（預設 20）、
// allocation_pct（預設 0.3，單一標的投入比例）。
func SMACross(bar BarContext, portfolio PortfolioView) []OrderIntent {
	fast := windowParam(bar.Params, "fast_window", 5)
	slow := windowParam(bar.Params, "slow_window", 20)
	if fast >= slow {
		return nil
	}
	alloc := 0.3
	if v, ok := bar.Params["allocation_pct"]; ok && v > 0 && v <= 1 {
		alloc = v
	}

	var intents []OrderIntent
	for _, sym := range sortedBarSymbols(bar.Bars) {
		series := bar.History[sym]
		if len(series) < slow+1 {
			continue
		}
		fastNow := smaAt(series, len(series), fast)
		slowNow := smaAt(series, len(series), slow)
		fastPrev := smaAt(series, len(series)-1, fast)
		slowPrev := smaAt(series, len(series)-1, slow)

		held := portfolio.Positions[sym]
		crossedUp := fastPrev <= slowPrev && fastNow > slowNow
		crossedDown := fastPrev >= slowPrev && fastNow < slowNow

		switch {
		case crossedUp && held == 0:
			price := bar.Bars[sym].Close
			if price <= 0 {
				continue
			}
			qty := float64(int(portfolio.Cash * alloc / price))
			if qty > 0 {
				intents = append(intents, OrderIntent{Symbol: sym, Side: "BUY", Quantity: qty})
			}
		case crossedDown && held > 0:
			intents = append(intents, OrderIntent{Symbol: sym, Side: "SELL", Quantity: held})
		}
	}
	return intents
}

// smaAt 取 series[:end] 尾端 window 根收盤的簡單平均。
func smaAt(series market.Series, end, window int) float64 {
	if end < window || window <= 0 {
		return 0
	}
	sum := 0.0
	for i := end - window; i < end; i++ {
		sum += series[i].Close
	}
	return sum / float64(window)
}

func windowParam(params map[string]float64, key string, fallback int) int {
	if v, ok := params[key]; ok && v >= 1 {
		return int(v)
	}
	return fallback
}

func sortedBarSymbols(bars map[string]market.Bar) []string {
	out := make([]string, 0, len(bars))
	for sym := range bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
