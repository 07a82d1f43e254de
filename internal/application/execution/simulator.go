package execution

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	executionDomain "backtest-core/internal/domain/execution"
)

// Config 描述建立一個模擬器所需的全部設定。
type Config struct {
	InitialCash decimal.Decimal
	Risk        executionDomain.RiskConfig
	Profile     executionDomain.LatencyProfile
	FeeRate     decimal.Decimal
	Seed        int64
	StartTime   time.Time
}

// Position 為單一標的持倉。
type Position struct {
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// Simulator 擁有單次 run 的現金、持倉與訂單，依模擬時間循序推進
// 訂單生命週期狀態機。單一 run 內沒有真正的併發：所有延遲動作都
// 在時間排序佇列中等待，於 AdvanceTo 同步套用。
type Simulator struct {
	cfg   Config
	clock time.Time

	cash      decimal.Decimal
	positions map[string]*Position
	orders    map[string]*executionDomain.Order
	orderIDs  []string // 依建立順序，供確定性走訪

	queue   actionQueue
	nextSeq uint64

	risk      executionDomain.RiskConfig
	riskState executionDomain.RiskState

	prices map[string]decimal.Decimal

	rng       *rand.Rand
	randDraws uint64
}

// NewSimulator 建立模擬器並初始化風控狀態。
func NewSimulator(cfg Config) *Simulator {
	s := &Simulator{
		cfg:       cfg,
		clock:     cfg.StartTime,
		cash:      cfg.InitialCash,
		positions: make(map[string]*Position),
		orders:    make(map[string]*executionDomain.Order),
		risk:      cfg.Risk,
		riskState: executionDomain.RiskState{
			PeakValue:       toFloat(cfg.InitialCash),
			DailyStartValue: toFloat(cfg.InitialCash),
			TradingEnabled:  !cfg.Risk.KillSwitch,
			KillSwitch:      cfg.Risk.KillSwitch,
		},
		prices: make(map[string]decimal.Decimal),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	return s
}

// Clock 回傳目前模擬時間。
func (s *Simulator) Clock() time.Time { return s.clock }

// Cash 回傳目前現金。
func (s *Simulator) Cash() decimal.Decimal { return s.cash }

// RiskState 回傳風控狀態的唯讀副本。
func (s *Simulator) RiskState() executionDomain.RiskState { return s.riskState }

// Positions 回傳持倉副本（依標的排序）。
func (s *Simulator) Positions() map[string]Position {
	out := make(map[string]Position, len(s.positions))
	for sym, p := range s.positions {
		out[sym] = *p
	}
	return out
}

// Order 回傳訂單副本。
func (s *Simulator) Order(id string) (executionDomain.Order, bool) {
	o, ok := s.orders[id]
	if !ok {
		return executionDomain.Order{}, false
	}
	return *o, true
}

// Orders 回傳所有訂單副本（依建立順序）。
func (s *Simulator) Orders() []executionDomain.Order {
	out := make([]executionDomain.Order, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		out = append(out, *s.orders[id])
	}
	return out
}

// SetMarketPrice 更新單一標的的最新市價。
func (s *Simulator) SetMarketPrice(symbol string, price decimal.Decimal) {
	s.prices[symbol] = price
}

// Equity 回傳現金加上持倉市值的淨值；無市價的持倉以均價計。
func (s *Simulator) Equity() decimal.Decimal {
	total := s.cash
	for sym, p := range s.positions {
		if p.Quantity.IsZero() {
			continue
		}
		mark, ok := s.prices[sym]
		if !ok {
			mark = p.AvgCost
		}
		total = total.Add(p.Quantity.Mul(mark))
	}
	return total
}

// SubmitOrder 建立新訂單並執行交易前風控。風控拒單回傳 REJECTED
// 訂單與 nil error：拒單是正常終態，不是系統失敗。
func (s *Simulator) SubmitOrder(symbol string, side executionDomain.Side, quantity decimal.Decimal) (executionDomain.Order, error) {
	order := &executionDomain.Order{
		ID:        fmt.Sprintf("ord-%06d", len(s.orders)+1),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Type:      executionDomain.OrderTypeMarket,
		Status:    executionDomain.StatusNew,
		CreatedAt: s.clock,
	}
	s.orders[order.ID] = order
	s.orderIDs = append(s.orderIDs, order.ID)

	if symbol == "" || quantity.Sign() <= 0 {
		return s.reject(order, executionDomain.RejectInvalidOrder), nil
	}
	if reason, ok := s.evaluateRisk(order); !ok {
		return s.reject(order, reason), nil
	}

	if err := order.Transition(executionDomain.StatusPendingSubmit); err != nil {
		return *order, err
	}
	s.schedule(actionSubmit, order.ID, s.clock.Add(s.cfg.Profile.SubmitDelay), decimal.Zero)
	return *order, nil
}

// CancelOrder 排入延遲撤單；目標若先到終態則撤單自然失效，
// 勝負僅由模擬觸發時間決定。
func (s *Simulator) CancelOrder(orderID string) error {
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.Status.Terminal() {
		return nil
	}
	s.schedule(actionCancel, orderID, s.clock.Add(s.cfg.Profile.CancelDelay), decimal.Zero)
	return nil
}

// AdvanceTo 將模擬時鐘推進到 t，依觸發時間（同時間依 FIFO）
// 依序套用所有到期動作。
func (s *Simulator) AdvanceTo(t time.Time) {
	if t.Before(s.clock) {
		return
	}
	for {
		act := s.queue.popDue(t)
		if act == nil {
			break
		}
		s.clock = act.triggerAt
		s.apply(act)
	}
	s.clock = t
	s.markToMarket()
}

// StartNewDay 重設當日起始淨值並解除單日停單；kill-switch 不受影響。
func (s *Simulator) StartNewDay() {
	s.riskState.DailyStartValue = toFloat(s.Equity())
	if !s.riskState.KillSwitch {
		s.riskState.TradingEnabled = true
	}
}

// ResetKillSwitch 為外部重置入口；淨值回升不會自動解除。
func (s *Simulator) ResetKillSwitch() {
	s.riskState.KillSwitch = false
	s.riskState.TradingEnabled = true
}

// --- 內部 ---

func (s *Simulator) reject(order *executionDomain.Order, reason executionDomain.RejectionReason) executionDomain.Order {
	order.Reason = reason
	// NEW -> REJECTED 一定合法，忽略錯誤。
	_ = order.Transition(executionDomain.StatusRejected)
	return *order
}

// evaluateRisk 依序評估：kill-switch、個股限額、組合曝險、回撤。
func (s *Simulator) evaluateRisk(order *executionDomain.Order) (executionDomain.RejectionReason, bool) {
	if s.riskState.KillSwitch || !s.riskState.TradingEnabled {
		return executionDomain.RejectTradingHalted, false
	}

	if limit, ok := s.risk.MaxPositionPerSymbol[order.Symbol]; ok && limit > 0 {
		current := decimal.Zero
		if p, exists := s.positions[order.Symbol]; exists {
			current = p.Quantity
		}
		next := current
		if order.Side == executionDomain.SideBuy {
			next = next.Add(order.Quantity)
		} else {
			next = next.Sub(order.Quantity)
		}
		if next.Abs().GreaterThan(decimal.NewFromFloat(limit)) {
			return executionDomain.RejectPositionLimit, false
		}
	}

	if s.risk.MaxGrossExposure > 0 || s.risk.MaxNetExposure > 0 {
		gross, net := s.prospectiveExposure(order)
		if s.risk.MaxGrossExposure > 0 && gross.GreaterThan(decimal.NewFromFloat(s.risk.MaxGrossExposure)) {
			return executionDomain.RejectExposureLimit, false
		}
		if s.risk.MaxNetExposure > 0 && net.Abs().GreaterThan(decimal.NewFromFloat(s.risk.MaxNetExposure)) {
			return executionDomain.RejectExposureLimit, false
		}
	}

	if order.Side == executionDomain.SideBuy {
		if mark, ok := s.prices[order.Symbol]; ok {
			cost := mark.Mul(order.Quantity)
			if cost.GreaterThan(s.cash) {
				return executionDomain.RejectInsufficientFunds, false
			}
		}
	}

	if s.checkDrawdown() {
		return executionDomain.RejectTradingHalted, false
	}
	return "", true
}

// prospectiveExposure 計算此單成交後的毛/淨曝險（以現價估）。
func (s *Simulator) prospectiveExposure(order *executionDomain.Order) (gross, net decimal.Decimal) {
	quantities := make(map[string]decimal.Decimal, len(s.positions)+1)
	for sym, p := range s.positions {
		quantities[sym] = p.Quantity
	}
	delta := order.Quantity
	if order.Side == executionDomain.SideSell {
		delta = delta.Neg()
	}
	quantities[order.Symbol] = quantities[order.Symbol].Add(delta)

	for sym, qty := range quantities {
		mark, ok := s.prices[sym]
		if !ok {
			continue
		}
		value := qty.Mul(mark)
		gross = gross.Add(value.Abs())
		net = net.Add(value)
	}
	return gross, net
}

// checkDrawdown 以目前 mark-to-market 淨值檢查回撤限制；
// 單日破限停單到次日重設，總回撤破限鎖死 kill-switch。
func (s *Simulator) checkDrawdown() bool {
	equity := toFloat(s.Equity())
	if equity > s.riskState.PeakValue {
		s.riskState.PeakValue = equity
	}

	breached := false
	if s.risk.MaxDailyDrawdownPct > 0 && s.riskState.DailyStartValue > 0 {
		dd := (s.riskState.DailyStartValue - equity) / s.riskState.DailyStartValue
		if dd > s.risk.MaxDailyDrawdownPct {
			s.riskState.TradingEnabled = false
			breached = true
		}
	}
	if s.risk.MaxTotalDrawdownPct > 0 && s.riskState.PeakValue > 0 {
		dd := (s.riskState.PeakValue - equity) / s.riskState.PeakValue
		if dd > s.risk.MaxTotalDrawdownPct {
			s.riskState.KillSwitch = true
			s.riskState.TradingEnabled = false
			breached = true
		}
	}
	return breached
}

func (s *Simulator) markToMarket() {
	equity := toFloat(s.Equity())
	if equity > s.riskState.PeakValue {
		s.riskState.PeakValue = equity
	}
	s.checkDrawdown()
}

func (s *Simulator) schedule(kind actionKind, orderID string, triggerAt time.Time, qty decimal.Decimal) {
	s.nextSeq++
	s.queue.push(&pendingAction{
		kind:      kind,
		orderID:   orderID,
		triggerAt: triggerAt,
		seq:       s.nextSeq,
		quantity:  qty,
	})
}

func (s *Simulator) apply(act *pendingAction) {
	order, ok := s.orders[act.orderID]
	if !ok {
		return
	}
	switch act.kind {
	case actionSubmit:
		s.applySubmit(order)
	case actionFill:
		s.applyFill(order, act.quantity)
	case actionCancel:
		s.applyCancel(order)
	}
}

func (s *Simulator) applySubmit(order *executionDomain.Order) {
	if order.Status.Terminal() {
		return
	}
	if err := order.Transition(executionDomain.StatusSubmitted); err != nil {
		return
	}
	// 分段排入成交：每段有自己的抖動延遲，皆以送達時間起算。
	remaining := order.Quantity
	lot := decimal.NewFromFloat(s.cfg.Profile.FillLot)
	for remaining.Sign() > 0 {
		chunk := remaining
		if lot.Sign() > 0 && chunk.GreaterThan(lot) {
			chunk = lot
		}
		s.schedule(actionFill, order.ID, s.clock.Add(s.fillDelay()), chunk)
		remaining = remaining.Sub(chunk)
	}
}

func (s *Simulator) applyFill(order *executionDomain.Order, qty decimal.Decimal) {
	if order.Status.Terminal() {
		// 撤單或拒單先一步到達終態；逾期的成交直接失效。
		return
	}
	leaves := order.LeavesQuantity()
	if qty.GreaterThan(leaves) {
		qty = leaves
	}
	if qty.Sign() <= 0 {
		return
	}
	price, ok := s.prices[order.Symbol]
	if !ok {
		return
	}
	fee := price.Mul(qty).Mul(s.cfg.FeeRate)
	if err := order.RecordExecution(executionDomain.OrderExecution{
		Time:     s.clock,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
	}); err != nil {
		return
	}
	s.settle(order, price, qty, fee)
	s.markToMarket()
}

func (s *Simulator) applyCancel(order *executionDomain.Order) {
	if order.Status.Terminal() {
		// 成交（或拒單）贏了這場競速：撤單成為 no-op。
		return
	}
	_ = order.Transition(executionDomain.StatusCancelled)
}

// settle 依成交更新現金與持倉。
func (s *Simulator) settle(order *executionDomain.Order, price, qty, fee decimal.Decimal) {
	pos, ok := s.positions[order.Symbol]
	if !ok {
		pos = &Position{Quantity: decimal.Zero, AvgCost: decimal.Zero}
		s.positions[order.Symbol] = pos
	}
	notional := price.Mul(qty)
	if order.Side == executionDomain.SideBuy {
		s.cash = s.cash.Sub(notional).Sub(fee)
		newQty := pos.Quantity.Add(qty)
		if newQty.Sign() != 0 {
			pos.AvgCost = pos.Quantity.Mul(pos.AvgCost).Add(notional).Div(newQty)
		}
		pos.Quantity = newQty
	} else {
		s.cash = s.cash.Add(notional).Sub(fee)
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.IsZero() {
			pos.AvgCost = decimal.Zero
		}
	}
}

// fillDelay 在 [FillDelayMin, FillDelayMax] 內抽一個延遲；
// 抽樣次數入帳，供 checkpoint 還原後重播。
func (s *Simulator) fillDelay() time.Duration {
	min := s.cfg.Profile.FillDelayMin
	max := s.cfg.Profile.FillDelayMax
	if max <= min {
		return min
	}
	spread := int64(max - min)
	s.randDraws++
	return min + time.Duration(s.rng.Int63n(spread+1))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func sortedSymbols(m map[string]*Position) []string {
	out := make([]string, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
