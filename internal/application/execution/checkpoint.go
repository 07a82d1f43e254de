package execution

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backtest-core/internal/domain/backtest"
	executionDomain "backtest-core/internal/domain/execution"
)

// Checkpoint 擷取模擬器的完整狀態：現金、持倉、全部訂單（含成交
// 歷史）、尚未觸發的延遲動作、風控狀態與重建所需設定。
func (s *Simulator) Checkpoint() executionDomain.Checkpoint {
	cp := executionDomain.Checkpoint{
		ID:            uuid.NewString(),
		SchemaVersion: executionDomain.CheckpointSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		SimClock:      s.clock,
		Cash:          s.cash,
		NextSeq:       s.nextSeq,
		Risk:          s.risk,
		RiskState:     s.riskState,
		Profile:       s.cfg.Profile.Name,
		FeeRate:       s.cfg.FeeRate,
		Seed:          s.cfg.Seed,
		RandDraws:     s.randDraws,
	}

	for _, sym := range sortedSymbols(s.positions) {
		p := s.positions[sym]
		cp.Positions = append(cp.Positions, executionDomain.PositionSnapshot{
			Symbol:   sym,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
		})
	}

	for _, id := range s.orderIDs {
		o := *s.orders[id]
		o.Executions = append([]executionDomain.OrderExecution(nil), o.Executions...)
		cp.Orders = append(cp.Orders, o)
	}

	pending := append(actionQueue(nil), s.queue...)
	sort.Sort(pending)
	for _, act := range pending {
		cp.Pending = append(cp.Pending, executionDomain.PendingActionSnapshot{
			Kind:      string(act.kind),
			OrderID:   act.orderID,
			TriggerAt: act.triggerAt,
			Seq:       act.seq,
			Quantity:  act.quantity,
		})
	}
	return cp
}

// Restore 由 checkpoint 重建模擬器：可觀察狀態與原件一致，
// 佇列中的延遲動作依原本的觸發時間繼續生效。
func Restore(cp executionDomain.Checkpoint) (*Simulator, error) {
	if cp.SchemaVersion != executionDomain.CheckpointSchemaVersion {
		return nil, &backtest.SchemaVersionError{
			Stored:  cp.SchemaVersion,
			Current: executionDomain.CheckpointSchemaVersion,
		}
	}
	profile, err := executionDomain.ProfileByName(cp.Profile)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", cp.ID, err)
	}

	s := &Simulator{
		cfg: Config{
			InitialCash: cp.Cash,
			Risk:        cp.Risk,
			Profile:     profile,
			FeeRate:     cp.FeeRate,
			Seed:        cp.Seed,
			StartTime:   cp.SimClock,
		},
		clock:     cp.SimClock,
		cash:      cp.Cash,
		positions: make(map[string]*Position, len(cp.Positions)),
		orders:    make(map[string]*executionDomain.Order, len(cp.Orders)),
		nextSeq:   cp.NextSeq,
		risk:      cp.Risk,
		riskState: cp.RiskState,
		prices:    make(map[string]decimal.Decimal),
		rng:       rand.New(rand.NewSource(cp.Seed)),
	}

	for _, p := range cp.Positions {
		s.positions[p.Symbol] = &Position{Quantity: p.Quantity, AvgCost: p.AvgCost}
	}
	for _, o := range cp.Orders {
		order := o
		order.Executions = append([]executionDomain.OrderExecution(nil), o.Executions...)
		s.orders[order.ID] = &order
		s.orderIDs = append(s.orderIDs, order.ID)
	}
	for _, p := range cp.Pending {
		s.queue.push(&pendingAction{
			kind:      actionKind(p.Kind),
			orderID:   p.OrderID,
			triggerAt: p.TriggerAt,
			seq:       p.Seq,
			quantity:  p.Quantity,
		})
	}

	// 重播亂數抽樣，讓還原後的抖動序列接續原本的軌跡；
	// 必須與 fillDelay 走同一條抽樣路徑。
	if spread := int64(profile.FillDelayMax - profile.FillDelayMin); spread > 0 {
		for i := uint64(0); i < cp.RandDraws; i++ {
			s.rng.Int63n(spread + 1)
		}
	}
	s.randDraws = cp.RandDraws

	return s, nil
}
