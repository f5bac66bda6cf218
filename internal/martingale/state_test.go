package martingale

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

func enabledState(t *testing.T, baseLot, target float64, maxSteps int) *State {
	t.Helper()
	var s State
	if err := s.Enable(baseLot, target, maxSteps); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return &s
}

func TestEnable_Validation(t *testing.T) {
	var s State
	if err := s.Enable(0, 50, 7); err == nil {
		t.Error("zero base lot accepted")
	}
	if err := s.Enable(0.01, 0, 7); err == nil {
		t.Error("zero target accepted")
	}
	if err := s.Enable(0.01, 50, 0); err == nil {
		t.Error("zero max steps accepted")
	}
	if s.Enabled() {
		t.Error("state enabled after rejected Enable calls")
	}
}

func TestCurrentLot_DoublesPerStep(t *testing.T) {
	s := enabledState(t, 0.01, 50, 10)

	prev := 0.0
	for step := 1; step <= 8; step++ {
		lot := s.CurrentLot()
		want := math.Round(0.01*math.Pow(2, float64(step-1))*100) / 100
		if math.Abs(lot-want) > 1e-9 {
			t.Errorf("step %d: lot=%v, want %v", step, lot, want)
		}
		if lot < prev {
			t.Errorf("step %d: lot %v decreased from %v", step, lot, prev)
		}
		prev = lot
		s.OnPositionClosed(-5)
	}
}

func TestCurrentLot_EqualsBaseAtStepOne(t *testing.T) {
	s := enabledState(t, 0.03, 50, 5)
	if got := s.CurrentLot(); got != 0.03 {
		t.Errorf("step 1 lot=%v, want base lot 0.03", got)
	}
}

func TestOnPositionClosed_WinResetsFromAnyStep(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)
	s.OnPositionClosed(-10)
	s.OnPositionClosed(-20)
	if s.Step() != 3 {
		t.Fatalf("after two losses: step=%d, want 3", s.Step())
	}

	res := s.OnPositionClosed(5)
	if res.Action != ActionReset {
		t.Errorf("win: action=%s, want reset", res.Action)
	}
	if s.Step() != 1 {
		t.Errorf("after win: step=%d, want 1", s.Step())
	}
	if got := s.Snapshot().AccumulatedLoss; got != 0 {
		t.Errorf("after win: accumulated loss=%v, want 0", got)
	}
}

func TestOnPositionClosed_SevenLossesForcesMaxReset(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)

	var last CloseResult
	for i := 0; i < 7; i++ {
		last = s.OnPositionClosed(-10)
		if i < 6 {
			if last.Action != ActionAdvance {
				t.Fatalf("loss %d: action=%s, want advance", i+1, last.Action)
			}
			if last.Step != i+2 {
				t.Fatalf("loss %d: step=%d, want %d", i+1, last.Step, i+2)
			}
		}
	}

	if last.Action != ActionMaxReached {
		t.Errorf("7th loss: action=%s, want max_reached", last.Action)
	}
	if math.Abs(last.TotalLoss-70) > 1e-9 {
		t.Errorf("7th loss: total loss=%v, want 70", last.TotalLoss)
	}
	if s.Step() != 1 {
		t.Errorf("after max reset: step=%d, want 1", s.Step())
	}
	if got := s.Snapshot().AccumulatedLoss; got != 0 {
		t.Errorf("after max reset: accumulated loss=%v, want 0", got)
	}
}

func TestOnPositionClosed_ReportsTakenStepAndLot(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)

	// A first-step loss closed a 0.01-lot trade at step 1, then advances.
	res := s.OnPositionClosed(-10)
	if res.Action != ActionAdvance {
		t.Fatalf("first loss: action=%s, want advance", res.Action)
	}
	if res.TakenStep != 1 || math.Abs(res.TakenLot-0.01) > 1e-9 {
		t.Errorf("first loss: taken step=%d lot=%v, want step 1 lot 0.01", res.TakenStep, res.TakenLot)
	}
	if res.Step != 2 || math.Abs(res.Lot-0.02) > 1e-9 {
		t.Errorf("first loss: next step=%d lot=%v, want step 2 lot 0.02", res.Step, res.Lot)
	}

	// A win reports the step it was taken at, not the reset state.
	res = s.OnPositionClosed(70)
	if res.Action != ActionReset {
		t.Fatalf("win: action=%s, want reset", res.Action)
	}
	if res.TakenStep != 2 || math.Abs(res.TakenLot-0.02) > 1e-9 {
		t.Errorf("win: taken step=%d lot=%v, want step 2 lot 0.02", res.TakenStep, res.TakenLot)
	}

	// max_reached keeps the final step even though the cycle force-resets.
	s2 := enabledState(t, 0.01, 50, 2)
	s2.OnPositionClosed(-10)
	res = s2.OnPositionClosed(-20)
	if res.Action != ActionMaxReached {
		t.Fatalf("capped loss: action=%s, want max_reached", res.Action)
	}
	if res.TakenStep != 2 || math.Abs(res.TakenLot-0.02) > 1e-9 {
		t.Errorf("capped loss: taken step=%d lot=%v, want step 2 lot 0.02", res.TakenStep, res.TakenLot)
	}
	if res.Step != 1 {
		t.Errorf("capped loss: next step=%d, want 1", res.Step)
	}
}

func TestRecoveryTarget(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)
	if got := s.RecoveryTarget(); got != 50 {
		t.Errorf("fresh cycle: recovery target=%v, want 50", got)
	}
	s.OnPositionClosed(-12.5)
	if got := s.RecoveryTarget(); got != 62.5 {
		t.Errorf("after 12.5 loss: recovery target=%v, want 62.5", got)
	}
}

func TestReEnableRestartsCycle(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)
	s.OnPositionClosed(-10)
	s.OnPositionClosed(-10)

	if err := s.Enable(0.02, 25, 5); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	v := s.Snapshot()
	if v.Step != 1 || v.AccumulatedLoss != 0 || len(v.History) != 0 {
		t.Errorf("re-enable did not restart: %+v", v)
	}
	if v.BaseLot != 0.02 || v.MaxSteps != 5 {
		t.Errorf("re-enable did not apply new params: %+v", v)
	}
}

func TestDisable_Idempotent(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)
	s.OnPositionClosed(-10)
	s.Disable()
	s.Disable()
	v := s.Snapshot()
	if v.Enabled || v.Step != 1 || v.AccumulatedLoss != 0 || len(v.History) != 0 {
		t.Errorf("after disable: %+v", v)
	}
}

func TestMaxFeasibleSteps(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)

	tests := []struct {
		balance  float64
		steps    int
		required float64
	}{
		{1.0, 1, 0.5},     // step 2 would need 0.01×50×3 = 1.5
		{1.5, 2, 1.5},     //
		{10.0, 4, 7.5},    // 2^4−1 = 15 → 7.5; n=5 needs 15.5
		{1000.0, 10, 511.5},
		{0.1, 1, 0.5},     // below even one step: floor at 1
	}
	for _, tt := range tests {
		steps, required := s.MaxFeasibleSteps(tt.balance)
		if steps != tt.steps {
			t.Errorf("balance=%v: steps=%d, want %d", tt.balance, steps, tt.steps)
		}
		if math.Abs(required-tt.required) > 1e-9 {
			t.Errorf("balance=%v: required=%v, want %v", tt.balance, required, tt.required)
		}
	}
}

func TestHistoryRecordsEachClose(t *testing.T) {
	s := enabledState(t, 0.01, 50, 7)
	s.OnPositionClosed(-10)
	s.OnPositionClosed(-20)
	s.OnPositionClosed(35)

	hist := s.Snapshot().History
	if len(hist) != 3 {
		t.Fatalf("history length=%d, want 3", len(hist))
	}
	wantSteps := []int{1, 2, 3}
	wantProfits := []float64{-10, -20, 35}
	for i, rec := range hist {
		if rec.Step != wantSteps[i] || rec.Profit != wantProfits[i] {
			t.Errorf("history[%d] = %+v, want step=%d profit=%v", i, rec, wantSteps[i], wantProfits[i])
		}
	}
}

// stubQuotes implements model.QuoteProvider for plan tests.
type stubQuotes struct {
	tick    model.Tick
	info    model.InstrumentInfo
	tickErr error
	infoErr error
}

func (q stubQuotes) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	return q.tick, q.tickErr
}

func (q stubQuotes) Instrument(ctx context.Context, symbol string) (model.InstrumentInfo, error) {
	return q.info, q.infoErr
}

func TestComputeOrderPlan_BuyAndSell(t *testing.T) {
	s := enabledState(t, 0.1, 50, 7)
	quotes := stubQuotes{
		tick: model.Tick{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002},
		info: model.InstrumentInfo{Symbol: "EURUSD", Point: 0.0001, TickValue: 10, LotStep: 0.01},
	}

	// lot=0.1, tickValue=10 → tpPoints = 50/(0.1×10) = 50, slPoints = 50.
	plan, err := s.ComputeOrderPlan(context.Background(), "EURUSD", Buy, quotes)
	if err != nil {
		t.Fatalf("buy plan: %v", err)
	}
	if plan.Entry != 1.1002 {
		t.Errorf("buy entry=%v, want ask 1.1002", plan.Entry)
	}
	if math.Abs(plan.TP-(1.1002+50*0.0001)) > 1e-9 {
		t.Errorf("buy tp=%v, want %v", plan.TP, 1.1002+50*0.0001)
	}
	if math.Abs(plan.SL-(1.1002-50*0.0001)) > 1e-9 {
		t.Errorf("buy sl=%v, want %v", plan.SL, 1.1002-50*0.0001)
	}

	plan, err = s.ComputeOrderPlan(context.Background(), "EURUSD", Sell, quotes)
	if err != nil {
		t.Fatalf("sell plan: %v", err)
	}
	if plan.Entry != 1.1000 {
		t.Errorf("sell entry=%v, want bid 1.1000", plan.Entry)
	}
	if math.Abs(plan.TP-(1.1000-50*0.0001)) > 1e-9 {
		t.Errorf("sell tp=%v, want %v", plan.TP, 1.1000-50*0.0001)
	}
}

func TestComputeOrderPlan_RecoveryWidensTP(t *testing.T) {
	s := enabledState(t, 0.1, 50, 7)
	quotes := stubQuotes{
		tick: model.Tick{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002},
		info: model.InstrumentInfo{Symbol: "EURUSD", Point: 0.0001, TickValue: 10},
	}

	s.OnPositionClosed(-30) // step 2, lot 0.2, recovery 80
	plan, err := s.ComputeOrderPlan(context.Background(), "EURUSD", Buy, quotes)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// tpPoints = 80/(0.2×10) = 40; slPoints = 50/(0.2×10) = 25.
	if math.Abs(plan.TP-(1.1002+40*0.0001)) > 1e-9 {
		t.Errorf("tp=%v, want %v", plan.TP, 1.1002+40*0.0001)
	}
	if math.Abs(plan.SL-(1.1002-25*0.0001)) > 1e-9 {
		t.Errorf("sl=%v, want %v", plan.SL, 1.1002-25*0.0001)
	}
	if plan.Lot != 0.2 {
		t.Errorf("lot=%v, want 0.2", plan.Lot)
	}
}

func TestComputeOrderPlan_SnapsLotToVolumeStep(t *testing.T) {
	quotes := stubQuotes{
		tick: model.Tick{Symbol: "XAGUSD", Bid: 29.50, Ask: 29.52},
		info: model.InstrumentInfo{Symbol: "XAGUSD", Point: 0.01, TickValue: 10, LotStep: 0.25},
	}

	// Two losses put the cycle at lot 0.4, which the 0.25 step snaps to 0.5.
	s := enabledState(t, 0.1, 50, 7)
	s.OnPositionClosed(-30)
	s.OnPositionClosed(-30)
	plan, err := s.ComputeOrderPlan(context.Background(), "XAGUSD", Buy, quotes)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if math.Abs(plan.Lot-0.5) > 1e-9 {
		t.Errorf("lot=%v, want 0.5", plan.Lot)
	}
	// Distances are priced from the snapped lot: tp = 110/(0.5×10) = 22 points.
	if math.Abs(plan.TP-(29.52+22*0.01)) > 1e-9 {
		t.Errorf("tp=%v, want %v", plan.TP, 29.52+22*0.01)
	}

	// A base lot below one volume step is bumped up to the step.
	s2 := enabledState(t, 0.1, 50, 7)
	plan, err = s2.ComputeOrderPlan(context.Background(), "XAGUSD", Buy, quotes)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if math.Abs(plan.Lot-0.25) > 1e-9 {
		t.Errorf("minimum lot=%v, want one step 0.25", plan.Lot)
	}
}

func TestComputeOrderPlan_FallbackDistance(t *testing.T) {
	s := enabledState(t, 0.1, 50, 7)
	quotes := stubQuotes{
		tick: model.Tick{Symbol: "XYZ", Bid: 100, Ask: 100.5},
		info: model.InstrumentInfo{Symbol: "XYZ", Point: 0.01, TickValue: 0}, // broken tick value
	}
	plan, err := s.ComputeOrderPlan(context.Background(), "XYZ", Buy, quotes)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if math.Abs(plan.TP-(100.5+500*0.01)) > 1e-9 {
		t.Errorf("fallback tp=%v, want %v", plan.TP, 100.5+500*0.01)
	}
}

func TestComputeOrderPlan_InstrumentUnavailable(t *testing.T) {
	s := enabledState(t, 0.1, 50, 7)

	_, err := s.ComputeOrderPlan(context.Background(), "EURUSD", Buy, stubQuotes{
		tickErr: errors.New("feed down"),
	})
	if !errors.Is(err, ErrInstrumentUnavailable) {
		t.Errorf("quote failure: err=%v, want ErrInstrumentUnavailable", err)
	}

	_, err = s.ComputeOrderPlan(context.Background(), "EURUSD", Buy, stubQuotes{
		tick: model.Tick{Bid: 1.1, Ask: 1.1},
		info: model.InstrumentInfo{Point: 0}, // missing metadata
	})
	if !errors.Is(err, ErrInstrumentUnavailable) {
		t.Errorf("zero point: err=%v, want ErrInstrumentUnavailable", err)
	}

	// No state mutation on failure.
	if v := s.Snapshot(); v.Step != 1 || len(v.History) != 0 {
		t.Errorf("state mutated by failed plan: %+v", v)
	}
}
