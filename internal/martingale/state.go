// Package martingale implements the per-(user, magic) position-sizing state
// machine: lot doubling on consecutive losses, loss accumulation, and
// recovery-target computation for take-profit distances.
package martingale

import (
	"fmt"
	"math"
)

// maxFeasibleCap bounds the MaxFeasibleSteps search.
const maxFeasibleCap = 20

// Action tags the outcome of a position close.
type Action string

const (
	// ActionReset: the trade was profitable; back to step 1, loss cleared.
	ActionReset Action = "reset"
	// ActionAdvance: a loss below the step cap; lot doubles for the next trade.
	ActionAdvance Action = "advance"
	// ActionMaxReached: a loss at the final step forces a reset and the total
	// accumulated loss is reported to the caller.
	ActionMaxReached Action = "max_reached"
)

// StepRecord is one closed trade in a martingale cycle.
type StepRecord struct {
	Step   int     `json:"step"`
	Lot    float64 `json:"lot"`
	Profit float64 `json:"profit"`
}

// CloseResult is the tagged outcome of OnPositionClosed.
type CloseResult struct {
	Action Action `json:"action"`
	// TakenStep and TakenLot describe the trade that just closed.
	TakenStep int     `json:"taken_step"`
	TakenLot  float64 `json:"taken_lot"`
	// Step and Lot describe the state after the transition.
	Step int     `json:"step"`
	Lot  float64 `json:"lot"`
	// TotalLoss is the accumulated loss reported on max_reached (zero otherwise).
	TotalLoss float64 `json:"total_loss,omitempty"`
}

// State is one martingale cycle for a single (user, magic) key.
// It is not safe for concurrent use; the Registry serializes access per key.
type State struct {
	enabled      bool
	step         int
	maxSteps     int
	baseLot      float64
	targetAmount float64
	accumLoss    float64
	history      []StepRecord
}

// View is a read-only snapshot of a State for status reporting.
type View struct {
	Enabled         bool         `json:"enabled"`
	Step            int          `json:"step"`
	MaxSteps        int          `json:"max_steps"`
	BaseLot         float64      `json:"base_lot"`
	TargetAmount    float64      `json:"target_amount"`
	AccumulatedLoss float64      `json:"accumulated_loss"`
	CurrentLot      float64      `json:"current_lot"`
	History         []StepRecord `json:"history"`
}

// Enable starts (or restarts) a martingale cycle from step 1 with zero
// accumulated loss and empty history. Re-enabling always restarts.
func (s *State) Enable(baseLot, targetAmount float64, maxSteps int) error {
	if baseLot <= 0 {
		return fmt.Errorf("martingale: base lot must be positive, got %v", baseLot)
	}
	if targetAmount <= 0 {
		return fmt.Errorf("martingale: target amount must be positive, got %v", targetAmount)
	}
	if maxSteps < 1 {
		return fmt.Errorf("martingale: max steps must be >= 1, got %d", maxSteps)
	}
	s.enabled = true
	s.step = 1
	s.maxSteps = maxSteps
	s.baseLot = baseLot
	s.targetAmount = targetAmount
	s.accumLoss = 0
	s.history = nil
	return nil
}

// Disable stops the cycle and clears step/loss/history.
// Safe to call when already disabled.
func (s *State) Disable() {
	s.enabled = false
	s.step = 1
	s.accumLoss = 0
	s.history = nil
}

// Enabled reports whether a cycle is active.
func (s *State) Enabled() bool { return s.enabled }

// Step returns the current martingale step (1-based).
func (s *State) Step() int {
	if s.step < 1 {
		return 1
	}
	return s.step
}

// CurrentLot returns baseLot × 2^(step−1), rounded to the 0.01 lot
// granularity of the reference instruments.
func (s *State) CurrentLot() float64 {
	lot := s.baseLot * math.Pow(2, float64(s.Step()-1))
	return roundLot(lot)
}

// RecoveryTarget returns the account-currency amount the next trade must
// recover: all accumulated losses plus the fixed per-cycle profit target.
func (s *State) RecoveryTarget() float64 {
	return s.accumLoss + s.targetAmount
}

// OnPositionClosed applies a closed trade's realized profit to the cycle.
// Profitable (or break-even) trades reset to step 1; losses advance the step
// until maxSteps, where the cycle force-resets and reports the total loss.
func (s *State) OnPositionClosed(realizedProfit float64) CloseResult {
	takenStep := s.Step()
	takenLot := s.CurrentLot()
	s.history = append(s.history, StepRecord{
		Step:   takenStep,
		Lot:    takenLot,
		Profit: realizedProfit,
	})

	if realizedProfit >= 0 {
		s.step = 1
		s.accumLoss = 0
		return CloseResult{Action: ActionReset, TakenStep: takenStep, TakenLot: takenLot, Step: s.step, Lot: s.CurrentLot()}
	}

	if takenStep < s.maxSteps {
		s.accumLoss += -realizedProfit
		s.step = takenStep + 1
		return CloseResult{Action: ActionAdvance, TakenStep: takenStep, TakenLot: takenLot, Step: s.step, Lot: s.CurrentLot()}
	}

	// Loss at the final step: report the full drawdown and force a reset.
	total := s.accumLoss + -realizedProfit
	s.step = 1
	s.accumLoss = 0
	return CloseResult{Action: ActionMaxReached, TakenStep: takenStep, TakenLot: takenLot, Step: s.step, Lot: s.CurrentLot(), TotalLoss: total}
}

// MaxFeasibleSteps returns the largest step count n in [1,20] whose
// worst case (n consecutive losing steps under doubling) the balance can
// absorb, together with the capital that worst case requires:
// baseLot × targetAmount × (2^n − 1).
func (s *State) MaxFeasibleSteps(balance float64) (steps int, requiredBalance float64) {
	steps = 1
	requiredBalance = s.baseLot * s.targetAmount
	for n := 2; n <= maxFeasibleCap; n++ {
		required := s.baseLot * s.targetAmount * (math.Pow(2, float64(n)) - 1)
		if balance < required {
			break
		}
		steps = n
		requiredBalance = required
	}
	return steps, requiredBalance
}

// Snapshot returns a read-only view of the state.
func (s *State) Snapshot() View {
	hist := make([]StepRecord, len(s.history))
	copy(hist, s.history)
	return View{
		Enabled:         s.enabled,
		Step:            s.Step(),
		MaxSteps:        s.maxSteps,
		BaseLot:         s.baseLot,
		TargetAmount:    s.targetAmount,
		AccumulatedLoss: s.accumLoss,
		CurrentLot:      s.CurrentLot(),
		History:         hist,
	}
}

// roundLot rounds to 2 decimal places (0.01 lot granularity).
func roundLot(lot float64) float64 {
	return math.Round(lot*100) / 100
}
