package domain

import "math"

// MaxProfitDelta is the exclusive upper bound accepted for a single profit report.
const MaxProfitDelta = 1e12

// GoalCrossed decides whether a profit update is a new goal crossing. It fires
// only when no achievement is pending since the last reset, and equality counts.
func GoalCrossed(previousAchieved bool, profitBefore, profitAfter, target float64) bool {
	return !previousAchieved && profitAfter >= target
}

// ValidateProfitDelta accepts deltas in [0, MaxProfitDelta).
func ValidateProfitDelta(delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return ErrInvalidProfitDelta
	}
	if delta < 0 || delta >= MaxProfitDelta {
		return ErrInvalidProfitDelta
	}
	return nil
}

// ValidateTarget accepts positive finite targets.
func ValidateTarget(target float64) error {
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return ErrInvalidTarget
	}
	return nil
}
