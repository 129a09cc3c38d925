package rehab

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultRelativeTolerance is the accepted gap between the stated total
	// and the room totals, as a fraction of the room totals.
	DefaultRelativeTolerance = 0.02
	// DefaultAbsoluteTolerance is the accepted gap in dollars for small
	// estimates.
	DefaultAbsoluteTolerance = 50
)

// Tolerance bounds |total_estimated_cost - sum(room_total)|. The allowed gap
// is the larger of Relative*sum and Absolute.
type Tolerance struct {
	Relative decimal.Decimal
	Absolute decimal.Decimal
}

// DefaultTolerance returns the tolerance used when none is configured.
func DefaultTolerance() *Tolerance {
	return NewTolerance(DefaultRelativeTolerance, DefaultAbsoluteTolerance)
}

// NewTolerance builds a Tolerance from float settings.
func NewTolerance(relative, absolute float64) *Tolerance {
	return &Tolerance{
		Relative: decimal.NewFromFloat(relative),
		Absolute: decimal.NewFromFloat(absolute),
	}
}

// RoomSum adds up the room totals of an estimate.
func RoomSum(e *RehabEstimate) decimal.Decimal {
	sum := decimal.Zero
	for _, room := range e.RoomBreakdowns {
		sum = sum.Add(decimal.NewFromFloat(room.RoomTotal))
	}
	return sum
}

// check returns a violation when the stated total drifts too far from the
// room totals. Estimates without rooms are not reconciled.
func (t *Tolerance) check(e *RehabEstimate) *SchemaViolationError {
	if len(e.RoomBreakdowns) == 0 {
		return nil
	}

	sum := RoomSum(e)
	total := decimal.NewFromFloat(e.TotalEstimatedCost)
	diff := total.Sub(sum).Abs()

	allowed := decimal.Max(sum.Mul(t.Relative), t.Absolute)
	if diff.GreaterThan(allowed) {
		return &SchemaViolationError{
			Field: "total_estimated_cost",
			Reason: fmt.Sprintf("total %s does not match room totals %s (allowed difference %s)",
				total.StringFixed(2), sum.StringFixed(2), allowed.StringFixed(2)),
		}
	}
	return nil
}
