// Package gridcore implements the grid trading core: the pure per-side
// decision function (C1) and the per-symbol lot-based position state (C2).
// Nothing in this package performs I/O, takes a lock, or reads the clock;
// every exported function here is a candidate for the three-way equivalence
// property between the live engine, the backtester, and the preview runner.
package gridcore

import "errors"

// ErrConfigurationInvalid is returned by Decide when base_qty, tp, or gs are
// non-positive, per SPEC_FULL.md §4.1 edge policy.
var ErrConfigurationInvalid = errors.New("gridcore: configuration invalid")

// Side identifies long or short. Declared locally (rather than imported from
// pkg/types) so this package does not depend on any other package of its
// own module; outside the standard library it imports only google/uuid and
// shopspring/decimal (in state.go), so it can be lifted out and fuzzed or
// vendored on its own.
type Side int

const (
	SideLong Side = iota
	SideShort
)

// Params are the immutable, per-symbol, per-side grid parameters of
// SPEC_FULL.md §3 GridParameters.
type Params struct {
	BaseQty              float64
	TakeProfitSpacing    float64 // tp
	GridSpacing          float64 // gs
	Leverage             int
	ThresholdMultiplier  float64
	LimitMultiplier      float64
	FeePct               float64
}

// PositionThreshold is the exposure at which dead mode engages.
func (p Params) PositionThreshold() float64 { return p.BaseQty * p.ThresholdMultiplier }

// PositionLimit is the exposure at which take-profit quantity doubles.
func (p Params) PositionLimit() float64 { return p.BaseQty * p.LimitMultiplier }

// Decision is the output of Decide: SPEC_FULL.md §4.1.
type Decision struct {
	EntryPrice    float64
	EntryDisabled bool // true when dead mode suppresses the entry price
	TPPrice       float64
	TPQty         float64
	DeadMode      bool
}

// Decide is the pure grid decision function (C1). Given one side's anchor
// price and current exposures, it returns the next entry price, take-profit
// price and quantity, and whether dead mode is engaged.
//
// It is deterministic and side-effect-free: identical inputs always produce
// bit-for-bit identical outputs (SPEC_FULL.md §8 property 1). Every caller —
// live execution, backtester, and preview — must call this exact function;
// do not duplicate its arithmetic elsewhere.
func Decide(side Side, priceAnchor, myPosition, oppositePosition float64, params Params) (Decision, error) {
	if params.BaseQty <= 0 || params.TakeProfitSpacing <= 0 || params.GridSpacing <= 0 {
		return Decision{}, ErrConfigurationInvalid
	}

	tp := params.TakeProfitSpacing
	gs := params.GridSpacing

	var tpPrice, entryPrice float64
	switch side {
	case SideLong:
		tpPrice = priceAnchor * (1 + tp)
		entryPrice = priceAnchor * (1 - gs)
	case SideShort:
		tpPrice = priceAnchor * (1 - tp)
		entryPrice = priceAnchor * (1 + gs)
	}

	threshold := params.PositionThreshold()
	limit := params.PositionLimit()

	deadMode := myPosition >= threshold && myPosition > oppositePosition

	tpQty := params.BaseQty
	if myPosition >= limit {
		tpQty = 2 * params.BaseQty
	}

	d := Decision{
		EntryPrice: entryPrice,
		TPPrice:    tpPrice,
		TPQty:      tpQty,
		DeadMode:   deadMode,
	}
	if deadMode {
		d.EntryDisabled = true
	}
	return d, nil
}

// EntryTriggered reports whether mark crosses the entry price for side,
// per SPEC_FULL.md §4.3 step 3: long triggers on mark <= entry, short on
// mark >= entry.
func EntryTriggered(side Side, mark float64, d Decision) bool {
	if d.EntryDisabled {
		return false
	}
	switch side {
	case SideLong:
		return mark <= d.EntryPrice
	case SideShort:
		return mark >= d.EntryPrice
	}
	return false
}

// TakeProfitTriggered reports whether mark crosses the take-profit price for
// side while the side carries open exposure, per SPEC_FULL.md §4.3 step 4.
func TakeProfitTriggered(side Side, mark float64, d Decision, exposure float64) bool {
	if exposure <= 0 {
		return false
	}
	switch side {
	case SideLong:
		return mark >= d.TPPrice
	case SideShort:
		return mark <= d.TPPrice
	}
	return false
}
