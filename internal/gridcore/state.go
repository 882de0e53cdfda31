package gridcore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is one open grid entry: SPEC_FULL.md §3 Lot.
type Lot struct {
	ID         string
	EntryPrice float64
	Qty        float64
	Margin     decimal.Decimal
	OpenedAt   time.Time
}

// TradeRecord is one closed-lot (or partial) event appended to a side's
// trade log on take-profit.
type TradeRecord struct {
	LotID      string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	Gross      decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
	ClosedAt   time.Time
}

// SideState holds one side's open lots and anchor, SPEC_FULL.md §3 SideState.
// Lots are kept in strict insertion order; index 0 is always the oldest open
// lot and the only one record_take_profit may shrink or remove first.
type SideState struct {
	Lots            []*Lot
	LastAnchorPrice float64
}

// Exposure is the sum of open quantity on this side.
func (s *SideState) Exposure() float64 {
	var total float64
	for _, l := range s.Lots {
		total += l.Qty
	}
	return total
}

// SymbolState is the full per-symbol position and PnL ledger, SPEC_FULL.md §3
// SymbolState. CashBalance and RealizedPnL are decimal to keep the externally
// reported ledger exact; the pure decision path (decision.go) never touches
// this type.
type SymbolState struct {
	Symbol            string
	Long              SideState
	Short             SideState
	CashBalance       decimal.Decimal
	RealizedPnL       decimal.Decimal
	EquityHighWater   decimal.Decimal
	TradeLog          []TradeRecord
}

// NewSymbolState creates an empty ledger seeded with the given starting cash.
func NewSymbolState(symbol string, startingCash decimal.Decimal) *SymbolState {
	return &SymbolState{
		Symbol:          symbol,
		CashBalance:     startingCash,
		EquityHighWater: startingCash,
	}
}

func (s *SymbolState) sideState(side Side) *SideState {
	if side == SideLong {
		return &s.Long
	}
	return &s.Short
}

// RecordEntry appends a new lot to side, debits margin+fee from cash, and
// sets the side's anchor to price — SPEC_FULL.md §4.2 record_entry. leverage
// must be >= 1.
func (s *SymbolState) RecordEntry(side Side, price, qty float64, leverage int, feePct float64, now time.Time) *Lot {
	if leverage < 1 {
		leverage = 1
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
	margin := notional.Div(decimal.NewFromInt(int64(leverage)))
	fee := notional.Mul(decimal.NewFromFloat(feePct))

	lot := &Lot{
		ID:         uuid.New().String(),
		EntryPrice: price,
		Qty:        qty,
		Margin:     margin,
		OpenedAt:   now,
	}

	ss := s.sideState(side)
	ss.Lots = append(ss.Lots, lot)
	ss.LastAnchorPrice = price

	s.CashBalance = s.CashBalance.Sub(margin).Sub(fee)
	return lot
}

// RecordTakeProfit consumes lots from the head of side up to requestedQty,
// crediting margin+net PnL back to cash for each lot (or fraction) closed,
// and sets the side's anchor to price — SPEC_FULL.md §4.2
// record_take_profit. It returns the trade records appended, oldest first.
// A request exceeding total open quantity closes everything and stops; it is
// not an error.
func (s *SymbolState) RecordTakeProfit(side Side, price, requestedQty, feePct float64, now time.Time) []TradeRecord {
	ss := s.sideState(side)
	remaining := requestedQty
	var records []TradeRecord

	for remaining > 1e-12 && len(ss.Lots) > 0 {
		head := ss.Lots[0]
		closeQty := head.Qty
		if closeQty > remaining {
			closeQty = remaining
		}

		frac := closeQty / head.Qty
		marginPortion := head.Margin.Mul(decimal.NewFromFloat(frac))

		var gross decimal.Decimal
		entry := decimal.NewFromFloat(head.EntryPrice)
		exit := decimal.NewFromFloat(price)
		qtyDec := decimal.NewFromFloat(closeQty)
		switch side {
		case SideLong:
			gross = exit.Sub(entry).Mul(qtyDec)
		case SideShort:
			gross = entry.Sub(exit).Mul(qtyDec)
		}
		fee := exit.Mul(qtyDec).Mul(decimal.NewFromFloat(feePct))
		net := gross.Sub(fee)

		s.CashBalance = s.CashBalance.Add(marginPortion).Add(net)
		s.RealizedPnL = s.RealizedPnL.Add(net)

		records = append(records, TradeRecord{
			LotID:      head.ID,
			Side:       side,
			EntryPrice: head.EntryPrice,
			ExitPrice:  price,
			Qty:        closeQty,
			Gross:      gross,
			Fee:        fee,
			Net:        net,
			ClosedAt:   now,
		})

		if closeQty >= head.Qty-1e-12 {
			// fully closed: drop from the head
			ss.Lots = ss.Lots[1:]
		} else {
			head.Qty -= closeQty
			head.Margin = head.Margin.Sub(marginPortion)
		}

		remaining -= closeQty
	}

	if len(records) > 0 {
		ss.LastAnchorPrice = price
		s.TradeLog = append(s.TradeLog, records...)
	}
	return records
}

// UnrealizedPnL marks every open lot on both sides to mark and sums the
// result — SPEC_FULL.md §4.2 unrealized_pnl.
func (s *SymbolState) UnrealizedPnL(mark float64) decimal.Decimal {
	markDec := decimal.NewFromFloat(mark)
	total := decimal.Zero
	for _, l := range s.Long.Lots {
		entry := decimal.NewFromFloat(l.EntryPrice)
		qty := decimal.NewFromFloat(l.Qty)
		total = total.Add(markDec.Sub(entry).Mul(qty))
	}
	for _, l := range s.Short.Lots {
		entry := decimal.NewFromFloat(l.EntryPrice)
		qty := decimal.NewFromFloat(l.Qty)
		total = total.Add(entry.Sub(markDec).Mul(qty))
	}
	return total
}

// Equity is cash + unrealized PnL at mark, and advances the high-water mark
// if equity is a new peak — SPEC_FULL.md §4.2 equity, and the monotonic
// high-water invariant of §3.
func (s *SymbolState) Equity(mark float64) decimal.Decimal {
	eq := s.CashBalance.Add(s.UnrealizedPnL(mark))
	if eq.GreaterThan(s.EquityHighWater) {
		s.EquityHighWater = eq
	}
	return eq
}

// Exposure returns the open quantity on side.
func (s *SymbolState) Exposure(side Side) float64 {
	return s.sideState(side).Exposure()
}

// Drawdown returns the fractional drop of current equity below the high
// water mark, used by C5 to trigger the max_drawdown halt.
func (s *SymbolState) Drawdown(mark float64) float64 {
	eq := s.Equity(mark)
	if s.EquityHighWater.IsZero() {
		return 0
	}
	dd := s.EquityHighWater.Sub(eq).Div(s.EquityHighWater)
	f, _ := dd.Float64()
	if f < 0 {
		return 0
	}
	return f
}
