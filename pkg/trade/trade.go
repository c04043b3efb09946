// Package trade implements the Offer/Trade instrument: limit and stop
// orders that harvest transaction numbers and count fills (C6).
package trade

import (
	"time"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// Side is which book an Offer rests on.
type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// StopSign is the comparison a stop-order's trigger uses against the
// opposing book's best price, read as "stopPrice SIGN referencePrice".
type StopSign int8

const (
	NoStop StopSign = iota
	StopLess    // triggers once the reference price rises above Stop.Price
	StopGreater // triggers once the reference price falls below Stop.Price
)

// Offer is the resting instrument a Trade wraps. A zero PriceLimit marks a
// market order.
type Offer struct {
	MarketID          ids.ID
	Side              Side
	PriceLimit        ids.Amount
	TotalAssets       ids.Amount
	FinishedSoFar     ids.Amount
	MinIncrement      ids.Amount
	Scale             ids.Amount
	TransactionNum    ids.TxNumber
	ValidFrom         time.Time
	ValidTo           time.Time
	DateAddedToMarket time.Time
}

// Available returns the quantity still open on this offer.
func (o *Offer) Available() ids.Amount {
	return o.TotalAssets - o.FinishedSoFar
}

// IsMarketOrder reports whether o has no limit price — it may only ever
// act as the aggressor side of a match.
func (o *Offer) IsMarketOrder() bool {
	return o.PriceLimit == 0
}

// Validate checks the structural invariants from spec.md §3: MinIncrement
// must be at least Scale and an exact multiple of it.
func (o *Offer) Validate() error {
	if o.MinIncrement < o.Scale || o.Scale == 0 || o.MinIncrement%o.Scale != 0 {
		return errs.New(errs.InvalidOffer, "minIncrement must be >= scale and a multiple of it")
	}
	if !o.ValidTo.IsZero() && !o.ValidFrom.IsZero() && o.ValidTo.Before(o.ValidFrom) {
		return errs.New(errs.InvalidOffer, "validTo precedes validFrom")
	}
	return nil
}

// Stop describes a stop order's trigger condition.
type Stop struct {
	Sign      StopSign
	Price     ids.Amount
	Activated bool
}

// Trade wraps an Offer with the two accounts it moves funds between and an
// optional stop condition. ClosingNums holds exactly two reserved closing
// numbers: index 0 for the asset account, index 1 for the currency
// account.
type Trade struct {
	Offer Offer

	OpeningNum  ids.TxNumber
	ClosingNums [2]ids.TxNumber

	Originator   ids.ID
	AssetAcct    ids.ID
	CurrencyAcct ids.ID

	Stop *Stop

	TradesAlreadyDone ids.Amount
	HasActivated      bool

	NotaryID ids.ID
	UnitID   ids.ID

	// Original preserves the trade exactly as the client submitted it,
	// before any fills mutate it; every marketReceipt's Reference field
	// carries this copy.
	Original []byte
}

// IssueTrade validates a freshly constructed Trade/Offer pair: notary and
// unit must agree between the two, the date range must be well-formed, and
// — if a stop is present — its price must be positive.
func IssueTrade(t *Trade, notaryID, unitID ids.ID) error {
	if t.NotaryID != notaryID {
		return errs.New(errs.NotaryMismatch, "trade notary does not match offer notary")
	}
	if t.UnitID != unitID {
		return errs.New(errs.UnitMismatch, "trade unit does not match offer unit")
	}
	if err := t.Offer.Validate(); err != nil {
		return err
	}
	if t.Stop != nil {
		if t.Stop.Sign != StopLess && t.Stop.Sign != StopGreater {
			return errs.New(errs.InvalidOffer, "stop sign must be < or >")
		}
		if t.Stop.Price <= 0 {
			return errs.New(errs.InvalidOffer, "stop price must be positive")
		}
	}
	if t.Offer.IsMarketOrder() && t.Stop != nil {
		return errs.New(errs.InvalidOffer, "a market order cannot also be a stop order")
	}
	return nil
}

// StopTriggered reports whether t's stop condition fires given the current
// best opposing price: for an ask, against the best bid; for a bid,
// against the best ask.
func (t *Trade) StopTriggered(bestOpposing ids.Amount) bool {
	if t.Stop == nil || t.Stop.Activated {
		return false
	}
	switch t.Stop.Sign {
	case StopLess:
		return t.Stop.Price < bestOpposing
	case StopGreater:
		return t.Stop.Price > bestOpposing
	default:
		return false
	}
}

// Activate marks the stop as triggered; the caller is then responsible
// for adding the Offer to the Market.
func (t *Trade) Activate() {
	if t.Stop != nil {
		t.Stop.Activated = true
	}
	t.HasActivated = true
}

// CanRemoveItem reports whether nym may cancel t: nym must own the opening
// number (it must still be Issued) and both closing numbers must still be
// Issued — i.e. not yet consumed closing out the item.
func CanRemoveItem(nym ids.ID, t *Trade, openingIssued bool, closingIssued [2]bool) bool {
	if nym != t.Originator {
		return false
	}
	return openingIssued && closingIssued[0] && closingIssued[1]
}

// RecordFill increases FinishedSoFar/TradesAlreadyDone after a successful
// Market execution of amt units.
func (t *Trade) RecordFill(amt ids.Amount) {
	t.Offer.FinishedSoFar += amt
	t.TradesAlreadyDone += amt
}

// IsFullyFilled reports whether the offer has no assets left to trade.
func (t *Trade) IsFullyFilled() bool {
	return t.Offer.Available() <= 0
}
