// Package plan implements the recurring payment-plan instrument Cron
// processes alongside trades: an optional initial payment followed by
// fixed-size payments on a fixed interval between a sender and a
// recipient account, closed out by two reserved closing numbers.
package plan

import (
	"time"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// Plan is one proposed-and-confirmed payment plan. ClosingNums holds
// exactly two reserved closing numbers: index 0 for the sender account,
// index 1 for the recipient account.
type Plan struct {
	NotaryID ids.ID
	UnitID   ids.ID

	OpeningNum  ids.TxNumber
	ClosingNums [2]ids.TxNumber

	Originator    ids.ID
	SenderAcct    ids.ID
	RecipientAcct ids.ID

	// InitialAmount moves once, on the plan's first processed tick; zero
	// means no initial payment.
	InitialAmount ids.Amount
	// PaymentAmount moves every PaymentInterval until MaxPayments have
	// completed.
	PaymentAmount   ids.Amount
	PaymentInterval time.Duration
	MaxPayments     int

	InitialPaid    bool
	PaymentsDone   int
	FailedPayments int
	LastPayment    time.Time

	// Original preserves the plan exactly as the client submitted it, for
	// the Reference field of every receipt the plan produces.
	Original []byte
}

// Issue validates a freshly confirmed Plan: notary and unit must agree
// with the depositing context, both accounts must be distinct and set,
// the recurring amount must be positive, and the schedule well-formed.
func Issue(p *Plan, notaryID, unitID ids.ID) error {
	if p.NotaryID != notaryID {
		return errs.New(errs.NotaryMismatch, "plan notary does not match notary")
	}
	if p.UnitID != unitID {
		return errs.New(errs.UnitMismatch, "plan unit does not match unit")
	}
	if p.SenderAcct.IsZero() || p.RecipientAcct.IsZero() {
		return errs.New(errs.InvalidState, "plan requires both a sender and a recipient account")
	}
	if p.SenderAcct == p.RecipientAcct {
		return errs.New(errs.ConflictingAccounts, "sender and recipient accounts must differ")
	}
	if p.InitialAmount < 0 {
		return errs.New(errs.InvalidState, "initial payment cannot be negative")
	}
	if p.PaymentAmount <= 0 {
		return errs.New(errs.InvalidState, "recurring payment amount must be positive")
	}
	if p.PaymentInterval <= 0 {
		return errs.New(errs.InvalidState, "payment interval must be positive")
	}
	if p.MaxPayments <= 0 {
		return errs.New(errs.InvalidState, "plan must schedule at least one payment")
	}
	return nil
}

// DueNow reports whether the next recurring payment is due at now.
func (p *Plan) DueNow(now time.Time) bool {
	if p.Completed() {
		return false
	}
	if p.LastPayment.IsZero() {
		return true
	}
	return now.Sub(p.LastPayment) >= p.PaymentInterval
}

// RecordPayment counts one completed recurring payment at now.
func (p *Plan) RecordPayment(now time.Time) {
	p.PaymentsDone++
	p.LastPayment = now
}

// RecordFailure counts one payment attempt the sender could not cover.
func (p *Plan) RecordFailure() {
	p.FailedPayments++
}

// Completed reports whether every scheduled recurring payment has run.
func (p *Plan) Completed() bool {
	return p.PaymentsDone >= p.MaxPayments
}

// CanRemoveItem reports whether nym may kill p: nym must be the
// originator, the opening number must still be Issued, and both closing
// numbers must still be reserved.
func CanRemoveItem(nym ids.ID, p *Plan, openingIssued bool, closingIssued [2]bool) bool {
	if nym != p.Originator {
		return false
	}
	return openingIssued && closingIssued[0] && closingIssued[1]
}
