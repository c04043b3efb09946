package plan

import (
	"testing"
	"time"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

func basePlan() *Plan {
	return &Plan{
		NotaryID:        ids.Hash([]byte("notary")),
		UnitID:          ids.Hash([]byte("usd")),
		SenderAcct:      ids.Hash([]byte("sender-acct")),
		RecipientAcct:   ids.Hash([]byte("recipient-acct")),
		InitialAmount:   100,
		PaymentAmount:   50,
		PaymentInterval: time.Hour,
		MaxPayments:     12,
	}
}

func TestIssueAcceptsValidPlan(t *testing.T) {
	p := basePlan()
	if err := Issue(p, p.NotaryID, p.UnitID); err != nil {
		t.Fatalf("Issue: %v", err)
	}
}

func TestIssueRejectsUnitMismatch(t *testing.T) {
	p := basePlan()
	other := ids.Hash([]byte("other-unit"))
	if err := Issue(p, p.NotaryID, other); !errs.Is(err, errs.UnitMismatch) {
		t.Fatalf("expected UnitMismatch, got %v", err)
	}
}

func TestIssueRejectsSameAccounts(t *testing.T) {
	p := basePlan()
	p.RecipientAcct = p.SenderAcct
	if err := Issue(p, p.NotaryID, p.UnitID); !errs.Is(err, errs.ConflictingAccounts) {
		t.Fatalf("expected ConflictingAccounts, got %v", err)
	}
}

func TestIssueRejectsBadSchedule(t *testing.T) {
	p := basePlan()
	p.PaymentAmount = 0
	if err := Issue(p, p.NotaryID, p.UnitID); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState for zero payment amount, got %v", err)
	}

	p = basePlan()
	p.PaymentInterval = 0
	if err := Issue(p, p.NotaryID, p.UnitID); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState for zero interval, got %v", err)
	}

	p = basePlan()
	p.MaxPayments = 0
	if err := Issue(p, p.NotaryID, p.UnitID); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState for zero max payments, got %v", err)
	}
}

func TestDueNowFollowsInterval(t *testing.T) {
	p := basePlan()
	now := time.Now()

	if !p.DueNow(now) {
		t.Fatalf("expected a fresh plan to be due immediately")
	}
	p.RecordPayment(now)
	if p.DueNow(now.Add(30 * time.Minute)) {
		t.Fatalf("expected no payment due half an interval after the last one")
	}
	if !p.DueNow(now.Add(time.Hour)) {
		t.Fatalf("expected a payment due a full interval after the last one")
	}
}

func TestCompletedStopsPayments(t *testing.T) {
	p := basePlan()
	p.MaxPayments = 2
	now := time.Now()

	p.RecordPayment(now)
	if p.Completed() {
		t.Fatalf("plan should not complete after 1 of 2 payments")
	}
	p.RecordPayment(now.Add(time.Hour))
	if !p.Completed() {
		t.Fatalf("plan should complete after 2 of 2 payments")
	}
	if p.DueNow(now.Add(48 * time.Hour)) {
		t.Fatalf("a completed plan is never due again")
	}
}

func TestCanRemoveItemRequiresOriginatorAndNumbers(t *testing.T) {
	owner := ids.Hash([]byte("owner"))
	stranger := ids.Hash([]byte("stranger"))
	p := basePlan()
	p.Originator = owner

	if CanRemoveItem(stranger, p, true, [2]bool{true, true}) {
		t.Fatalf("expected a non-originator to be rejected")
	}
	if CanRemoveItem(owner, p, true, [2]bool{true, false}) {
		t.Fatalf("expected rejection when a closing number is gone")
	}
	if !CanRemoveItem(owner, p, true, [2]bool{true, true}) {
		t.Fatalf("expected the originator with all numbers staked to cancel")
	}
}
