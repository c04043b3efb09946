package numbers

import (
	"testing"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

type memStore struct {
	data map[ids.ID]map[ids.ID]*Snapshot
}

func newMemStore() *memStore {
	return &memStore{data: map[ids.ID]map[ids.ID]*Snapshot{}}
}

func (m *memStore) LoadLedger(nym, notary ids.ID) (*Snapshot, error) {
	if byNotary, ok := m.data[nym]; ok {
		if snap, ok := byNotary[notary]; ok {
			return snap, nil
		}
	}
	return nil, nil
}

func (m *memStore) SaveLedger(nym, notary ids.ID, snap *Snapshot) error {
	if m.data[nym] == nil {
		m.data[nym] = map[ids.ID]*Snapshot{}
	}
	m.data[nym][notary] = snap
	return nil
}

func testIDs() (nym, notary ids.ID) {
	return ids.Hash([]byte("nym-1")), ids.Hash([]byte("notary-1"))
}

func TestConsumeMovesAvailableToIssued(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, err := mgr.Ledger(nym, notary)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}

	if err := l.Issue(1); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := l.Consume(1); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !l.VerifyIssued(1) {
		t.Fatalf("expected 1 to be Issued after Consume")
	}
	snap := l.Snapshot()
	if _, ok := snap.Available[1]; ok {
		t.Fatalf("1 should have left Available")
	}
}

func TestConsumeFailsWhenNotAvailable(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, _ := mgr.Ledger(nym, notary)

	err := l.Consume(99)
	if !errs.Is(err, errs.NumberNotAvailable) {
		t.Fatalf("expected NumberNotAvailable, got %v", err)
	}
}

func TestNumberDisjointAcrossSets(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, _ := mgr.Ledger(nym, notary)

	if err := l.Issue(7); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := l.ReserveClosing(7); err != nil {
		t.Fatalf("ReserveClosing: %v", err)
	}
	snap := l.Snapshot()
	_, inAvail := snap.Available[7]
	_, inIssued := snap.Issued[7]
	_, inClosing := snap.Closing[7]
	if inAvail || inIssued || !inClosing {
		t.Fatalf("expected 7 only in Closing, got avail=%v issued=%v closing=%v", inAvail, inIssued, inClosing)
	}
}

func TestReleaseIssuedRequiresIssued(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, _ := mgr.Ledger(nym, notary)

	err := l.ReleaseIssued(5)
	if !errs.Is(err, errs.NumberNotIssued) {
		t.Fatalf("expected NumberNotIssued, got %v", err)
	}
}

func TestCancellationBeforeActivationReturnsToAvailable(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, _ := mgr.Ledger(nym, notary)

	if err := l.Issue(3); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := l.ReserveClosing(3); err != nil {
		t.Fatalf("ReserveClosing: %v", err)
	}
	if err := l.ReturnToAvailable(3); err != nil {
		t.Fatalf("ReturnToAvailable: %v", err)
	}

	snap := l.Snapshot()
	if _, ok := snap.Available[3]; !ok {
		t.Fatalf("expected 3 back in Available")
	}
	if _, ok := snap.Closing[3]; ok {
		t.Fatalf("expected 3 removed from Closing")
	}
}

func TestVerifyAgreementExcludesPendingFinalReceipts(t *testing.T) {
	nym, notary := testIDs()
	mgr := NewManager(newMemStore())
	l, _ := mgr.Ledger(nym, notary)

	for _, n := range []ids.TxNumber{1, 2, 3} {
		if err := l.Issue(n); err != nil {
			t.Fatalf("Issue(%d): %v", n, err)
		}
		if err := l.Consume(n); err != nil {
			t.Fatalf("Consume(%d): %v", n, err)
		}
	}

	pending := map[ids.TxNumber]struct{}{2: {}}
	claimed := map[ids.TxNumber]struct{}{1: {}, 3: {}}

	if err := l.VerifyAgreement(claimed, pending); err != nil {
		t.Fatalf("VerifyAgreement: %v", err)
	}

	badClaim := map[ids.TxNumber]struct{}{1: {}, 2: {}, 3: {}}
	if err := l.VerifyAgreement(badClaim, pending); !errs.Is(err, errs.BalanceAgreementMismatch) {
		t.Fatalf("expected BalanceAgreementMismatch, got %v", err)
	}
}

func TestLedgerPersistsAcrossManagerCacheMiss(t *testing.T) {
	nym, notary := testIDs()
	store := newMemStore()

	mgr1 := NewManager(store)
	l1, _ := mgr1.Ledger(nym, notary)
	if err := l1.Issue(42); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	mgr2 := NewManager(store)
	l2, err := mgr2.Ledger(nym, notary)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}
	snap := l2.Snapshot()
	if _, ok := snap.Available[42]; !ok {
		t.Fatalf("expected 42 to be loaded from store into fresh manager")
	}
}
