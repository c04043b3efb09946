// Package numbers implements the per-Nym, per-Notary transaction-number
// ledger: disjoint Available/Issued/Closing sets with consume/release/
// verify operations (C3).
package numbers

import (
	"sync"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// Store persists a Ledger's sets. The notary-domain Pebble store
// (pkg/storage) implements this; tests may use an in-memory stub.
type Store interface {
	LoadLedger(nym, notary ids.ID) (*Snapshot, error)
	SaveLedger(nym, notary ids.ID, snap *Snapshot) error
}

// Snapshot is the wire/storage form of a Ledger: three disjoint sets of
// transaction numbers plus the set of opening numbers currently tagged on
// Cron.
type Snapshot struct {
	Available map[ids.TxNumber]struct{}
	Issued    map[ids.TxNumber]struct{}
	Closing   map[ids.TxNumber]struct{}
	CronTags  map[ids.TxNumber]struct{}
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Available: map[ids.TxNumber]struct{}{},
		Issued:    map[ids.TxNumber]struct{}{},
		Closing:   map[ids.TxNumber]struct{}{},
		CronTags:  map[ids.TxNumber]struct{}{},
	}
}

// Manager is an RWMutex-guarded, lazily-loaded cache of per-(Nym,Notary)
// Ledgers, mirroring the teacher's AccountManager shape: load from store on
// first touch, cache, persist on every mutating call.
type Manager struct {
	store Store

	mu      sync.RWMutex
	ledgers map[ids.ID]map[ids.ID]*Ledger
}

// NewManager constructs a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:   store,
		ledgers: map[ids.ID]map[ids.ID]*Ledger{},
	}
}

// Ledger returns the Ledger for (nym, notary), loading it from the store
// and caching it if this is the first touch in this process.
func (m *Manager) Ledger(nym, notary ids.ID) (*Ledger, error) {
	m.mu.RLock()
	if byNotary, ok := m.ledgers[nym]; ok {
		if l, ok := byNotary[notary]; ok {
			m.mu.RUnlock()
			return l, nil
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if byNotary, ok := m.ledgers[nym]; ok {
		if l, ok := byNotary[notary]; ok {
			return l, nil
		}
	}

	snap, err := m.store.LoadLedger(nym, notary)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = emptySnapshot()
	}

	l := &Ledger{
		nym:    nym,
		notary: notary,
		store:  m.store,
		snap:   snap,
	}
	if m.ledgers[nym] == nil {
		m.ledgers[nym] = map[ids.ID]*Ledger{}
	}
	m.ledgers[nym][notary] = l
	return l, nil
}

// Ledger holds the three disjoint transaction-number sets for one
// (Nym, Notary) pair plus the set of opening numbers tagged on Cron.
// All mutating methods persist the updated snapshot before returning.
type Ledger struct {
	mu sync.Mutex

	nym    ids.ID
	notary ids.ID
	store  Store
	snap   *Snapshot
}

func (l *Ledger) persist() error {
	return l.store.SaveLedger(l.nym, l.notary, l.snap)
}

// Issue adds n to Available. Notary-side only: called when the notary
// signs a fresh batch of numbers to a Nym.
func (l *Ledger) Issue(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, inIssued := l.snap.Issued[n]; inIssued {
		return errs.New(errs.InvalidState, "number already issued to this nym")
	}
	l.snap.Available[n] = struct{}{}
	return l.persist()
}

// Consume moves n from Available to Issued, authorizing a write to an
// account or instrument. Fails NumberNotAvailable if n is not currently in
// Available.
func (l *Ledger) Consume(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.snap.Available[n]; !ok {
		return errs.New(errs.NumberNotAvailable, "number not available")
	}
	delete(l.snap.Available, n)
	l.snap.Issued[n] = struct{}{}
	return l.persist()
}

// VerifyIssued reports whether n is currently in Issued.
func (l *Ledger) VerifyIssued(n ids.TxNumber) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.snap.Issued[n]
	return ok
}

// ReserveClosing moves n from Available into Closing — used when a long-
// lived Cron item reserves a number to later close out one account's
// participation. Fails NumberNotAvailable if n is not in Available.
func (l *Ledger) ReserveClosing(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.snap.Available[n]; !ok {
		return errs.New(errs.NumberNotAvailable, "closing number not available")
	}
	delete(l.snap.Available, n)
	l.snap.Closing[n] = struct{}{}
	return l.persist()
}

// VerifyClosing reports whether n is currently in Closing.
func (l *Ledger) VerifyClosing(n ids.TxNumber) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.snap.Closing[n]
	return ok
}

// ReleaseClosing removes n from Closing once its final receipt is
// accepted.
func (l *Ledger) ReleaseClosing(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.snap.Closing[n]; !ok {
		return errs.New(errs.NumberNotIssued, "closing number not reserved")
	}
	delete(l.snap.Closing, n)
	return l.persist()
}

// TagCronOpening marks openingNum as live on Cron, separate from the
// Issued set: closing it later does not touch Issued.
func (l *Ledger) TagCronOpening(openingNum ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap.CronTags[openingNum] = struct{}{}
	return l.persist()
}

// CloseCronItem untags openingNum from the Cron set without touching
// Issued — the opening number is only fully released from Issued when the
// Nym accepts the final receipt.
func (l *Ledger) CloseCronItem(openingNum ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.snap.CronTags, openingNum)
	return l.persist()
}

// ReleaseIssued performs the final removal of n from Issued, called when
// the Nym accepts the final receipt referencing it.
func (l *Ledger) ReleaseIssued(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.snap.Issued[n]; !ok {
		return errs.New(errs.NumberNotIssued, "number not issued")
	}
	delete(l.snap.Issued, n)
	return l.persist()
}

// ReturnToAvailable moves n directly back to Available without touching
// Issued — used for cancellation-before-activation, where no final
// receipt is ever produced (spec.md §4.4 tie-break).
func (l *Ledger) ReturnToAvailable(n ids.TxNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.snap.Closing, n)
	l.snap.Available[n] = struct{}{}
	return l.persist()
}

// ExpectedAgreement returns the set the notary expects a balance
// agreement to list: Issued minus any numbers whose final receipts are
// still sitting unaccepted in the inbox (pending is supplied by the
// caller, which tracks inbox state in pkg/ledger).
func (l *Ledger) ExpectedAgreement(pendingFinalReceipts map[ids.TxNumber]struct{}) map[ids.TxNumber]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[ids.TxNumber]struct{}, len(l.snap.Issued))
	for n := range l.snap.Issued {
		if _, pending := pendingFinalReceipts[n]; pending {
			continue
		}
		out[n] = struct{}{}
	}
	return out
}

// VerifyAgreement checks a client-submitted agreement set against
// ExpectedAgreement, failing BalanceAgreementMismatch on any discrepancy.
func (l *Ledger) VerifyAgreement(claimed map[ids.TxNumber]struct{}, pendingFinalReceipts map[ids.TxNumber]struct{}) error {
	expected := l.ExpectedAgreement(pendingFinalReceipts)
	if len(expected) != len(claimed) {
		return errs.New(errs.BalanceAgreementMismatch, "issued-number set size mismatch")
	}
	for n := range claimed {
		if _, ok := expected[n]; !ok {
			return errs.New(errs.BalanceAgreementMismatch, "unexpected number in agreement")
		}
	}
	return nil
}

// Snapshot returns a defensive copy of the ledger's current sets, for
// diagnostics and tests.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Snapshot{
		Available: make(map[ids.TxNumber]struct{}, len(l.snap.Available)),
		Issued:    make(map[ids.TxNumber]struct{}, len(l.snap.Issued)),
		Closing:   make(map[ids.TxNumber]struct{}, len(l.snap.Closing)),
		CronTags:  make(map[ids.TxNumber]struct{}, len(l.snap.CronTags)),
	}
	for n := range l.snap.Available {
		out.Available[n] = struct{}{}
	}
	for n := range l.snap.Issued {
		out.Issued[n] = struct{}{}
	}
	for n := range l.snap.Closing {
		out.Closing[n] = struct{}{}
	}
	for n := range l.snap.CronTags {
		out.CronTags[n] = struct{}{}
	}
	return out
}
