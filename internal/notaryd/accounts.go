package notaryd

import (
	"sync"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/storage"
)

// accountLedger is the notary's balance book: an RWMutex-guarded,
// lazily-loaded cache over pkg/storage's account records, mirroring the
// teacher's AccountManager shape (load-on-touch, cache, persist on every
// mutating call). It implements market.AccountMover directly so
// pkg/market's matching engine can debit/credit through it with no
// adapter layer.
type accountLedger struct {
	store *storage.Store

	mu       sync.RWMutex
	balances map[ids.ID]*storage.AccountRecord
}

func newAccountLedger(store *storage.Store) *accountLedger {
	return &accountLedger{store: store, balances: map[ids.ID]*storage.AccountRecord{}}
}

func (l *accountLedger) record(acct ids.ID) (*storage.AccountRecord, error) {
	l.mu.RLock()
	if rec, ok := l.balances[acct]; ok {
		l.mu.RUnlock()
		return rec, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.balances[acct]; ok {
		return rec, nil
	}
	rec, ok, err := l.store.LoadAccount(acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec = &storage.AccountRecord{}
	}
	l.balances[acct] = rec
	return rec, nil
}

// Register creates a fresh zero-balance account denominated in unit,
// failing ConflictingAccounts if acct already exists.
func (l *accountLedger) Register(acct, unit ids.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[acct]; ok {
		return errs.New(errs.ConflictingAccounts, "account already registered")
	}
	existing, ok, err := l.store.LoadAccount(acct)
	if err != nil {
		return err
	}
	if ok {
		l.balances[acct] = existing
		return errs.New(errs.ConflictingAccounts, "account already registered")
	}
	rec := &storage.AccountRecord{UnitID: unit}
	l.balances[acct] = rec
	return l.store.SaveAccount(acct, *rec)
}

// Balance returns acct's current balance and unit.
func (l *accountLedger) Balance(acct ids.ID) (ids.Amount, ids.ID, error) {
	rec, err := l.record(acct)
	if err != nil {
		return 0, ids.ID{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return rec.Balance, rec.UnitID, nil
}

// Debit implements market.AccountMover: it subtracts amt from acct's
// balance, failing InsufficientFunds rather than letting it go negative.
func (l *accountLedger) Debit(acct ids.ID, amt ids.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.balances[acct]
	if !ok {
		loaded, exists, err := l.store.LoadAccount(acct)
		if err != nil {
			return err
		}
		if !exists {
			return errs.New(errs.UnknownUnit, "unknown account")
		}
		rec = loaded
		l.balances[acct] = rec
	}
	next, err := rec.Balance.Sub(amt)
	if err != nil {
		return errs.Wrap(errs.InsufficientFunds, "debit overflow", err)
	}
	if next < 0 {
		return errs.New(errs.InsufficientFunds, "insufficient balance")
	}
	rec.Balance = next
	return l.store.SaveAccount(acct, *rec)
}

// Credit implements market.AccountMover: it adds amt to acct's balance.
func (l *accountLedger) Credit(acct ids.ID, amt ids.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.balances[acct]
	if !ok {
		loaded, exists, err := l.store.LoadAccount(acct)
		if err != nil {
			return err
		}
		if !exists {
			loaded = &storage.AccountRecord{}
		}
		rec = loaded
		l.balances[acct] = rec
	}
	next, err := rec.Balance.Add(amt)
	if err != nil {
		return errs.Wrap(errs.InsufficientFunds, "credit overflow", err)
	}
	rec.Balance = next
	return l.store.SaveAccount(acct, *rec)
}
