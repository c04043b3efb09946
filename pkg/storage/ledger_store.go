package storage

import (
	"encoding/json"

	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
)

// SaveInbox persists ib under its account's inbox key. Receipts
// themselves stay out of the ledger file proper per spec.md §6 ("receipts
// live outside the ledger and are referenced by number"); SaveReceipt
// below writes the per-transaction box-receipt file separately.
func (s *Store) SaveInbox(ib *ledger.Inbox) error {
	data, err := json.Marshal(ib)
	if err != nil {
		return err
	}
	return s.Put(inboxKey(ib.Account), data)
}

// LoadInbox returns the inbox for account, or a fresh empty one if none
// has been persisted yet.
func (s *Store) LoadInbox(account ids.ID) (*ledger.Inbox, error) {
	data, ok, err := s.Load(inboxKey(account))
	if err != nil {
		return nil, err
	}
	if !ok {
		return ledger.NewInbox(account), nil
	}
	var ib ledger.Inbox
	if err := json.Unmarshal(data, &ib); err != nil {
		return nil, err
	}
	return &ib, nil
}

// SaveReceipt writes the box-receipt file for one transaction, keyed by
// its own transaction number — the layout spec.md §6 describes so the
// ledger file itself stays small.
func (s *Store) SaveReceipt(txn ledger.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	return s.Put(receiptKey(txn.Number), data)
}

// LoadReceipt reads back the box-receipt file for txNumber.
func (s *Store) LoadReceipt(txNumber ids.TxNumber) (*ledger.Transaction, error) {
	data, err := s.MustLoad(receiptKey(txNumber))
	if err != nil {
		return nil, err
	}
	var txn ledger.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}
