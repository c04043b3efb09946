package storage

import (
	"encoding/json"

	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
)

// SaveCronReceipt persists the signed receipt kept under a Cron item's
// opening number — the HookActivation server-record copy and the
// HookRemoval finalReceipt both land here (spec.md §6).
func (s *Store) SaveCronReceipt(openingNum ids.TxNumber, txn ledger.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	return s.Put(cronKey(openingNum), data)
}

// LoadCronReceipt reads back the receipt stored under openingNum.
func (s *Store) LoadCronReceipt(openingNum ids.TxNumber) (*ledger.Transaction, bool, error) {
	data, ok, err := s.Load(cronKey(openingNum))
	if err != nil || !ok {
		return nil, false, err
	}
	var txn ledger.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, false, err
	}
	return &txn, true, nil
}
