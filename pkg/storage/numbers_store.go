package storage

import (
	"encoding/json"

	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/numbers"
)

// NumbersStore implements numbers.Store over a Store, serializing a
// Ledger's sets as JSON the way the teacher's PebbleStore serializes
// account/position/order records.
type NumbersStore struct {
	*Store
}

func (s *NumbersStore) LoadLedger(nym, notary ids.ID) (*numbers.Snapshot, error) {
	data, ok, err := s.Load(ledgerKey(nym, notary))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var snap numbers.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *NumbersStore) SaveLedger(nym, notary ids.ID, snap *numbers.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.Put(ledgerKey(nym, notary), data)
}
