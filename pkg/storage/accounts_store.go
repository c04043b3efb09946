package storage

import (
	"encoding/json"

	"github.com/open-transactions/notary/pkg/ids"
)

// AccountRecord is the persisted form of one account: its balance and the
// unit it is denominated in. internal/notaryd is the only caller; this
// package stays ignorant of anything richer than balance bookkeeping.
type AccountRecord struct {
	UnitID  ids.ID     `json:"unitId"`
	Balance ids.Amount `json:"balance"`
}

// LoadAccount returns the persisted record for account, or (nil, false,
// nil) if none exists yet.
func (s *Store) LoadAccount(account ids.ID) (*AccountRecord, bool, error) {
	data, ok, err := s.Load(accountKey(account))
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec AccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// SaveAccount persists rec under account.
func (s *Store) SaveAccount(account ids.ID, rec AccountRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Put(accountKey(account), data)
}

// RegisterNymRecord marks nym as registered with this notary.
func (s *Store) RegisterNymRecord(nym ids.ID) error {
	return s.Put(nymKey(nym), []byte{1})
}

// IsNymRegistered reports whether nym has previously been registered.
func (s *Store) IsNymRegistered(nym ids.ID) (bool, error) {
	return s.Exists(nymKey(nym))
}
