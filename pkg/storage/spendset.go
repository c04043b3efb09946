package storage

import "github.com/open-transactions/notary/pkg/ids"

// spendMarker is the sole value ever written under the double-spend
// namespace; its presence is the mark.
var spendMarker = []byte{1}

// CheckAndMark implements purse.SpendSet: it is the shared double-spend
// set's only mutating operation, and it is atomic with respect to
// concurrent deposit attempts within this process.
func (s *Store) CheckAndMark(notary, unit ids.ID, series uint64, tokenID string) (bool, error) {
	s.spendMu.Lock()
	defer s.spendMu.Unlock()

	key := spendKey(notary, unit, series, tokenID)
	exists, err := s.Exists(key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Put(key, spendMarker); err != nil {
		return false, err
	}
	return true, nil
}

// IsMarkedSpent implements purse.SpendQuerier: a pure lookup that never
// marks, backing Token.IsSpent.
func (s *Store) IsMarkedSpent(notary, unit ids.ID, series uint64, tokenID string) (bool, error) {
	return s.Exists(spendKey(notary, unit, series, tokenID))
}
