package storage

import (
	"encoding/json"

	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/market"
)

// SaveMarket persists a Market's resting book and journal under
// markets/<marketId>, mirroring the teacher's SaveTrade/LoadRecentTrades
// persist-after-success discipline: callers export and save only once a
// tick's executions have already been committed to the account ledger.
func (s *Store) SaveMarket(id ids.ID, m *market.Market) error {
	data, err := json.Marshal(m.Export())
	if err != nil {
		return err
	}
	return s.Put(marketKey(id), data)
}

// LoadMarket reconstructs a previously saved Market, or reports ok=false
// if none has been persisted for id yet.
func (s *Store) LoadMarket(id ids.ID) (m *market.Market, ok bool, err error) {
	data, found, err := s.Load(marketKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	var snap market.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, err
	}
	return market.Restore(snap), true, nil
}

// SaveRecentTrades persists a Market's recent-trades journal to its own
// bounded file, separate from the market's resting book (spec.md §6).
func (s *Store) SaveRecentTrades(id ids.ID, entries []market.JournalEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.Put(recentTradesKey(id), data)
}

// LoadRecentTrades reads back a previously saved recent-trades journal.
func (s *Store) LoadRecentTrades(id ids.ID) ([]market.JournalEntry, error) {
	data, ok, err := s.Load(recentTradesKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var entries []market.JournalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
