// Package storage is the notary's storage plugin (spec.md §6): a Pebble-
// backed key/value store exposing load/store/exists/listBucket plus the
// shared double-spend set's checkAndMark. Grounded on the teacher's
// storage.PebbleStore (pebble.Open, Set/Get/NewIter over byte-string keys,
// pebble.Sync for durable writes), generalized from the teacher's
// block/cert/account namespaces to the notary's own key layout (ledger
// files, market files, recent-trade journals, Cron receipts, the
// double-spend set).
package storage

import (
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/open-transactions/notary/pkg/errs"
)

// Store wraps a single Pebble database under the notary's key namespaces.
type Store struct {
	db *pebble.DB

	// spendMu serializes checkAndMark so the read-modify-write is atomic
	// within this process; Pebble itself has no native CAS.
	spendMu sync.Mutex
}

// Open opens (creating if absent) a Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errs.Wrap(errs.BadCrypto, "opening storage", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the bytes stored at path, or (nil, false, nil) if absent.
func (s *Store) Load(path string) ([]byte, bool, error) {
	val, closer, err := s.db.Get([]byte(path))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// MustLoad is a convenience for call sites that already expect the key to
// exist; it returns an error if it does not.
func (s *Store) MustLoad(path string) ([]byte, error) {
	data, ok, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UnknownNym, "no value at "+path)
	}
	return data, nil
}

// Put durably stores data at path, overwriting any previous value.
func (s *Store) Put(path string, data []byte) error {
	return s.db.Set([]byte(path), data, pebble.Sync)
}

// Exists reports whether path has a stored value.
func (s *Store) Exists(path string) (bool, error) {
	_, ok, err := s.Load(path)
	return ok, err
}

// ListBucket returns every key under prefix, in lexicographic order.
func (s *Store) ListBucket(prefix string) ([]string, error) {
	lower := []byte(prefix)
	upper := keyUpperBound(lower)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

// keyUpperBound returns the smallest key that sorts strictly after every
// key with prefix, used as the exclusive upper bound of a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff: unbounded
}
