// Package ids implements the notary core's content-addressed identifiers,
// canonical amounts, and ordered numeric keys (C1).
package ids

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ID is a content hash of a canonical payload. Equality is byte equality;
// it is used as the primary key for every keyed entity in the core (Nym,
// Notary, Unit, Account, CronItem, Market, Transaction, Token).
type ID [32]byte

// Zero is the zero-value ID, used as a sentinel for "no account" /
// "no unit" in places like the same-account guard.
var Zero ID

// Hash computes the canonical ID of a payload: Keccak-256 over the raw
// bytes, the same hash the teacher's signer uses to derive addresses.
func Hash(payload []byte) ID {
	var id ID
	copy(id[:], crypto.Keccak256(payload))
	return id
}

// HashDomain salts the hash with a short domain tag so IDs derived from
// different entity kinds never collide even given identical payload bytes.
func HashDomain(domain string, payload []byte) ID {
	buf := make([]byte, 0, len(domain)+1+len(payload))
	buf = append(buf, []byte(domain)...)
	buf = append(buf, 0)
	buf = append(buf, payload...)
	return Hash(buf)
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == Zero
}

func (id ID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("ids: decode ID: %w", err)
	}
	if len(b) != len(id) {
		return fmt.Errorf("ids: decode ID: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}

// ParseID parses a hex-encoded ID, as produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Amount is a signed, conservation-tracked quantity: an asset balance, a
// currency price, a token denomination.
type Amount int64

// ErrOverflow is returned by the checked arithmetic helpers below.
var ErrOverflow = errors.New("ids: amount overflow")

// Add returns a+b, failing closed on signed overflow rather than wrapping
// silently — conservation-of-value checks depend on this never lying.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b with the same overflow discipline as Add.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b == Amount(-1<<63) {
		return 0, ErrOverflow
	}
	return a.Add(-b)
}

// TxNumber is a per-notary monotonic transaction number. Numbers are
// allocated by the notary and staked by Nyms against the Available/Issued/
// Closing sets of pkg/numbers.
type TxNumber uint64

// Key returns the big-endian fixed-width encoding of n, suitable as a
// Pebble key suffix for ordered range scans — the same layout the
// teacher's storage layer uses for its view keys.
func (n TxNumber) Key() []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(n))
	return k[:]
}

func (n TxNumber) String() string {
	return fmt.Sprintf("%d", uint64(n))
}
