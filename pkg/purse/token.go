// Package purse implements the blinded cash token state machine and the
// purse container that holds tokens sealed to one or more Nyms (C8).
// Grounded on the state/field shape of opentxs::blind::Token and
// opentxs::blind::Purse in the original source, re-expressed as a Go
// state machine over the RSA blind-signature backend in pkg/cryptoengine
// rather than Lucre (spec.md §9, backend-agnostic by design).
package purse

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/open-transactions/notary/pkg/cryptoengine"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/mint"
)

// State is one of the five token lifecycle states (spec.md §4.7).
type State string

const (
	Blinded State = "blinded"
	Signed  State = "signed"
	Ready   State = "ready"
	Spent   State = "spent"
	Expired State = "expired"
)

// legalNext enumerates the allowed transitions out of each state.
var legalNext = map[State]map[State]bool{
	Blinded: {Signed: true, Expired: true},
	Signed:  {Ready: true, Expired: true},
	Ready:   {Spent: true, Expired: true},
	Spent:   {},
	Expired: {},
}

func (s State) canTransitionTo(next State) bool {
	return legalNext[s][next]
}

// privatePayload is the plaintext sealed under the purse's secondary key:
// the token id and the blinding factor needed to unblind the mint's
// signature. Owner-only material; never re-encrypted by ChangeOwner.
type privatePayload struct {
	TokenID hexBytes `json:"tokenId"`
	Factor  hexBytes `json:"factor"`
}

type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// publicPayload is the plaintext sealed under the purse's primary key
// while a token is in flight: the blinded request sent to the mint.
type publicPayload struct {
	Blinded hexBytes `json:"blinded"`
}

// Token is one blinded cash token. A Blinded token carries both
// PrivateProto and PublicProto; a Signed token adds the mint's signature;
// Spendable carries the unblinded material, per the table in spec.md §4.7.
type Token struct {
	NotaryID     ids.ID
	UnitID       ids.ID
	Series       uint64
	Denomination ids.Amount
	ValidFrom    time.Time
	ValidTo      time.Time
	State        State

	PrivateProto []byte // sealed under the purse's secondary key
	PublicProto  []byte // sealed under the purse's primary key
	Signature    []byte
	Spendable    []byte // sealed under the purse's primary key
}

// GenerateRequest produces a blinded prototoken request against
// mint.PublicKey(denomination): a fresh random token id is blinded with a
// fresh blinding factor, the (id, factor) pair is sealed under
// secondaryKey for the owner alone, and the blinded value itself is sealed
// under primaryKey for in-purse bookkeeping. Returns the new Blinded token
// plus the raw blinded bytes to submit to the mint.
func GenerateRequest(
	notary, unit ids.ID,
	series uint64,
	denom ids.Amount,
	validFrom, validTo time.Time,
	m *mint.Mint,
	primaryKey, secondaryKey cryptoengine.SymmetricKey,
) (*Token, []byte, error) {
	pub, err := m.PublicKey(series, denom)
	if err != nil {
		return nil, nil, err
	}

	tokenID := make([]byte, 32)
	if _, err := rand.Read(tokenID); err != nil {
		return nil, nil, errs.Wrap(errs.BadCrypto, "generating token id", err)
	}
	digest := cryptoengine.Hash(tokenID)

	blinded, factor, err := cryptoengine.BlindMessage(pub, digest[:])
	if err != nil {
		return nil, nil, err
	}

	privJSON, err := json.Marshal(privatePayload{TokenID: tokenID, Factor: factor.Bytes()})
	if err != nil {
		return nil, nil, errs.Wrap(errs.BadCrypto, "encoding private prototoken", err)
	}
	privSealed, err := cryptoengine.Seal(secondaryKey, privJSON)
	if err != nil {
		return nil, nil, err
	}

	pubJSON, err := json.Marshal(publicPayload{Blinded: blinded.Bytes()})
	if err != nil {
		return nil, nil, errs.Wrap(errs.BadCrypto, "encoding public prototoken", err)
	}
	pubSealed, err := cryptoengine.Seal(primaryKey, pubJSON)
	if err != nil {
		return nil, nil, err
	}

	tok := &Token{
		NotaryID:     notary,
		UnitID:       unit,
		Series:       series,
		Denomination: denom,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		State:        Blinded,
		PrivateProto: privSealed,
		PublicProto:  pubSealed,
	}
	return tok, blinded.Bytes(), nil
}

// MarkSigned transitions a Blinded token to Signed once the mint has
// returned its blind signature over the request produced by
// GenerateRequest.
func (t *Token) MarkSigned(signature []byte) error {
	if !t.State.canTransitionTo(Signed) {
		return errs.New(errs.InvalidState, "token not in Blinded state")
	}
	t.Signature = signature
	t.State = Signed
	return nil
}

// ChangeOwner re-encrypts PublicProto and Spendable (never PrivateProto,
// which stays owner-only) from oldPrimary to newPrimary — used when a
// Purse is handed to another Nym.
func (t *Token) ChangeOwner(oldPrimary, newPrimary cryptoengine.SymmetricKey) error {
	if len(t.PublicProto) > 0 {
		plain, err := cryptoengine.Open(oldPrimary, t.PublicProto)
		if err != nil {
			return err
		}
		sealed, err := cryptoengine.Seal(newPrimary, plain)
		if err != nil {
			return err
		}
		t.PublicProto = sealed
	}
	if len(t.Spendable) > 0 {
		plain, err := cryptoengine.Open(oldPrimary, t.Spendable)
		if err != nil {
			return err
		}
		sealed, err := cryptoengine.Seal(newPrimary, plain)
		if err != nil {
			return err
		}
		t.Spendable = sealed
	}
	return nil
}

// Process is valid only from Signed: it decrypts PrivateProto with
// secondaryKey to recover the token id and blinding factor, unblinds and
// verifies the mint's signature via cryptoengine.Unblind, derives the
// spendable token, seals it under primaryKey, transitions to Ready, and
// clears PrivateProto/PublicProto.
func (t *Token) Process(m *mint.Mint, primaryKey, secondaryKey cryptoengine.SymmetricKey) error {
	if !t.State.canTransitionTo(Ready) {
		return errs.New(errs.InvalidState, "token not in Signed state")
	}

	privJSON, err := cryptoengine.Open(secondaryKey, t.PrivateProto)
	if err != nil {
		return err
	}
	var priv privatePayload
	if err := json.Unmarshal(privJSON, &priv); err != nil {
		return errs.Wrap(errs.BadCrypto, "decoding private prototoken", err)
	}

	pub, err := m.PublicKey(t.Series, t.Denomination)
	if err != nil {
		return err
	}

	digest := cryptoengine.Hash(priv.TokenID)
	blindSig := new(big.Int).SetBytes(t.Signature)
	factor := new(big.Int).SetBytes(priv.Factor)

	sig, err := cryptoengine.Unblind(pub, digest[:], blindSig, factor)
	if err != nil {
		return err
	}

	spendable := fmt.Sprintf("id=%s;sig=%s", hex.EncodeToString(priv.TokenID), hex.EncodeToString(sig))
	sealed, err := cryptoengine.Seal(primaryKey, []byte(spendable))
	if err != nil {
		return err
	}

	t.Spendable = sealed
	t.PrivateProto = nil
	t.PublicProto = nil
	t.State = Ready
	return nil
}

// ParseSpendableID decrypts Spendable under primaryKey and extracts the
// token's "id=…" field, used by IsSpent/MarkSpent to key the notary's
// double-spend set.
func (t *Token) ParseSpendableID(primaryKey cryptoengine.SymmetricKey) (string, error) {
	if t.State != Ready && t.State != Spent {
		return "", errs.New(errs.InvalidState, "token has no spendable material")
	}
	plain, err := cryptoengine.Open(primaryKey, t.Spendable)
	if err != nil {
		return "", err
	}
	for _, field := range strings.Split(string(plain), ";") {
		if id, ok := strings.CutPrefix(field, "id="); ok {
			return id, nil
		}
	}
	return "", errs.New(errs.BadCrypto, "spendable token missing id field")
}

// SpendSet is the notary's shared double-spend set: checkAndMark is the
// only operation it supports (no unmark), keyed by (notary, unit, series,
// tokenId).
type SpendSet interface {
	CheckAndMark(notary, unit ids.ID, series uint64, tokenID string) (freshlyMarked bool, err error)
}

// MarkSpent is only valid from Ready. It parses the token id out of
// Spendable and atomically marks it spent in spendSet, failing
// errs.DoubleSpend if another deposit already claimed it first.
func (t *Token) MarkSpent(primaryKey cryptoengine.SymmetricKey, spendSet SpendSet) error {
	if t.State != Ready {
		return errs.New(errs.InvalidState, "token not in Ready state")
	}
	tokenID, err := t.ParseSpendableID(primaryKey)
	if err != nil {
		return err
	}
	fresh, err := spendSet.CheckAndMark(t.NotaryID, t.UnitID, t.Series, tokenID)
	if err != nil {
		return err
	}
	if !fresh {
		return errs.New(errs.DoubleSpend, "token already spent")
	}
	t.State = Spent
	return nil
}

// SpendQuerier is the read-only half of the double-spend set: a pure
// lookup that never marks. The notary's storage plugin backs both this
// and SpendSet off the same key namespace (pkg/storage); they are kept as
// separate interfaces because spec.md §5 allows only one atomic mutating
// operation (checkAndMark) but a plain lookup has no such restriction.
type SpendQuerier interface {
	IsMarkedSpent(notary, unit ids.ID, series uint64, tokenID string) (bool, error)
}

// IsSpent queries spendSet without mutating it — used for read-only
// double-spend checks ahead of a deposit attempt.
func (t *Token) IsSpent(primaryKey cryptoengine.SymmetricKey, spendSet SpendQuerier) (bool, error) {
	tokenID, err := t.ParseSpendableID(primaryKey)
	if err != nil {
		return false, err
	}
	return spendSet.IsMarkedSpent(t.NotaryID, t.UnitID, t.Series, tokenID)
}

// MarkExpired transitions any non-terminal token to Expired.
func (t *Token) MarkExpired() error {
	if t.State == Spent {
		return errs.New(errs.InvalidState, "token already Spent")
	}
	t.State = Expired
	return nil
}
