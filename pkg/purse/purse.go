package purse

import (
	"crypto/rand"
	"time"

	"github.com/open-transactions/notary/pkg/cryptoengine"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/mint"
)

// Type distinguishes the three purse roles (spec.md §3). Request and
// Issue purses own a secondary key protecting in-flight prototokens;
// Normal purses hold spendable tokens only.
type Type string

const (
	TypeRequest Type = "request"
	TypeIssue   Type = "issue"
	TypeNormal  Type = "normal"
)

// allowedStates is the per-type set of token states Verify accepts.
var allowedStates = map[Type]map[State]bool{
	TypeRequest: {Blinded: true},
	TypeIssue:   {Signed: true},
	TypeNormal:  {Ready: true, Spent: true, Expired: true},
}

// sessionKey seals the purse's primary key under a password-derived key,
// so any Nym holding the password can recover the primary key via Unlock.
type sessionKey struct {
	Salt   []byte
	Sealed []byte
}

// Purse is a container of cash tokens sealed to one or more Nyms.
type Purse struct {
	NotaryID ids.ID
	UnitID   ids.ID
	Type     Type

	TotalValue      ids.Amount
	LatestValidFrom time.Time
	EarliestValidTo time.Time

	Tokens []*Token // index 0 is the most recently pushed

	PrimaryKey         cryptoengine.SymmetricKey
	PrimarySessionKeys []sessionKey
	SecondaryKey       *cryptoengine.SymmetricKey

	unlocked bool
}

// New constructs an empty purse of the given type with a freshly generated
// primary key, already unlocked for its creator.
func New(notary, unit ids.ID, typ Type) (*Purse, error) {
	p := &Purse{NotaryID: notary, UnitID: unit, Type: typ, unlocked: true}
	if _, err := rand.Read(p.PrimaryKey[:]); err != nil {
		return nil, errs.Wrap(errs.BadCrypto, "generating purse primary key", err)
	}
	if typ == TypeRequest || typ == TypeIssue {
		var sk cryptoengine.SymmetricKey
		if _, err := rand.Read(sk[:]); err != nil {
			return nil, errs.Wrap(errs.BadCrypto, "generating purse secondary key", err)
		}
		p.SecondaryKey = &sk
	}
	return p, nil
}

// AddNym requires the purse be unlocked: it seals the primary key under a
// password-derived key for nym and appends the resulting session key, so a
// later Unlock by that Nym's password recovers PrimaryKey.
func (p *Purse) AddNym(password []byte) error {
	if !p.unlocked {
		return errs.New(errs.InvalidState, "purse must be unlocked to add a nym")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.BadCrypto, "generating session salt", err)
	}
	key, err := cryptoengine.DeriveKey(password, salt)
	if err != nil {
		return err
	}
	sealed, err := cryptoengine.Seal(key, p.PrimaryKey[:])
	if err != nil {
		return err
	}
	p.PrimarySessionKeys = append(p.PrimarySessionKeys, sessionKey{Salt: salt, Sealed: sealed})
	return nil
}

// Unlock iterates the purse's session keys, attempting to open each with
// password, and sets unlocked on first success.
func (p *Purse) Unlock(password []byte) error {
	for _, sk := range p.PrimarySessionKeys {
		key, err := cryptoengine.DeriveKey(password, sk.Salt)
		if err != nil {
			continue
		}
		raw, err := cryptoengine.Open(key, sk.Sealed)
		if err != nil {
			continue
		}
		copy(p.PrimaryKey[:], raw)
		p.unlocked = true
		return nil
	}
	return errs.New(errs.InvalidState, "no session key unlocked this purse")
}

// Unlocked reports whether the purse's primary key is currently available.
func (p *Purse) Unlocked() bool { return p.unlocked }

// Push validates token's state, re-encrypts its public/spendable material
// under the purse's own primary key (an ownership transfer into this
// purse), prepends it (most recently added pops first), and recomputes
// TotalValue/LatestValidFrom/EarliestValidTo.
func (p *Purse) Push(token *Token, fromPrimary cryptoengine.SymmetricKey) error {
	if token.State == Spent {
		return errs.New(errs.InvalidState, "cannot push a spent token")
	}
	if fromPrimary != p.PrimaryKey {
		if err := token.ChangeOwner(fromPrimary, p.PrimaryKey); err != nil {
			return err
		}
	}
	p.Tokens = append([]*Token{token}, p.Tokens...)
	p.recompute()
	return nil
}

// Pop removes and returns the most-recently-pushed token.
func (p *Purse) Pop() (*Token, error) {
	if len(p.Tokens) == 0 {
		return nil, errs.New(errs.InvalidState, "purse is empty")
	}
	tok := p.Tokens[0]
	p.Tokens = p.Tokens[1:]
	p.recompute()
	return tok, nil
}

func (p *Purse) recompute() {
	var total ids.Amount
	var latestFrom, earliestTo time.Time
	for _, tok := range p.Tokens {
		if tok.State == Blinded || tok.State == Signed || tok.State == Ready {
			total += tok.Denomination
		}
		if latestFrom.IsZero() || tok.ValidFrom.After(latestFrom) {
			latestFrom = tok.ValidFrom
		}
		if earliestTo.IsZero() || tok.ValidTo.Before(earliestTo) {
			earliestTo = tok.ValidTo
		}
	}
	p.TotalValue = total
	p.LatestValidFrom = latestFrom
	p.EarliestValidTo = earliestTo
}

// Process is valid only for Issue purses: it processes every token
// (Signed → Ready) against mint, and only on all-success transitions the
// purse itself to Normal and clears its secondary key.
func (p *Purse) Process(m *mint.Mint, secondaryKey cryptoengine.SymmetricKey) error {
	if p.Type != TypeIssue {
		return errs.New(errs.InvalidState, "Process is only valid for Issue purses")
	}
	for _, tok := range p.Tokens {
		if err := tok.Process(m, p.PrimaryKey, secondaryKey); err != nil {
			return err
		}
	}
	p.Type = TypeNormal
	p.SecondaryKey = nil
	return nil
}

// Verify is the notary-side structural check: every token's state must be
// in the per-type allowed set, every token's notary/unit/series/validity
// must match the resolved Mint series, TotalValue must equal the sum of
// denominations over {Blinded,Signed,Ready} tokens, and
// LatestValidFrom/EarliestValidTo must match the recomputed extremes.
func (p *Purse) Verify(m *mint.Mint) error {
	allowed := allowedStates[p.Type]
	if allowed == nil {
		return errs.New(errs.InvalidState, "unknown purse type")
	}

	var total ids.Amount
	var latestFrom, earliestTo time.Time
	for _, tok := range p.Tokens {
		if !allowed[tok.State] {
			return errs.New(errs.InvalidState, "token state not permitted for this purse type")
		}
		if tok.NotaryID != p.NotaryID {
			return errs.New(errs.NotaryMismatch, "token notary does not match purse")
		}
		if tok.UnitID != p.UnitID {
			return errs.New(errs.UnitMismatch, "token unit does not match purse")
		}
		series, err := m.Series(tok.Series)
		if err != nil {
			return err
		}
		if tok.ValidFrom != series.ValidFrom || tok.ValidTo != series.ValidTo {
			return errs.New(errs.BadMint, "token validity window does not match its series")
		}
		if tok.State == Blinded || tok.State == Signed || tok.State == Ready {
			total += tok.Denomination
		}
		if latestFrom.IsZero() || tok.ValidFrom.After(latestFrom) {
			latestFrom = tok.ValidFrom
		}
		if earliestTo.IsZero() || tok.ValidTo.Before(earliestTo) {
			earliestTo = tok.ValidTo
		}
	}

	if total != p.TotalValue {
		return errs.New(errs.InvalidState, "purse totalValue does not match token denominations")
	}
	if !latestFrom.Equal(p.LatestValidFrom) || !earliestTo.Equal(p.EarliestValidTo) {
		return errs.New(errs.InvalidState, "purse validity window does not match tokens")
	}
	return nil
}
