// Package ledger implements the notary's signed Transaction+Item tree and
// the append-only, hash-chained per-account Inbox that holds it (C4).
package ledger

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// ItemStatus is the disposition of one Item within a Transaction.
type ItemStatus string

const (
	StatusRequest ItemStatus = "request"
	StatusAck     ItemStatus = "ack"
	StatusReject  ItemStatus = "reject"
)

// ItemType distinguishes the receipt kinds the Cron/Market path produces;
// other item types (transfer, deposit, withdrawal receipts) are
// represented the same way but are outside this core's scope.
type ItemType string

const (
	ItemMarketReceipt  ItemType = "marketReceipt"
	ItemPaymentReceipt ItemType = "paymentReceipt"
	ItemFinalReceipt   ItemType = "finalReceipt"
)

// Item is one line of a Transaction: an amount with a note and an
// optional attachment (e.g. the updated Offer after a partial fill).
type Item struct {
	Type       ItemType   `json:"type"`
	Status     ItemStatus `json:"status"`
	Amount     ids.Amount `json:"amount"`
	Note       string     `json:"note,omitempty"`
	Attachment []byte     `json:"attachment,omitempty"`
}

// Transaction is a signed record identified by its own transaction number,
// referencing another number via InReferenceTo (for a finalReceipt, the
// opening number in the Nymbox and the account's closing number in an
// account inbox; the originator's opening number for a marketReceipt).
type Transaction struct {
	Number        ids.TxNumber `json:"number"`
	InReferenceTo ids.TxNumber `json:"inReferenceTo"`
	Origin        ItemType     `json:"origin"`
	Items         []Item       `json:"items"`
	Reference     []byte       `json:"reference,omitempty"`
	Signature     []byte       `json:"signature"`
}

// Canonical returns the deterministic byte encoding of t used both as the
// signing payload and as the chained hash input — everything except the
// signature itself, so the signature cannot be a quine.
func (t Transaction) Canonical() ([]byte, error) {
	unsigned := t
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Sign computes t.Signature over Canonical() using the notary's signing
// key. Called once, by the notary, before the transaction is appended to
// any inbox.
func Sign(t *Transaction, notaryKey []byte) error {
	payload, err := t.Canonical()
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "canonicalizing transaction", err)
	}
	hash := crypto.Keccak256(payload)
	key, err := crypto.ToECDSA(notaryKey)
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "parsing notary signing key", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "signing transaction", err)
	}
	t.Signature = sig
	return nil
}

// VerifySignature checks t.Signature against notaryPubKey, the uncompressed
// secp256k1 public key bytes of the signing notary.
func VerifySignature(t Transaction, notaryPubKey []byte) error {
	payload, err := t.Canonical()
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "canonicalizing transaction", err)
	}
	hash := crypto.Keccak256(payload)
	if len(t.Signature) < 64 {
		return errs.New(errs.BadSignature, "signature too short")
	}
	sig := t.Signature[:64]
	if !crypto.VerifySignature(notaryPubKey, hash, sig) {
		return errs.New(errs.BadSignature, "signature does not verify")
	}
	return nil
}

// Inbox is the append-only, hash-chained ledger of Transactions for one
// account. Each append recomputes the inbox-hash by chaining the prior
// hash with the new transaction's canonical bytes.
type Inbox struct {
	Account   ids.ID        `json:"account"`
	Hash      ids.ID        `json:"hash"`
	Entries   []Transaction `json:"entries"`
}

// NewInbox returns an empty Inbox for account, with the zero hash as its
// chain root.
func NewInbox(account ids.ID) *Inbox {
	return &Inbox{Account: account}
}

// Append adds txn to the inbox and advances the hash chain:
// inboxHash' = H(inboxHash || canonical(txn)).
func (ib *Inbox) Append(txn Transaction) error {
	if len(txn.Signature) == 0 {
		return errs.New(errs.BadSignature, "cannot append unsigned transaction")
	}
	payload, err := txn.Canonical()
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "canonicalizing transaction for chaining", err)
	}

	buf := make([]byte, 0, len(ib.Hash)+len(payload))
	buf = append(buf, ib.Hash[:]...)
	buf = append(buf, payload...)

	ib.Hash = ids.Hash(buf)
	ib.Entries = append(ib.Entries, txn)
	return nil
}

// VerifyChain recomputes the hash chain from scratch and reports whether
// it matches ib.Hash — the receipt-chain-monotonicity invariant.
func (ib *Inbox) VerifyChain() error {
	var running ids.ID
	for _, txn := range ib.Entries {
		payload, err := txn.Canonical()
		if err != nil {
			return errs.Wrap(errs.BadCrypto, "canonicalizing transaction during verification", err)
		}
		buf := make([]byte, 0, len(running)+len(payload))
		buf = append(buf, running[:]...)
		buf = append(buf, payload...)
		running = ids.Hash(buf)
	}
	if running != ib.Hash {
		return errs.New(errs.BalanceAgreementMismatch, "inbox hash chain does not match recorded hash")
	}
	return nil
}

// PendingFinalReceipts returns the set of closing/opening numbers that have
// a finalReceipt sitting in this inbox but not yet accepted (acceptance is
// modeled by the caller removing the entry once processInbox runs; while
// present, the numbers it references are excluded from the expected
// balance-agreement set per pkg/numbers.ExpectedAgreement).
func (ib *Inbox) PendingFinalReceipts() map[ids.TxNumber]struct{} {
	out := map[ids.TxNumber]struct{}{}
	for _, txn := range ib.Entries {
		if txn.Origin == ItemFinalReceipt {
			out[txn.InReferenceTo] = struct{}{}
		}
	}
	return out
}
