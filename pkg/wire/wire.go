// Package wire defines the signed Message envelope and the stable
// command-name constants of spec.md §6. Grounded on the teacher's
// transaction.SignedTransaction (a JSON-tagged envelope with a Type tag,
// a oneof-shaped payload, and a hex Signature field, validated structurally
// before being acted on), generalized from order/cancel payloads to the
// notary's command set. The serialized form here is what pkg/armor
// compresses and bookends (spec.md's "any protobuf payload" read as "any
// wire-serialized payload" — see DESIGN.md).
package wire

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// Command is one of the stable wire command names spec.md §6 lists.
type Command string

const (
	CmdRegisterNym           Command = "registerNym"
	CmdUnregisterNym         Command = "unregisterNym"
	CmdGetRequestNumber      Command = "getRequestNumber"
	CmdGetTransactionNumbers Command = "getTransactionNumbers"
	CmdGetNymbox             Command = "getNymbox"
	CmdProcessNymbox         Command = "processNymbox"
	CmdRegisterAccount       Command = "registerAccount"
	CmdDeleteAssetAccount    Command = "deleteAssetAccount"
	CmdGetAccountData        Command = "getAccountData"
	CmdNotarizeTransfer      Command = "notarizeTransfer"
	CmdNotarizeDeposit       Command = "notarizeDeposit"
	CmdNotarizeWithdrawal    Command = "notarizeWithdrawal"
	CmdWithdrawVoucher       Command = "withdrawVoucher"
	CmdDepositCheque         Command = "depositCheque"
	CmdProcessInbox          Command = "processInbox"
	CmdDepositPaymentPlan    Command = "depositPaymentPlan"
	CmdKillPaymentPlan       Command = "killPaymentPlan"
	CmdIssueMarketOffer      Command = "issueMarketOffer"
	CmdKillMarketOffer       Command = "killMarketOffer"
	CmdGetMarketList         Command = "getMarketList"
	CmdGetMarketOffers       Command = "getMarketOffers"
	CmdGetMarketRecentTrades Command = "getMarketRecentTrades"
	CmdActivateSmartContract Command = "activateSmartContract"
	CmdTriggerClause         Command = "triggerClause"
)

// Message is the signed envelope carried inside an armored frame (C2).
// Payload is the already-JSON-marshaled command-specific body; Message
// itself carries only the fields every command needs plus the sender's
// signature over the canonical encoding of everything else.
type Message struct {
	Command     Command         `json:"command"`
	NymID       ids.ID          `json:"nymId"`
	NotaryID    ids.ID          `json:"notaryId"`
	RequestNum  uint64          `json:"requestNum"`
	NymboxHash  ids.ID          `json:"nymboxHash"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Success     bool            `json:"success,omitempty"`
	ErrorKind   errs.Kind       `json:"errorKind,omitempty"`
	Signature   []byte          `json:"signature,omitempty"`
}

// Canonical returns the deterministic bytes signed by the sender: the
// Message with Signature cleared.
func (m Message) Canonical() ([]byte, error) {
	unsigned := m
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Sign computes m.Signature over Canonical() using key, the sender's
// secp256k1 signing key (the same primitive pkg/ledger uses for receipts).
func Sign(m *Message, key []byte) error {
	payload, err := m.Canonical()
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "canonicalizing message", err)
	}
	hash := crypto.Keccak256(payload)
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "parsing signing key", err)
	}
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "signing message", err)
	}
	m.Signature = sig
	return nil
}

// Verify checks m.Signature against pubKey, the sender's uncompressed
// secp256k1 public key bytes.
func Verify(m Message, pubKey []byte) error {
	payload, err := m.Canonical()
	if err != nil {
		return errs.Wrap(errs.BadCrypto, "canonicalizing message", err)
	}
	hash := crypto.Keccak256(payload)
	if len(m.Signature) < 64 {
		return errs.New(errs.BadSignature, "signature too short")
	}
	if !crypto.VerifySignature(pubKey, hash, m.Signature[:64]) {
		return errs.New(errs.BadSignature, "message signature does not verify")
	}
	return nil
}

// DecodePayload unmarshals m.Payload into out.
func (m Message) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return errs.New(errs.MalformedArmor, "empty message payload")
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return errs.Wrap(errs.MalformedArmor, "decoding message payload", err)
	}
	return nil
}

// EncodePayload marshals in and assigns it to m.Payload.
func (m *Message) EncodePayload(in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errs.Wrap(errs.MalformedArmor, "encoding message payload", err)
	}
	m.Payload = data
	return nil
}

// Reply builds the notary's signed response to a request Message: same
// command and request number, success/error fields set, payload attached,
// ready for Sign with the notary's own key.
func Reply(req Message, success bool, kind errs.Kind, payload any) (Message, error) {
	reply := Message{
		Command:    req.Command,
		NymID:      req.NotaryID,
		NotaryID:   req.NymID,
		RequestNum: req.RequestNum,
		Success:    success,
		ErrorKind:  kind,
	}
	if payload != nil {
		if err := reply.EncodePayload(payload); err != nil {
			return Message{}, err
		}
	}
	return reply, nil
}
