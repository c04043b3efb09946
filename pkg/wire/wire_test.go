package wire

import (
	"crypto/ecdsa"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

func newKeyPair(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv, gethcrypto.FromECDSA(priv)
}

func TestMessageSignVerifyRoundTrip(t *testing.T) {
	priv, keyBytes := newKeyPair(t)
	pub := gethcrypto.FromECDSAPub(&priv.PublicKey)

	msg := Message{Command: CmdRegisterNym, NymID: ids.Hash([]byte("nym")), NotaryID: ids.Hash([]byte("notary")), RequestNum: 1}
	if err := msg.EncodePayload(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if err := Sign(&msg, keyBytes); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(msg, pub); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv, keyBytes := newKeyPair(t)
	pub := gethcrypto.FromECDSAPub(&priv.PublicKey)

	msg := Message{Command: CmdGetNymbox, RequestNum: 5}
	if err := Sign(&msg, keyBytes); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	msg.RequestNum = 6
	if err := Verify(msg, pub); !errs.Is(err, errs.BadSignature) {
		t.Fatalf("expected BadSignature after tampering, got %v", err)
	}
}

func TestReplyCarriesRequestNumberAndSwapsParties(t *testing.T) {
	req := Message{Command: CmdGetAccountData, NymID: ids.Hash([]byte("nym")), NotaryID: ids.Hash([]byte("notary")), RequestNum: 42}
	reply, err := Reply(req, true, "", map[string]int{"balance": 100})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.RequestNum != 42 {
		t.Fatalf("expected requestNum 42, got %d", reply.RequestNum)
	}
	if reply.NymID != req.NotaryID || reply.NotaryID != req.NymID {
		t.Fatalf("expected reply to swap sender/notary roles")
	}
	var body map[string]int
	if err := reply.DecodePayload(&body); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if body["balance"] != 100 {
		t.Fatalf("expected balance 100, got %v", body)
	}
}
