package cryptoengine

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/pkg/errs"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey([]byte("passphrase"), []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	sealed, err := Seal(key, []byte("hello purse"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "hello purse" {
		t.Fatalf("got %q", opened)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := DeriveKey([]byte("pw"), []byte("salt"))
	sealed, _ := Seal(key, []byte("payload"))
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Open(key, sealed); err == nil {
		t.Fatalf("expected tampering to be detected")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1, _ := DeriveKey([]byte("pw1"), []byte("salt"))
	key2, _ := DeriveKey([]byte("pw2"), []byte("salt"))
	sealed, _ := Seal(key1, []byte("payload"))
	if _, err := Open(key2, sealed); err == nil {
		t.Fatalf("expected wrong key to fail")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Hash([]byte("a transaction"))
	sig, err := Sign(priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub := gethcrypto.FromECDSAPub(&priv.PublicKey)
	if !Verify(pub, digest, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(pub, Hash([]byte("different")), sig) {
		t.Fatalf("expected signature not to verify against a different digest")
	}
}

func TestBlindSignUnblindRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Hash([]byte("token-id-0001"))

	blinded, factor, err := BlindMessage(&priv.PublicKey, digest[:])
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	blindSig, err := BlindSign(priv, blinded)
	if err != nil {
		t.Fatalf("BlindSign: %v", err)
	}

	sig, err := Unblind(&priv.PublicKey, digest[:], blindSig, factor)
	if err != nil {
		t.Fatalf("Unblind: %v", err)
	}

	if err := VerifyBlindSignature(&priv.PublicKey, digest[:], sig); err != nil {
		t.Fatalf("VerifyBlindSignature: %v", err)
	}
}

func TestVerifyBlindSignatureRejectsWrongDigest(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Hash([]byte("token-id-0002"))
	blinded, factor, err := BlindMessage(&priv.PublicKey, digest[:])
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	blindSig, err := BlindSign(priv, blinded)
	if err != nil {
		t.Fatalf("BlindSign: %v", err)
	}
	sig, err := Unblind(&priv.PublicKey, digest[:], blindSig, factor)
	if err != nil {
		t.Fatalf("Unblind: %v", err)
	}

	other := Hash([]byte("a different token id"))
	if err := VerifyBlindSignature(&priv.PublicKey, other[:], sig); !errs.Is(err, errs.BadCrypto) {
		t.Fatalf("expected BadCrypto, got %v", err)
	}
}
