package mint

import (
	"math/big"
	"testing"
	"time"

	"github.com/open-transactions/notary/pkg/cryptoengine"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

func TestAddSeriesRejectsDuplicateNumber(t *testing.T) {
	m := New(ids.Hash([]byte("notary")), ids.Hash([]byte("unit")))
	now := time.Now()
	denoms := []ids.Amount{1, 5, 10}
	if err := m.AddSeries(1, now, now.Add(time.Hour), denoms, 1024); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if err := m.AddSeries(1, now, now.Add(time.Hour), denoms, 1024); !errs.Is(err, errs.BadMint) {
		t.Fatalf("expected BadMint for duplicate series, got %v", err)
	}
}

func TestAddSeriesRejectsBadWindow(t *testing.T) {
	m := New(ids.Hash([]byte("notary")), ids.Hash([]byte("unit")))
	now := time.Now()
	if err := m.AddSeries(1, now, now, []ids.Amount{1}, 1024); !errs.Is(err, errs.BadMint) {
		t.Fatalf("expected BadMint for non-positive window, got %v", err)
	}
}

func TestSignRejectsUnknownDenomination(t *testing.T) {
	m := New(ids.Hash([]byte("notary")), ids.Hash([]byte("unit")))
	now := time.Now()
	if err := m.AddSeries(1, now, now.Add(time.Hour), []ids.Amount{5}, 1024); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if _, err := m.Sign(1, 7, []byte("blinded")); !errs.Is(err, errs.BadMint) {
		t.Fatalf("expected BadMint for unknown denomination, got %v", err)
	}
}

func TestSignRejectsExpiredSeries(t *testing.T) {
	m := New(ids.Hash([]byte("notary")), ids.Hash([]byte("unit")))
	past := time.Now().Add(-2 * time.Hour)
	if err := m.AddSeries(1, past, past.Add(time.Hour), []ids.Amount{5}, 1024); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if _, err := m.Sign(1, 5, []byte("blinded")); !errs.Is(err, errs.Expired) {
		t.Fatalf("expected Expired, got %v", err)
	}
}

func TestSignProducesVerifiableBlindSignature(t *testing.T) {
	m := New(ids.Hash([]byte("notary")), ids.Hash([]byte("unit")))
	now := time.Now()
	if err := m.AddSeries(7, now, now.Add(time.Hour), []ids.Amount{100}, 1024); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}

	pub, err := m.PublicKey(7, 100)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	digest := cryptoengine.Hash([]byte("token-0001"))
	blinded, factor, err := cryptoengine.BlindMessage(pub, digest[:])
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	sigBytes, err := m.Sign(7, 100, blinded.Bytes())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sig, err := cryptoengine.Unblind(pub, digest[:], new(big.Int).SetBytes(sigBytes), factor)
	if err != nil {
		t.Fatalf("Unblind: %v", err)
	}
	if err := cryptoengine.VerifyBlindSignature(pub, digest[:], sig); err != nil {
		t.Fatalf("VerifyBlindSignature: %v", err)
	}
}
