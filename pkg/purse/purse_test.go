package purse

import (
	"testing"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
)

// TestPurseFullRoundTrip exercises spec.md §8 scenario 5: a Request purse
// with denominations {10, 20} is signed by the mint (Request → Issue),
// processed by the client (Issue → Normal, all tokens Ready), and every
// token deposits exactly once before the notary's spend set refuses a
// replay with DoubleSpend.
func TestPurseFullRoundTrip(t *testing.T) {
	m, from, to := newTestMint(t, []ids.Amount{10, 20})
	primary := newKey(t, 7)
	secondary := newKey(t, 9)

	req, err := New(m.NotaryID, m.UnitID, TypeRequest)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req.PrimaryKey = primary
	req.SecondaryKey = &secondary

	var blindedByIndex [][]byte
	for _, denom := range []ids.Amount{10, 20} {
		tok, blinded, err := GenerateRequest(m.NotaryID, m.UnitID, 1, denom, from, to, m, primary, secondary)
		if err != nil {
			t.Fatalf("GenerateRequest(%d): %v", denom, err)
		}
		if err := req.Push(tok, primary); err != nil {
			t.Fatalf("Push: %v", err)
		}
		blindedByIndex = append(blindedByIndex, blinded)
	}

	if req.TotalValue != 30 {
		t.Fatalf("expected totalValue 30 after pushing {10,20}, got %d", req.TotalValue)
	}
	if err := req.Verify(m); err != nil {
		t.Fatalf("Verify on Request purse: %v", err)
	}

	// Notary signs: Request → Issue. Tokens are pushed most-recent-first,
	// so Tokens[0] is the 20 and Tokens[1] is the 10.
	issue := &Purse{NotaryID: req.NotaryID, UnitID: req.UnitID, Type: TypeIssue, PrimaryKey: primary, SecondaryKey: &secondary}
	for i, tok := range req.Tokens {
		denom := tok.Denomination
		sig, err := m.Sign(1, denom, blindedByIndex[len(blindedByIndex)-1-i])
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := tok.MarkSigned(sig); err != nil {
			t.Fatalf("MarkSigned: %v", err)
		}
		if err := issue.Push(tok, primary); err != nil {
			t.Fatalf("Push into issue purse: %v", err)
		}
	}
	if err := issue.Verify(m); err != nil {
		t.Fatalf("Verify on Issue purse: %v", err)
	}

	// Client processes: Issue → Normal, all tokens Ready.
	if err := issue.Process(m, secondary); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if issue.Type != TypeNormal {
		t.Fatalf("expected Normal after Process, got %s", issue.Type)
	}
	if issue.SecondaryKey != nil {
		t.Fatalf("expected secondary key cleared after Process")
	}
	for _, tok := range issue.Tokens {
		if tok.State != Ready {
			t.Fatalf("expected every token Ready after Process, got %s", tok.State)
		}
	}

	set := newMemSpendSet()
	for _, tok := range issue.Tokens {
		if err := tok.MarkSpent(primary, set); err != nil {
			t.Fatalf("deposit MarkSpent: %v", err)
		}
	}

	// Re-deposit the same purse: every call must now return DoubleSpend.
	for _, tok := range issue.Tokens {
		replay := *tok
		replay.State = Ready
		if err := replay.MarkSpent(primary, set); !errs.Is(err, errs.DoubleSpend) {
			t.Fatalf("expected DoubleSpend on re-deposit, got %v", err)
		}
	}
}

func TestPushRejectsSpentToken(t *testing.T) {
	p, err := New(ids.Hash([]byte("n")), ids.Hash([]byte("u")), TypeNormal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok := &Token{State: Spent}
	if err := p.Push(tok, p.PrimaryKey); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState pushing a Spent token, got %v", err)
	}
}

func TestPopOnEmptyPurse(t *testing.T) {
	p, err := New(ids.Hash([]byte("n")), ids.Hash([]byte("u")), TypeNormal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Pop(); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState popping an empty purse, got %v", err)
	}
}

func TestAddNymRequiresUnlocked(t *testing.T) {
	p, err := New(ids.Hash([]byte("n")), ids.Hash([]byte("u")), TypeNormal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.unlocked = false
	if err := p.AddNym([]byte("pw")); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestUnlockRoundTrip(t *testing.T) {
	p, err := New(ids.Hash([]byte("n")), ids.Hash([]byte("u")), TypeNormal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.AddNym([]byte("correct horse")); err != nil {
		t.Fatalf("AddNym: %v", err)
	}

	locked := &Purse{PrimarySessionKeys: p.PrimarySessionKeys}
	if err := locked.Unlock([]byte("wrong password")); err == nil {
		t.Fatalf("expected Unlock to fail with wrong password")
	}
	if err := locked.Unlock([]byte("correct horse")); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if locked.PrimaryKey != p.PrimaryKey {
		t.Fatalf("unlocked primary key does not match original")
	}
}

func TestVerifyRejectsStateNotAllowedForType(t *testing.T) {
	m, from, to := newTestMint(t, []ids.Amount{10})
	p, err := New(m.NotaryID, m.UnitID, TypeNormal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Tokens = append(p.Tokens, &Token{
		NotaryID: m.NotaryID, UnitID: m.UnitID, Series: 1,
		Denomination: 10, ValidFrom: from, ValidTo: to, State: Blinded,
	})
	if err := p.Verify(m); !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState for Blinded token in Normal purse, got %v", err)
	}
}
