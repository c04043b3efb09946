package market

import (
	"testing"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/trade"
)

type ledgerMover struct {
	balances map[ids.ID]ids.Amount
}

func newLedgerMover() *ledgerMover {
	return &ledgerMover{balances: map[ids.ID]ids.Amount{}}
}

func (m *ledgerMover) fund(acct ids.ID, amt ids.Amount) {
	m.balances[acct] += amt
}

func (m *ledgerMover) Debit(acct ids.ID, amt ids.Amount) error {
	if m.balances[acct] < amt {
		return errs.New(errs.InsufficientFunds, "short")
	}
	m.balances[acct] -= amt
	return nil
}

func (m *ledgerMover) Credit(acct ids.ID, amt ids.Amount) error {
	m.balances[acct] += amt
	return nil
}

func acct(name string) ids.ID { return ids.HashDomain("account", []byte(name)) }

func makeTrade(opening ids.TxNumber, side trade.Side, price, total, minIncrement, scale ids.Amount, assetAcct, currencyAcct ids.ID) *trade.Trade {
	return &trade.Trade{
		OpeningNum:   opening,
		AssetAcct:    assetAcct,
		CurrencyAcct: currencyAcct,
		Offer: trade.Offer{
			Side:         side,
			PriceLimit:   price,
			TotalAssets:  total,
			MinIncrement: minIncrement,
			Scale:        scale,
		},
	}
}

func TestSingleBidVsAskSufficientFunds(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 10)

	askerAsset := acct("asker-asset")
	askerCurrency := acct("asker-currency")
	bidderAsset := acct("bidder-asset")
	bidderCurrency := acct("bidder-currency")

	mover := newLedgerMover()
	mover.fund(askerAsset, 100)
	mover.fund(bidderCurrency, 10000)

	ask := makeTrade(1, trade.Ask, 1300, 100, 50, 10, askerAsset, askerCurrency)
	bid := makeTrade(2, trade.Bid, 1400, 50, 50, 10, bidderAsset, bidderCurrency)

	m.rest(ask)

	out, err := m.Match(bid, mover)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(out.Executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(out.Executions))
	}
	exec := out.Executions[0]
	if exec.Amount != 50 {
		t.Fatalf("expected assetMoved=50, got %d", exec.Amount)
	}
	wantPrice := ids.Amount(50 / 10 * 1300)
	if exec.Price != wantPrice {
		t.Fatalf("expected price %d, got %d", wantPrice, exec.Price)
	}

	if mover.balances[askerAsset] != 50 {
		t.Fatalf("asker asset balance: got %d, want 50", mover.balances[askerAsset])
	}
	if mover.balances[askerCurrency] != 6500 {
		t.Fatalf("asker currency balance: got %d, want 6500", mover.balances[askerCurrency])
	}
	if mover.balances[bidderAsset] != 50 {
		t.Fatalf("bidder asset balance: got %d, want 50", mover.balances[bidderAsset])
	}
	if mover.balances[bidderCurrency] != 10000-6500 {
		t.Fatalf("bidder currency balance: got %d, want %d", mover.balances[bidderCurrency], 10000-6500)
	}
}

func TestMarketOrderWithEmptyBookDoesNotRest(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 10)

	mover := newLedgerMover()
	bid := makeTrade(1, trade.Bid, 0 /* market order */, 10, 10, 10, acct("a"), acct("c"))

	out, err := m.Match(bid, mover)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(out.Executions) != 0 {
		t.Fatalf("expected zero executions, got %d", len(out.Executions))
	}
	if !out.Unmatched {
		t.Fatalf("expected Unmatched=true for a market order with no counter-offer")
	}
	if out.Rested {
		t.Fatalf("a market order must never rest")
	}
}

func TestSameAccountGuardSkipsPair(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 10)

	shared := acct("shared-asset")
	ask := makeTrade(1, trade.Ask, 1000, 100, 10, 10, shared, acct("ask-currency"))
	bid := makeTrade(2, trade.Bid, 1000, 100, 10, 10, shared, acct("bid-currency"))

	m.rest(ask)

	mover := newLedgerMover()
	out, err := m.Match(bid, mover)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(out.Executions) != 0 {
		t.Fatalf("expected no execution under the same-account guard, got %d", len(out.Executions))
	}
	if !out.Rested {
		t.Fatalf("expected the bid to remain resting")
	}
	if _, ok := m.BestAsk(); !ok {
		t.Fatalf("expected the ask to remain resting")
	}
}

func TestInsufficientFundsDisqualifiesShortSide(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 10)

	askerAsset := acct("asker-asset")
	bidderCurrency := acct("bidder-currency")

	ask := makeTrade(1, trade.Ask, 1000, 100, 10, 10, askerAsset, acct("asker-currency"))
	m.rest(ask)

	mover := newLedgerMover()
	mover.fund(askerAsset, 1000) // asker can cover its leg
	// bidder has no currency funds at all.
	bid := makeTrade(2, trade.Bid, 1000, 50, 10, 10, acct("bidder-asset"), bidderCurrency)

	out, err := m.Match(bid, mover)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(out.Executions) != 0 {
		t.Fatalf("expected no execution when bidder has no funds")
	}
	if len(out.Rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(out.Rejections))
	}
	if out.Rejections[0].Account != bidderCurrency {
		t.Fatalf("expected rejection against bidder's currency account")
	}
}

func TestPartialFundsFillsWholeRoundsThenDisqualifies(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 10)

	askerAsset := acct("asker-asset")
	askerCurrency := acct("asker-currency")
	bidderAsset := acct("bidder-asset")
	bidderCurrency := acct("bidder-currency")

	mover := newLedgerMover()
	mover.fund(askerAsset, 100)
	// Each 10-unit round at price 1000 per scale costs 1000; the bidder
	// can cover five whole rounds but not the 10000 single shot.
	mover.fund(bidderCurrency, 5500)

	ask := makeTrade(1, trade.Ask, 1000, 100, 10, 10, askerAsset, askerCurrency)
	m.rest(ask)
	bid := makeTrade(2, trade.Bid, 1000, 100, 10, 10, bidderAsset, bidderCurrency)

	out, err := m.Match(bid, mover)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(out.Executions) != 1 {
		t.Fatalf("expected 1 partial execution, got %d", len(out.Executions))
	}
	exec := out.Executions[0]
	if exec.Amount != 50 || exec.Price != 5000 {
		t.Fatalf("expected 50 units for 5000 across whole rounds, got %d for %d", exec.Amount, exec.Price)
	}
	if len(out.Rejections) != 1 || out.Rejections[0].Account != bidderCurrency {
		t.Fatalf("expected the bidder's currency account rejected after the partial fill, got %+v", out.Rejections)
	}
	if !out.Disqualified {
		t.Fatalf("expected the short aggressor to be disqualified")
	}
	if out.Rested {
		t.Fatalf("a disqualified aggressor must not rest")
	}

	if mover.balances[askerAsset] != 50 || mover.balances[askerCurrency] != 5000 {
		t.Fatalf("asker balances: got asset %d currency %d, want 50/5000",
			mover.balances[askerAsset], mover.balances[askerCurrency])
	}
	if mover.balances[bidderAsset] != 50 || mover.balances[bidderCurrency] != 500 {
		t.Fatalf("bidder balances: got asset %d currency %d, want 50/500",
			mover.balances[bidderAsset], mover.balances[bidderCurrency])
	}
	if ask.Offer.Available() != 50 {
		t.Fatalf("expected the solvent resting ask to keep its remaining 50, got %d", ask.Offer.Available())
	}
	if _, ok := m.BestAsk(); !ok {
		t.Fatalf("expected the solvent resting ask to stay on the book")
	}
}

func TestRecentTradesJournalBounded(t *testing.T) {
	unit := ids.Hash([]byte("gold"))
	currency := ids.Hash([]byte("usd"))
	m := New(unit, currency, 1)
	m.journalCap = 2

	mover := newLedgerMover()
	askerAsset := acct("asker-asset")
	bidderCurrency := acct("bidder-currency")
	mover.fund(askerAsset, 1000)
	mover.fund(bidderCurrency, 1000)

	for i := 0; i < 3; i++ {
		ask := makeTrade(ids.TxNumber(i*2+1), trade.Ask, 10, 1, 1, 1, askerAsset, acct("asker-currency"))
		m.rest(ask)
		bid := makeTrade(ids.TxNumber(i*2+2), trade.Bid, 10, 1, 1, 1, acct("bidder-asset"), bidderCurrency)
		if _, err := m.Match(bid, mover); err != nil {
			t.Fatalf("Match %d: %v", i, err)
		}
	}

	trades := m.RecentTrades()
	if len(trades) != 2 {
		t.Fatalf("expected journal bounded to 2 entries, got %d", len(trades))
	}
}
