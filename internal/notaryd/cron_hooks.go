package notaryd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/open-transactions/notary/pkg/cron"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
	"github.com/open-transactions/notary/pkg/market"
	"github.com/open-transactions/notary/pkg/plan"
	"github.com/open-transactions/notary/pkg/trade"
)

// tradeHooks implements cron.Hooks for one resting Trade: it activates a
// stop order once triggered, drops final receipts to the originator's
// Nymbox and each closing account's inbox on removal, and unwinds the
// trade's resting offer from its Market. Grounded on the shared-envelope/
// per-kind-Hooks split cron.Scheduler.Tick already assumes; this is simply
// the KindTrade implementation of that contract.
type tradeHooks struct {
	app    *App
	mkt    *market.Market
	t      *trade.Trade
	nym    ids.ID
	logger *zap.SugaredLogger
}

func (h *tradeHooks) ProcessItem(ctx context.Context, item *cron.Item) cron.ProcessResult {
	if h.t.Stop == nil || h.t.Stop.Activated {
		if h.t.IsFullyFilled() {
			return cron.Remove
		}
		return cron.Keep
	}

	var best ids.Amount
	var ok bool
	if h.t.Offer.Side == trade.Ask {
		best, ok = h.mkt.BestBid()
	} else {
		best, ok = h.mkt.BestAsk()
	}
	if !ok || !h.t.StopTriggered(best) {
		return cron.Keep
	}

	h.t.Activate()
	outcome, err := h.mkt.Match(h.t, h.app.accounts)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorw("stop_activation_match_failed", "opening_num", h.t.OpeningNum, "err", err)
		}
		return cron.Keep
	}
	h.app.recordExecutions(ctx, h.mkt, outcome)
	if outcome.Disqualified || (outcome.Unmatched && h.t.Offer.IsMarketOrder()) || h.t.IsFullyFilled() {
		return cron.Remove
	}
	return cron.Keep
}

// OnActivate signs the server-record copy of the accepted trade and files
// it under the opening number, the receipt a later killMarketOffer or
// dispute verifies against.
func (h *tradeHooks) OnActivate(ctx context.Context, item *cron.Item) {
	record := ledger.Transaction{
		Number:        h.t.OpeningNum,
		InReferenceTo: h.t.OpeningNum,
		Origin:        ledger.ItemMarketReceipt,
		Reference:     h.t.Original,
		Items: []ledger.Item{{
			Type:   ledger.ItemMarketReceipt,
			Status: ledger.StatusAck,
			Note:   "trade accepted onto cron",
		}},
	}
	if err := ledger.Sign(&record, h.app.signingKey); err != nil {
		return
	}
	_ = h.app.store.SaveCronReceipt(h.t.OpeningNum, record)
	if h.logger != nil {
		h.logger.Infow("cron_trade_activated", "opening_num", h.t.OpeningNum)
	}
}

// OnFinalReceipt fans the finalReceipt out in fixed order: the
// originator's Nymbox first, referencing the opening number, then each
// closing account's inbox, referencing that account's own closing number.
// The opening number leaves the Nym's Cron set immediately; the closing
// numbers stay staked until the Nym accepts each receipt via processInbox.
func (h *tradeHooks) OnFinalReceipt(ctx context.Context, item *cron.Item) {
	h.fileFinalReceipt(h.nym, h.t.OpeningNum)
	h.fileFinalReceipt(h.t.AssetAcct, h.t.ClosingNums[0])
	h.fileFinalReceipt(h.t.CurrencyAcct, h.t.ClosingNums[1])
	if led, err := h.app.numManager.Ledger(h.nym, h.app.NotaryID); err == nil {
		_ = led.CloseCronItem(h.t.OpeningNum)
	}
}

func (h *tradeHooks) fileFinalReceipt(box ids.ID, ref ids.TxNumber) {
	final := ledger.Transaction{
		Number:        ref,
		InReferenceTo: ref,
		Origin:        ledger.ItemFinalReceipt,
		Items: []ledger.Item{{
			Type:   ledger.ItemFinalReceipt,
			Status: ledger.StatusAck,
			Amount: h.t.TradesAlreadyDone,
			Note:   "trade removed from cron",
		}},
	}
	if err := ledger.Sign(&final, h.app.signingKey); err != nil {
		return
	}
	h.app.appendInbox(box, final)
}

func (h *tradeHooks) OnRemovalFromCron(ctx context.Context, item *cron.Item) {
	h.mkt.CancelOpening(h.t.OpeningNum)
	h.app.persistMarket(h.mkt)
}

// planHooks is the KindPaymentPlan implementation of cron.Hooks: each due
// tick moves one payment from the sender to the recipient and files a
// paymentReceipt into both inboxes; the usual finalReceipt fan-out runs
// when the plan completes, is killed, or expires.
type planHooks struct {
	app    *App
	p      *plan.Plan
	nym    ids.ID
	logger *zap.SugaredLogger
}

func (h *planHooks) ProcessItem(ctx context.Context, item *cron.Item) cron.ProcessResult {
	now := time.Now()

	if !h.p.InitialPaid {
		h.p.InitialPaid = true
		if h.p.InitialAmount > 0 {
			if h.pay(h.p.InitialAmount) {
				h.p.LastPayment = now
			} else {
				h.p.RecordFailure()
			}
		}
		return cron.Keep
	}

	if !h.p.DueNow(now) {
		if h.p.Completed() {
			return cron.Remove
		}
		return cron.Keep
	}

	if h.pay(h.p.PaymentAmount) {
		h.p.RecordPayment(now)
	} else {
		h.p.RecordFailure()
	}
	if h.p.Completed() {
		return cron.Remove
	}
	return cron.Keep
}

// pay moves amt from the sender to the recipient, rolling back the debit
// if the credit fails. A shortfall files a rejection paymentReceipt into
// only the sender's inbox.
func (h *planHooks) pay(amt ids.Amount) bool {
	if err := h.app.accounts.Debit(h.p.SenderAcct, amt); err != nil {
		h.app.filePaymentReceipt(h.p, h.p.SenderAcct, 0, ledger.StatusReject)
		if h.logger != nil {
			h.logger.Infow("plan_payment_rejected", "opening_num", h.p.OpeningNum, "err", err)
		}
		return false
	}
	if err := h.app.accounts.Credit(h.p.RecipientAcct, amt); err != nil {
		_ = h.app.accounts.Credit(h.p.SenderAcct, amt)
		h.app.filePaymentReceipt(h.p, h.p.SenderAcct, 0, ledger.StatusReject)
		return false
	}
	h.app.filePaymentReceipt(h.p, h.p.SenderAcct, -amt, ledger.StatusAck)
	h.app.filePaymentReceipt(h.p, h.p.RecipientAcct, amt, ledger.StatusAck)
	return true
}

// OnActivate mirrors tradeHooks: the server-record copy of the confirmed
// plan is signed and filed under its opening number.
func (h *planHooks) OnActivate(ctx context.Context, item *cron.Item) {
	record := ledger.Transaction{
		Number:        h.p.OpeningNum,
		InReferenceTo: h.p.OpeningNum,
		Origin:        ledger.ItemPaymentReceipt,
		Reference:     h.p.Original,
		Items: []ledger.Item{{
			Type:   ledger.ItemPaymentReceipt,
			Status: ledger.StatusAck,
			Note:   "payment plan accepted onto cron",
		}},
	}
	if err := ledger.Sign(&record, h.app.signingKey); err != nil {
		return
	}
	_ = h.app.store.SaveCronReceipt(h.p.OpeningNum, record)
	if h.logger != nil {
		h.logger.Infow("cron_plan_activated", "opening_num", h.p.OpeningNum)
	}
}

func (h *planHooks) OnFinalReceipt(ctx context.Context, item *cron.Item) {
	h.fileFinalReceipt(h.nym, h.p.OpeningNum)
	h.fileFinalReceipt(h.p.SenderAcct, h.p.ClosingNums[0])
	h.fileFinalReceipt(h.p.RecipientAcct, h.p.ClosingNums[1])
	if led, err := h.app.numManager.Ledger(h.nym, h.app.NotaryID); err == nil {
		_ = led.CloseCronItem(h.p.OpeningNum)
	}
}

func (h *planHooks) fileFinalReceipt(box ids.ID, ref ids.TxNumber) {
	final := ledger.Transaction{
		Number:        ref,
		InReferenceTo: ref,
		Origin:        ledger.ItemFinalReceipt,
		Items: []ledger.Item{{
			Type:   ledger.ItemFinalReceipt,
			Status: ledger.StatusAck,
			Amount: ids.Amount(h.p.PaymentsDone),
			Note:   "payment plan removed from cron",
		}},
	}
	if err := ledger.Sign(&final, h.app.signingKey); err != nil {
		return
	}
	h.app.appendInbox(box, final)
}

func (h *planHooks) OnRemovalFromCron(ctx context.Context, item *cron.Item) {}
