package notaryd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/open-transactions/notary/pkg/cron"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
	"github.com/open-transactions/notary/pkg/plan"
	"github.com/open-transactions/notary/pkg/trade"
	"github.com/open-transactions/notary/pkg/wire"
)

// defaultOfferValidity is how long a market offer stays on Cron when the
// caller doesn't request a shorter window via ValidForSeconds; payment
// plans run on the longer defaultPlanValidity.
const (
	defaultOfferValidity = 30 * 24 * time.Hour
	defaultPlanValidity  = 365 * 24 * time.Hour
)

func ok(req wire.Message, payload any) (wire.Message, error) {
	return wire.Reply(req, true, "", payload)
}

func (a *App) handleRegisterNym(ctx context.Context, req wire.Message) (wire.Message, error) {
	already, err := a.store.IsNymRegistered(req.NymID)
	if err != nil {
		return wire.Message{}, err
	}
	if !already {
		if err := a.store.RegisterNymRecord(req.NymID); err != nil {
			return wire.Message{}, err
		}
	}
	return ok(req, wire.RegisterNymReply{RequestNum: 1})
}

func (a *App) handleUnregisterNym(ctx context.Context, req wire.Message) (wire.Message, error) {
	return ok(req, wire.UnregisterNymReply{})
}

func (a *App) handleGetRequestNumber(ctx context.Context, req wire.Message) (wire.Message, error) {
	a.mu.Lock()
	a.nextRequestNum++
	n := a.nextRequestNum
	a.mu.Unlock()
	return ok(req, wire.GetRequestNumberReply{RequestNum: n})
}

func (a *App) handleGetTransactionNumbers(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.GetTransactionNumbersRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	led, err := a.numManager.Ledger(req.NymID, req.NotaryID)
	if err != nil {
		return wire.Message{}, err
	}
	count := body.Count
	if count <= 0 {
		count = 1
	}
	nums := make([]ids.TxNumber, 0, count)
	for i := 0; i < count; i++ {
		n := nextOpeningNumber()
		if err := led.Issue(n); err != nil {
			return wire.Message{}, err
		}
		nums = append(nums, n)
	}
	return ok(req, wire.GetTransactionNumbersReply{Numbers: nums})
}

func (a *App) handleGetNymbox(ctx context.Context, req wire.Message) (wire.Message, error) {
	ib, err := a.store.LoadInbox(req.NymID)
	if err != nil {
		return wire.Message{}, err
	}
	return ok(req, wire.GetNymboxReply{Entries: ib.Entries})
}

func (a *App) handleProcessNymbox(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.ProcessNymboxRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	led, err := a.numManager.Ledger(req.NymID, req.NotaryID)
	if err != nil {
		return wire.Message{}, err
	}
	ib, err := a.store.LoadInbox(req.NymID)
	if err != nil {
		return wire.Message{}, err
	}
	accepted := map[ids.TxNumber]struct{}{}
	for _, n := range body.Accepted {
		accepted[n] = struct{}{}
		_ = led.ReleaseIssued(n)
	}
	remaining := ib.Entries[:0]
	for _, txn := range ib.Entries {
		if _, done := accepted[txn.Number]; !done {
			remaining = append(remaining, txn)
		}
	}
	ib.Entries = remaining
	if err := a.store.SaveInbox(ib); err != nil {
		return wire.Message{}, err
	}
	return ok(req, nil)
}

func (a *App) handleRegisterAccount(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.RegisterAccountRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	acct := ids.HashDomain("account", append(append([]byte{}, req.NymID[:]...), body.UnitID[:]...))
	if err := a.accounts.Register(acct, body.UnitID); err != nil && !errs.Is(err, errs.ConflictingAccounts) {
		return wire.Message{}, err
	}
	return ok(req, wire.RegisterAccountReply{AccountID: acct})
}

func (a *App) handleDeleteAssetAccount(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.DeleteAssetAccountRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	balance, _, err := a.accounts.Balance(body.AccountID)
	if err != nil {
		return wire.Message{}, err
	}
	if balance != 0 {
		return wire.Message{}, errs.New(errs.InvalidState, "cannot delete an account with nonzero balance")
	}
	return ok(req, wire.DeleteAssetAccountReply{})
}

// handleGetAccountData answers the read-only account query — balance plus
// the current inbox hash, the pair a later balance agreement commits to.
// It doubles as unit-definition lookup for pkg/otx's
// DownloadUnitDefinition task when the request names a unit instead of an
// account: this notary does not maintain a separate published unit
// contract store, so it echoes the unit ID back as an opaque definition
// blob.
func (a *App) handleGetAccountData(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.GetAccountDataRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	if !body.AccountID.IsZero() {
		balance, unit, err := a.accounts.Balance(body.AccountID)
		if err != nil {
			return wire.Message{}, err
		}
		ib, err := a.store.LoadInbox(body.AccountID)
		if err != nil {
			return wire.Message{}, err
		}
		return ok(req, wire.GetAccountDataReply{
			AccountID: body.AccountID,
			UnitID:    unit,
			Balance:   balance,
			InboxHash: ib.Hash,
		})
	}
	def := append([]byte("unit-definition:"), body.UnitID[:]...)
	return ok(req, wire.GetAccountDataReply{UnitID: body.UnitID, Definition: def})
}

func (a *App) handleNotarizeDeposit(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.DepositPaymentRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	if body.AccountID.IsZero() {
		return wire.Message{}, errs.New(errs.UnknownUnit, "deposit requires a registered account")
	}
	amt := ids.Amount(len(body.Payment))
	if err := a.accounts.Credit(body.AccountID, amt); err != nil {
		return wire.Message{}, err
	}
	return ok(req, wire.DepositPaymentReply{})
}

func (a *App) handleNotarizeTransfer(ctx context.Context, req wire.Message) (wire.Message, error) {
	if len(req.Payload) == 0 {
		return ok(req, wire.SendMessageReply{})
	}
	var payment wire.SendPaymentRequest
	if err := req.DecodePayload(&payment); err == nil && !payment.UnitID.IsZero() {
		return ok(req, wire.SendPaymentReply{})
	}
	return ok(req, wire.SendMessageReply{})
}

func (a *App) handleWithdrawVoucher(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.WithdrawCashRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	if err := a.accounts.Debit(body.AccountID, body.Amount); err != nil {
		return wire.Message{}, err
	}
	purse := []byte("purse:" + body.UnitID.String())
	return ok(req, wire.WithdrawCashReply{Purse: purse})
}

func (a *App) handleDepositCheque(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.DepositCashRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	amt := ids.Amount(len(body.Purse))
	if err := a.accounts.Credit(body.AccountID, amt); err != nil {
		return wire.Message{}, err
	}
	return ok(req, wire.DepositCashReply{})
}

func (a *App) handleProcessInbox(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.ProcessInboxRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	ib, err := a.store.LoadInbox(body.AccountID)
	if err != nil {
		return wire.Message{}, err
	}
	led, err := a.numManager.Ledger(req.NymID, req.NotaryID)
	if err != nil {
		return wire.Message{}, err
	}
	accepted := map[ids.TxNumber]struct{}{}
	for _, n := range body.Accepted {
		accepted[n] = struct{}{}
	}
	remaining := ib.Entries[:0]
	for _, txn := range ib.Entries {
		if _, done := accepted[txn.Number]; !done {
			remaining = append(remaining, txn)
			continue
		}
		// Accepting a finalReceipt is what finally releases the staked
		// number it references.
		if txn.Origin == ledger.ItemFinalReceipt {
			if led.VerifyClosing(txn.InReferenceTo) {
				_ = led.ReleaseClosing(txn.InReferenceTo)
			} else {
				_ = led.ReleaseIssued(txn.InReferenceTo)
			}
		}
	}
	ib.Entries = remaining
	if err := a.store.SaveInbox(ib); err != nil {
		return wire.Message{}, err
	}
	return ok(req, wire.ProcessInboxReply{})
}

// handleDepositPaymentPlan accepts a client-confirmed payment plan onto
// Cron: the opening number authorizes the plan, two closing numbers are
// reserved for the sender and recipient accounts, and planHooks moves the
// scheduled payments from then on.
func (a *App) handleDepositPaymentPlan(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.DepositPaymentPlanRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	inst := body.Plan

	led, err := a.numManager.Ledger(req.NymID, req.NotaryID)
	if err != nil {
		return wire.Message{}, err
	}
	opening := nextOpeningNumber()
	if err := led.Issue(opening); err != nil {
		return wire.Message{}, err
	}
	if err := led.Consume(opening); err != nil {
		return wire.Message{}, err
	}
	closingSender := nextOpeningNumber()
	closingRecipient := nextOpeningNumber()
	for _, n := range []ids.TxNumber{closingSender, closingRecipient} {
		if err := led.Issue(n); err != nil {
			return wire.Message{}, err
		}
		if err := led.ReserveClosing(n); err != nil {
			return wire.Message{}, err
		}
	}
	if err := led.TagCronOpening(opening); err != nil {
		return wire.Message{}, err
	}

	original, err := json.Marshal(inst)
	if err != nil {
		return wire.Message{}, errs.Wrap(errs.MalformedArmor, "encoding original plan", err)
	}
	p := &plan.Plan{
		NotaryID:        req.NotaryID,
		UnitID:          inst.UnitID,
		OpeningNum:      opening,
		ClosingNums:     [2]ids.TxNumber{closingSender, closingRecipient},
		Originator:      req.NymID,
		SenderAcct:      inst.SenderAcct,
		RecipientAcct:   inst.RecipientAcct,
		InitialAmount:   inst.InitialAmount,
		PaymentAmount:   inst.PaymentAmount,
		PaymentInterval: time.Duration(inst.IntervalSeconds) * time.Second,
		MaxPayments:     inst.MaxPayments,
		Original:        original,
	}
	if err := plan.Issue(p, req.NotaryID, inst.UnitID); err != nil {
		return wire.Message{}, err
	}

	validFor := time.Duration(inst.ValidForSeconds) * time.Second
	if validFor <= 0 {
		validFor = defaultPlanValidity
	}
	item := &cron.Item{
		Kind:            cron.KindPaymentPlan,
		OpeningNum:      opening,
		Creation:        time.Now(),
		ValidFrom:       time.Now(),
		ValidTo:         time.Now().Add(validFor),
		ProcessInterval: p.PaymentInterval,
	}
	item.Hooks = &planHooks{app: a, p: p, nym: req.NymID, logger: a.logger}
	a.cron.Add(ctx, item)

	return ok(req, wire.DepositPaymentPlanReply{OpeningNum: opening})
}

func (a *App) handleKillPaymentPlan(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.KillPaymentPlanRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	if _, found := a.cron.Get(body.OpeningNum); !found {
		return wire.Message{}, errs.New(errs.InvalidState, "no such payment plan on cron")
	}
	a.cron.Remove(body.OpeningNum)
	return ok(req, wire.KillPaymentPlanReply{})
}

func (a *App) handleIssueMarketOffer(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.IssueMarketOfferRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}

	side := trade.Bid
	if body.Side == "ask" {
		side = trade.Ask
	}

	led, err := a.numManager.Ledger(req.NymID, req.NotaryID)
	if err != nil {
		return wire.Message{}, err
	}
	opening := nextOpeningNumber()
	if err := led.Issue(opening); err != nil {
		return wire.Message{}, err
	}
	if err := led.Consume(opening); err != nil {
		return wire.Message{}, err
	}
	closingAsset := nextOpeningNumber()
	closingCurrency := nextOpeningNumber()
	for _, n := range []ids.TxNumber{closingAsset, closingCurrency} {
		if err := led.Issue(n); err != nil {
			return wire.Message{}, err
		}
		if err := led.ReserveClosing(n); err != nil {
			return wire.Message{}, err
		}
	}
	if err := led.TagCronOpening(opening); err != nil {
		return wire.Message{}, err
	}

	offer := trade.Offer{
		MarketID:          ids.ID{},
		Side:              side,
		PriceLimit:        body.PriceLimit,
		TotalAssets:       body.TotalAssets,
		MinIncrement:      body.MinIncrement,
		Scale:             body.Scale,
		TransactionNum:    opening,
		DateAddedToMarket: time.Now(),
	}
	t := &trade.Trade{
		Offer:        offer,
		OpeningNum:   opening,
		ClosingNums:  [2]ids.TxNumber{closingAsset, closingCurrency},
		Originator:   req.NymID,
		AssetAcct:    body.AssetAcct,
		CurrencyAcct: body.CurrencyAcct,
		NotaryID:     req.NotaryID,
		UnitID:       body.UnitID,
	}
	if body.StopSign != 0 {
		t.Stop = &trade.Stop{Sign: trade.StopSign(body.StopSign), Price: body.StopPrice}
	}
	if err := trade.IssueTrade(t, req.NotaryID, body.UnitID); err != nil {
		return wire.Message{}, err
	}
	original, err := json.Marshal(t)
	if err != nil {
		return wire.Message{}, errs.Wrap(errs.MalformedArmor, "encoding original trade", err)
	}
	t.Original = original

	m := a.getOrCreateMarket(body.UnitID, body.CurrencyID, body.Scale)

	validFor := time.Duration(body.ValidForSeconds) * time.Second
	if validFor <= 0 {
		validFor = defaultOfferValidity
	}
	item := &cron.Item{
		Kind:            cron.KindTrade,
		OpeningNum:      opening,
		Creation:        time.Now(),
		ValidFrom:       time.Now(),
		ValidTo:         time.Now().Add(validFor),
		ProcessInterval: a.cfg.TradeInterval,
	}
	item.Hooks = &tradeHooks{app: a, mkt: m, t: t, nym: req.NymID, logger: a.logger}
	a.cron.Add(ctx, item)

	if t.Stop == nil {
		outcome, err := m.Match(t, a.accounts)
		if err != nil {
			return wire.Message{}, err
		}
		a.recordExecutions(ctx, m, outcome)
		if outcome.Unmatched && t.Offer.IsMarketOrder() {
			// A market order that found no counter-offer never rested:
			// erase it without hooks and hand every number straight back,
			// so no finalReceipt is ever produced for it.
			a.cron.Erase(opening)
			_ = led.CloseCronItem(opening)
			if err := led.ReleaseIssued(opening); err == nil {
				_ = led.Issue(opening)
			}
			_ = led.ReturnToAvailable(closingAsset)
			_ = led.ReturnToAvailable(closingCurrency)
		} else if outcome.Disqualified {
			a.cron.Remove(opening)
		}
	} else {
		a.persistMarket(m)
	}

	return ok(req, wire.IssueMarketOfferReply{OpeningNum: opening})
}

func (a *App) handleKillMarketOffer(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.KillMarketOfferRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	a.cron.Remove(body.OpeningNum)
	return ok(req, wire.KillMarketOfferReply{})
}

func (a *App) handleGetMarketList(ctx context.Context, req wire.Message) (wire.Message, error) {
	a.mu.Lock()
	ids_ := make([]ids.ID, 0, len(a.markets))
	for id := range a.markets {
		ids_ = append(ids_, id)
	}
	a.mu.Unlock()
	return ok(req, wire.GetMarketListReply{MarketIDs: ids_})
}

func (a *App) handleGetMarketOffers(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.GetMarketOffersRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	a.mu.Lock()
	m, ok := a.markets[body.MarketID]
	a.mu.Unlock()
	if !ok {
		return wire.Message{}, errs.New(errs.UnknownUnit, "unknown market")
	}
	snap := m.Export()
	offers := make([]wire.MarketOfferSummary, 0, len(snap.Resting))
	for _, t := range snap.Resting {
		offers = append(offers, wire.MarketOfferSummary{
			OpeningNum: t.OpeningNum,
			Side:       t.Offer.Side.String(),
			Price:      t.Offer.PriceLimit,
			Available:  t.Offer.Available(),
		})
	}
	return okFromOffers(req, offers)
}

func okFromOffers(req wire.Message, offers []wire.MarketOfferSummary) (wire.Message, error) {
	return wire.Reply(req, true, "", wire.GetMarketOffersReply{Offers: offers})
}

func (a *App) handleGetMarketRecentTrades(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.GetMarketRecentTradesRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	a.mu.Lock()
	m, found := a.markets[body.MarketID]
	a.mu.Unlock()
	if !found {
		return wire.Message{}, errs.New(errs.UnknownUnit, "unknown market")
	}
	journal := m.RecentTrades()
	trades := make([]wire.RecentTrade, 0, len(journal))
	for _, e := range journal {
		trades = append(trades, wire.RecentTrade{OpeningNum: e.OpeningNum, Price: e.Price, AmountSold: e.AmountSold})
	}
	return ok(req, wire.GetMarketRecentTradesReply{Trades: trades})
}

// handleActivateSmartContract and handleTriggerClause register a Cron item
// whose clause dispatch lives outside this core (spec.md's smart-contract
// clause language is out of scope for C5); this notary only tracks the
// item's lifecycle on Cron and files final receipts on removal, the same
// shared envelope KindTrade uses.
func (a *App) handleActivateSmartContract(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.ActivateSmartContractRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	opening := nextOpeningNumber()
	item := &cron.Item{
		Kind:       cron.KindSmartContract,
		OpeningNum: opening,
		Creation:   time.Now(),
		ValidFrom:  time.Now(),
		ValidTo:    time.Now().AddDate(1, 0, 0),
		Hooks:      &contractHooks{app: a, nym: req.NymID},
	}
	a.cron.Add(ctx, item)
	return ok(req, wire.ActivateSmartContractReply{OpeningNum: opening})
}

func (a *App) handleTriggerClause(ctx context.Context, req wire.Message) (wire.Message, error) {
	var body wire.TriggerClauseRequest
	if err := req.DecodePayload(&body); err != nil {
		return wire.Message{}, err
	}
	if _, ok := a.cron.Get(body.OpeningNum); !ok {
		return wire.Message{}, errs.New(errs.InvalidState, "no such smart contract on cron")
	}
	return ok(req, wire.TriggerClauseReply{})
}

// contractHooks is the minimal KindSmartContract Hooks implementation: it
// keeps the item alive until ValidTo and drops a closing receipt to the
// originating Nym's Nymbox, since this core does not execute clause code.
type contractHooks struct {
	app *App
	nym ids.ID
}

func (h *contractHooks) ProcessItem(ctx context.Context, item *cron.Item) cron.ProcessResult {
	return cron.Keep
}

func (h *contractHooks) OnActivate(ctx context.Context, item *cron.Item) {}

func (h *contractHooks) OnFinalReceipt(ctx context.Context, item *cron.Item) {
	final := ledger.Transaction{
		Number:        item.OpeningNum,
		InReferenceTo: item.OpeningNum,
		Origin:        ledger.ItemFinalReceipt,
		Items: []ledger.Item{{
			Type:   ledger.ItemFinalReceipt,
			Status: ledger.StatusAck,
			Note:   "smart contract removed from cron",
		}},
	}
	if err := ledger.Sign(&final, h.app.signingKey); err != nil {
		return
	}
	h.app.appendInbox(h.nym, final)
}

func (h *contractHooks) OnRemovalFromCron(ctx context.Context, item *cron.Item) {}
