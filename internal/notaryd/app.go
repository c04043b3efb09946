// Package notaryd wires C1-C9 into one dispatchable notary process:
// storage, the transaction-number ledger, accounts, markets, Cron, mints,
// and the wire-command dispatch table pkg/transport's loopback and
// pkg/notaryapi's HTTP surface both call into. Grounded on the teacher's
// pkg/app/perp.App (a struct aggregating mempool/registry/books/
// accountManager behind PushTx/FinalizeBlock), adapted from a block-
// applied transaction model to direct request/reply dispatch since
// spec.md's notary has no consensus layer of its own.
package notaryd

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/open-transactions/notary/internal/config"
	"github.com/open-transactions/notary/pkg/armor"
	"github.com/open-transactions/notary/pkg/cron"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
	"github.com/open-transactions/notary/pkg/market"
	"github.com/open-transactions/notary/pkg/mint"
	"github.com/open-transactions/notary/pkg/numbers"
	"github.com/open-transactions/notary/pkg/plan"
	"github.com/open-transactions/notary/pkg/storage"
	"github.com/open-transactions/notary/pkg/trade"
	"github.com/open-transactions/notary/pkg/wire"
)

// App aggregates every component a running notary needs and exposes
// Dispatch, the single entry point both pkg/transport/loopback and
// pkg/notaryapi call into.
type App struct {
	NotaryID ids.ID

	store      *storage.Store
	numManager *numbers.Manager
	accounts   *accountLedger
	cron       *cron.Scheduler
	logger     *zap.SugaredLogger
	cfg        config.Config

	signingKey []byte
	pubKey     []byte

	mu      sync.Mutex
	markets map[ids.ID]*market.Market
	mints   map[ids.ID]*mint.Mint

	nextRequestNum uint64
}

// New constructs an App backed by store, ticking Cron per cfg.CronInterval,
// and signing receipts/replies with signingKey (an ECDSA secp256k1 key in
// the same raw form pkg/wire and pkg/ledger already use).
func New(notaryID ids.ID, store *storage.Store, cfg config.Config, signingKey []byte, logger *zap.Logger) *App {
	pub, err := gethcrypto.ToECDSA(signingKey)
	var pubKey []byte
	if err == nil {
		pubKey = gethcrypto.FromECDSAPub(&pub.PublicKey)
	}
	var sugared *zap.SugaredLogger
	if logger != nil {
		sugared = logger.Sugar()
	}
	return &App{
		NotaryID:   notaryID,
		store:      store,
		numManager: numbers.NewManager(&storage.NumbersStore{Store: store}),
		accounts:   newAccountLedger(store),
		cron:       cron.NewScheduler(cfg.CronInterval, sugared),
		logger:     sugared,
		cfg:        cfg,
		signingKey: signingKey,
		pubKey:     pubKey,
		markets:    map[ids.ID]*market.Market{},
		mints:      map[ids.ID]*mint.Mint{},
	}
}

// Run starts Cron's dedicated tick goroutine; callers run it with `go`.
func (a *App) Run(ctx context.Context) error {
	return a.cron.Run(ctx)
}

// Dispatch unwraps one armored, signed request frame, routes it by
// command, and returns the armored signed reply frame — the shape
// pkg/transport/loopback.Handler and pkg/notaryapi's HTTP handler share.
func (a *App) Dispatch(ctx context.Context, frame string) (string, error) {
	payload, err := armor.Decode(frame, armor.TypeMessage)
	if err != nil {
		return "", err
	}
	var req wire.Message
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", errs.Wrap(errs.MalformedArmor, "decoding request frame", err)
	}

	reply, handlerErr := a.route(ctx, req)
	if handlerErr != nil {
		kind := errs.InvalidState
		if e, ok := handlerErr.(*errs.Error); ok {
			kind = e.Kind
		}
		reply, _ = wire.Reply(req, false, kind, nil)
	}

	if err := wire.Sign(&reply, a.signingKey); err != nil {
		return "", err
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return "", errs.Wrap(errs.MalformedArmor, "marshaling reply frame", err)
	}
	return armor.Encode(out, armor.TypeMessage, false)
}

func (a *App) route(ctx context.Context, req wire.Message) (wire.Message, error) {
	switch req.Command {
	case wire.CmdRegisterNym:
		return a.handleRegisterNym(ctx, req)
	case wire.CmdUnregisterNym:
		return a.handleUnregisterNym(ctx, req)
	case wire.CmdGetRequestNumber:
		return a.handleGetRequestNumber(ctx, req)
	case wire.CmdGetTransactionNumbers:
		return a.handleGetTransactionNumbers(ctx, req)
	case wire.CmdGetNymbox:
		return a.handleGetNymbox(ctx, req)
	case wire.CmdProcessNymbox:
		return a.handleProcessNymbox(ctx, req)
	case wire.CmdRegisterAccount:
		return a.handleRegisterAccount(ctx, req)
	case wire.CmdDeleteAssetAccount:
		return a.handleDeleteAssetAccount(ctx, req)
	case wire.CmdGetAccountData:
		return a.handleGetAccountData(ctx, req)
	case wire.CmdNotarizeDeposit:
		return a.handleNotarizeDeposit(ctx, req)
	case wire.CmdNotarizeTransfer:
		return a.handleNotarizeTransfer(ctx, req)
	case wire.CmdWithdrawVoucher:
		return a.handleWithdrawVoucher(ctx, req)
	case wire.CmdDepositCheque:
		return a.handleDepositCheque(ctx, req)
	case wire.CmdProcessInbox:
		return a.handleProcessInbox(ctx, req)
	case wire.CmdDepositPaymentPlan:
		return a.handleDepositPaymentPlan(ctx, req)
	case wire.CmdKillPaymentPlan:
		return a.handleKillPaymentPlan(ctx, req)
	case wire.CmdIssueMarketOffer:
		return a.handleIssueMarketOffer(ctx, req)
	case wire.CmdKillMarketOffer:
		return a.handleKillMarketOffer(ctx, req)
	case wire.CmdGetMarketList:
		return a.handleGetMarketList(ctx, req)
	case wire.CmdGetMarketOffers:
		return a.handleGetMarketOffers(ctx, req)
	case wire.CmdGetMarketRecentTrades:
		return a.handleGetMarketRecentTrades(ctx, req)
	case wire.CmdActivateSmartContract:
		return a.handleActivateSmartContract(ctx, req)
	case wire.CmdTriggerClause:
		return a.handleTriggerClause(ctx, req)
	default:
		return wire.Message{}, errs.New(errs.InvalidState, "unrecognized command")
	}
}

// nextOpeningNumber mints a fresh server-side opening number for Cron
// items. A real deployment draws these from the same Available/Issued
// sets as client numbers; this keeps a process-wide monotonic counter
// since nothing here depends on it being client-visible.
var openingCounter uint64
var openingMu sync.Mutex

func nextOpeningNumber() ids.TxNumber {
	openingMu.Lock()
	defer openingMu.Unlock()
	openingCounter++
	return ids.TxNumber(openingCounter)
}

func (a *App) getOrCreateMarket(unit, currency ids.ID, scale ids.Amount) *market.Market {
	id := market.New(unit, currency, scale).ID()

	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.markets[id]; ok {
		return m
	}
	if snap, ok, err := a.store.LoadMarket(id); err == nil && ok {
		a.markets[id] = snap
		return snap
	}
	m := market.New(unit, currency, scale)
	a.markets[id] = m
	return m
}

// persistMarket writes both the market's resting book and its bounded
// recent-trades journal, each under its own key (spec.md §6's
// markets/<id> and markets/recent/<id> layouts).
func (a *App) persistMarket(m *market.Market) {
	_ = a.store.SaveMarket(m.ID(), m)
	_ = a.store.SaveRecentTrades(m.ID(), m.RecentTrades())
}

func (a *App) getOrCreateMint(unit ids.ID) *mint.Mint {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.mints[unit]; ok {
		return m
	}
	m := mint.New(a.NotaryID, unit)
	now := time.Now()
	_ = m.AddSeries(a.cfg.MintSeries, now, now.AddDate(1, 0, 0),
		[]ids.Amount{1, 5, 10, 20, 50, 100, 500, 1000}, 0)
	a.mints[unit] = m
	return m
}

// recordExecutions files four marketReceipts per successful execution —
// one into each involved account's inbox, all sharing a freshly issued
// receipt number, amounts signed by side and leg — plus one rejection
// marketReceipt per short account, and persists the market's new resting
// state.
func (a *App) recordExecutions(ctx context.Context, m *market.Market, outcome *market.Outcome) {
	for _, exec := range outcome.Executions {
		num := nextOpeningNumber()
		filled, paid := exec.Amount, exec.Price
		// Aggressor bidding: gains the asset, pays the currency; the
		// resting side mirrors. Aggressor asking: the inverse.
		aggAsset, aggCur := filled, -paid
		if exec.Aggressor.Offer.Side == trade.Ask {
			aggAsset, aggCur = -filled, paid
		}
		a.fileMarketReceipt(num, exec.Aggressor, exec.Aggressor.AssetAcct, aggAsset)
		a.fileMarketReceipt(num, exec.Aggressor, exec.Aggressor.CurrencyAcct, aggCur)
		a.fileMarketReceipt(num, exec.Resting, exec.Resting.AssetAcct, -aggAsset)
		a.fileMarketReceipt(num, exec.Resting, exec.Resting.CurrencyAcct, -aggCur)
	}
	for _, rej := range outcome.Rejections {
		a.fileRejectionReceipt(rej)
		a.cron.Remove(rej.Trade.OpeningNum)
	}
	a.persistMarket(m)
}

// fileMarketReceipt signs and appends one marketReceipt: the Item carries
// this account's signed amount, the updated Trade as its note, the updated
// Offer as its attachment, and the receipt references its trade's own
// opening number. The Reference field preserves the trade as submitted.
func (a *App) fileMarketReceipt(num ids.TxNumber, t *trade.Trade, acct ids.ID, amt ids.Amount) {
	updatedTrade, err := json.Marshal(t)
	if err != nil {
		return
	}
	updatedOffer, err := json.Marshal(t.Offer)
	if err != nil {
		return
	}
	original := t.Original
	if len(original) == 0 {
		original = updatedTrade
	}
	receipt := ledger.Transaction{
		Number:        num,
		InReferenceTo: t.OpeningNum,
		Origin:        ledger.ItemMarketReceipt,
		Reference:     original,
		Items: []ledger.Item{{
			Type:       ledger.ItemMarketReceipt,
			Status:     ledger.StatusAck,
			Amount:     amt,
			Note:       string(updatedTrade),
			Attachment: updatedOffer,
		}},
	}
	if err := ledger.Sign(&receipt, a.signingKey); err != nil {
		return
	}
	a.appendInbox(acct, receipt)
}

// filePaymentReceipt signs and appends one paymentReceipt for a single
// payment-plan leg; rejected legs land only in the sender's inbox.
func (a *App) filePaymentReceipt(p *plan.Plan, acct ids.ID, amt ids.Amount, status ledger.ItemStatus) {
	updated, err := json.Marshal(p)
	if err != nil {
		return
	}
	receipt := ledger.Transaction{
		Number:        nextOpeningNumber(),
		InReferenceTo: p.OpeningNum,
		Origin:        ledger.ItemPaymentReceipt,
		Reference:     p.Original,
		Items: []ledger.Item{{
			Type:   ledger.ItemPaymentReceipt,
			Status: status,
			Amount: amt,
			Note:   string(updated),
		}},
	}
	if err := ledger.Sign(&receipt, a.signingKey); err != nil {
		return
	}
	a.appendInbox(acct, receipt)
}

// fileRejectionReceipt drops a rejection marketReceipt into only the
// offending trader's short account; the counterparty keeps trading.
func (a *App) fileRejectionReceipt(rej market.Rejection) {
	receipt := ledger.Transaction{
		Number:        nextOpeningNumber(),
		InReferenceTo: rej.Trade.OpeningNum,
		Origin:        ledger.ItemMarketReceipt,
		Items: []ledger.Item{{
			Type:   ledger.ItemMarketReceipt,
			Status: ledger.StatusReject,
			Note:   "insufficient funds during match",
		}},
	}
	if err := ledger.Sign(&receipt, a.signingKey); err != nil {
		return
	}
	a.appendInbox(rej.Account, receipt)
}

// appendInbox chains txn onto acct's inbox and writes the box-receipt
// file alongside it, so the ledger file itself stays small.
func (a *App) appendInbox(acct ids.ID, txn ledger.Transaction) {
	ib, err := a.store.LoadInbox(acct)
	if err != nil {
		return
	}
	if err := ib.Append(txn); err != nil {
		return
	}
	_ = a.store.SaveInbox(ib)
	_ = a.store.SaveReceipt(txn)
}
