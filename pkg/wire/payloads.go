package wire

import (
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/ledger"
)

// The structs below are the command-specific payload bodies carried in
// Message.Payload for the C9 client state machine's task set. They are
// plain JSON-tagged structs, not protobuf messages, per the backend note
// in SPEC_FULL.md §4.1.

type RegisterNymRequest struct{}

type RegisterNymReply struct {
	RequestNum uint64 `json:"requestNum"`
}

type GetTransactionNumbersRequest struct {
	Count int `json:"count"`
}

type GetTransactionNumbersReply struct {
	Numbers []ids.TxNumber `json:"numbers"`
}

type GetNymboxRequest struct{}

type GetNymboxReply struct {
	Entries []ledger.Transaction `json:"entries"`
}

type ProcessNymboxRequest struct {
	Accepted []ids.TxNumber `json:"accepted"`
}

type RegisterAccountRequest struct {
	UnitID ids.ID `json:"unitId"`
}

type RegisterAccountReply struct {
	AccountID ids.ID `json:"accountId"`
}

// GetAccountDataRequest names either an account (balance + inbox-hash
// query) or a unit (definition lookup); exactly one of the two IDs is set.
type GetAccountDataRequest struct {
	AccountID ids.ID `json:"accountId,omitempty"`
	UnitID    ids.ID `json:"unitId,omitempty"`
}

type GetAccountDataReply struct {
	AccountID  ids.ID     `json:"accountId,omitempty"`
	UnitID     ids.ID     `json:"unitId,omitempty"`
	Balance    ids.Amount `json:"balance"`
	InboxHash  ids.ID     `json:"inboxHash"`
	Definition []byte     `json:"definition,omitempty"`
}

type DepositPaymentRequest struct {
	UnitID    ids.ID `json:"unitId"`
	AccountID ids.ID `json:"accountId"`
	Payment   []byte `json:"payment"`
}

type DepositPaymentReply struct{}

type WithdrawCashRequest struct {
	UnitID    ids.ID     `json:"unitId"`
	AccountID ids.ID     `json:"accountId"`
	Amount    ids.Amount `json:"amount"`
}

type WithdrawCashReply struct {
	Purse []byte `json:"purse"`
}

type DepositCashRequest struct {
	UnitID    ids.ID `json:"unitId"`
	AccountID ids.ID `json:"accountId"`
	Purse     []byte `json:"purse"`
}

type DepositCashReply struct{}

type SendMessageRequest struct {
	RecipientNym ids.ID `json:"recipientNym"`
	Body         []byte `json:"body"`
}

type SendMessageReply struct{}

type SendPaymentRequest struct {
	RecipientNym ids.ID `json:"recipientNym"`
	UnitID       ids.ID `json:"unitId"`
	Payment      []byte `json:"payment"`
}

type SendPaymentReply struct{}

// InstrumentPaymentPlan is the type tag a client-authored payment-plan
// instrument carries; DepositPayment type-checks for it before routing.
const InstrumentPaymentPlan = "paymentPlan"

// PaymentPlanInstrument is the client-authored recurring-payment
// instrument: an optional initial payment, then PaymentAmount every
// IntervalSeconds until MaxPayments have run.
type PaymentPlanInstrument struct {
	Type            string     `json:"type"`
	UnitID          ids.ID     `json:"unitId"`
	SenderAcct      ids.ID     `json:"senderAcct"`
	RecipientAcct   ids.ID     `json:"recipientAcct"`
	InitialAmount   ids.Amount `json:"initialAmount,omitempty"`
	PaymentAmount   ids.Amount `json:"paymentAmount"`
	IntervalSeconds int64      `json:"intervalSeconds"`
	MaxPayments     int        `json:"maxPayments"`
	ValidForSeconds int64      `json:"validForSeconds,omitempty"`
}

type DepositPaymentPlanRequest struct {
	Plan PaymentPlanInstrument `json:"plan"`
}

type DepositPaymentPlanReply struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
}

type KillPaymentPlanRequest struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
}

type KillPaymentPlanReply struct{}

// The structs below round out spec.md §6's remaining command set: market
// offer submission/cancellation/introspection and the Cron-driven smart
// contract commands.

type IssueMarketOfferRequest struct {
	UnitID       ids.ID     `json:"unitId"`
	CurrencyID   ids.ID     `json:"currencyId"`
	Scale        ids.Amount `json:"scale"`
	Side         string     `json:"side"`
	PriceLimit   ids.Amount `json:"priceLimit"`
	TotalAssets  ids.Amount `json:"totalAssets"`
	MinIncrement ids.Amount `json:"minIncrement"`
	AssetAcct    ids.ID     `json:"assetAcct"`
	CurrencyAcct ids.ID     `json:"currencyAcct"`
	StopSign     int8       `json:"stopSign,omitempty"`
	StopPrice    ids.Amount `json:"stopPrice,omitempty"`
	// ValidForSeconds overrides how long the resulting Cron item stays on
	// the book before HookRemoval fires. Zero means the notary's default.
	ValidForSeconds int64 `json:"validForSeconds,omitempty"`
}

type IssueMarketOfferReply struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
}

type KillMarketOfferRequest struct {
	MarketID   ids.ID       `json:"marketId"`
	OpeningNum ids.TxNumber `json:"openingNum"`
}

type KillMarketOfferReply struct{}

type GetMarketListRequest struct{}

type GetMarketListReply struct {
	MarketIDs []ids.ID `json:"marketIds"`
}

type GetMarketOffersRequest struct {
	MarketID ids.ID `json:"marketId"`
}

type MarketOfferSummary struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
	Side       string       `json:"side"`
	Price      ids.Amount   `json:"price"`
	Available  ids.Amount   `json:"available"`
}

type GetMarketOffersReply struct {
	Offers []MarketOfferSummary `json:"offers"`
}

type GetMarketRecentTradesRequest struct {
	MarketID ids.ID `json:"marketId"`
}

type RecentTrade struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
	Price      ids.Amount   `json:"price"`
	AmountSold ids.Amount   `json:"amountSold"`
}

type GetMarketRecentTradesReply struct {
	Trades []RecentTrade `json:"trades"`
}

type ActivateSmartContractRequest struct {
	UnitID  ids.ID `json:"unitId"`
	Clauses []byte `json:"clauses"`
}

type ActivateSmartContractReply struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
}

type TriggerClauseRequest struct {
	OpeningNum ids.TxNumber `json:"openingNum"`
	ClauseName string       `json:"clauseName"`
	Parameter  []byte       `json:"parameter,omitempty"`
}

type TriggerClauseReply struct{}

type GetRequestNumberRequest struct{}

type GetRequestNumberReply struct {
	RequestNum uint64 `json:"requestNum"`
}

type UnregisterNymRequest struct{}

type UnregisterNymReply struct{}

type DeleteAssetAccountRequest struct {
	AccountID ids.ID `json:"accountId"`
}

type DeleteAssetAccountReply struct{}

type ProcessInboxRequest struct {
	AccountID ids.ID         `json:"accountId"`
	Accepted  []ids.TxNumber `json:"accepted"`
}

type ProcessInboxReply struct{}
