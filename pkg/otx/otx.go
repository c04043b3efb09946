// Package otx implements the per-(LocalNym, Notary) client task
// orchestrator (C9): registration, Nymbox download, transaction-number
// refill, payment deposit with auto-account-registration, unit-definition
// caching, and cash-purse flows, all driven cooperatively on one goroutine
// per Context. Grounded on the teacher's mempool.Mempool (a single mutex-
// guarded FIFO drained by one consumer) for the task queue shape, and the
// teacher's pkg/api websocket Hub (register/unregister/broadcast over a
// channel) for the push-subscription mechanism.
package otx

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/open-transactions/notary/pkg/armor"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/numbers"
	"github.com/open-transactions/notary/pkg/transport"
	"github.com/open-transactions/notary/pkg/wire"
)

// State is this context's position in the NeedServerContract →
// NeedRegistration → Ready lifecycle.
type State int

const (
	NeedServerContract State = iota
	NeedRegistration
	Ready
)

func (s State) String() string {
	switch s {
	case NeedServerContract:
		return "NeedServerContract"
	case NeedRegistration:
		return "NeedRegistration"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Kind identifies one of the task types spec.md §4.8 lists.
type Kind string

const (
	KindRegisterNym            Kind = "RegisterNym"
	KindDownloadNymbox         Kind = "DownloadNymbox"
	KindGetTransactionNumbers  Kind = "GetTransactionNumbers"
	KindDepositPayment         Kind = "DepositPayment"
	KindRegisterAccount        Kind = "RegisterAccount"
	KindDownloadUnitDefinition Kind = "DownloadUnitDefinition"
	KindSendMessage            Kind = "SendMessage"
	KindSendPayment            Kind = "SendPayment"
	KindWithdrawCash           Kind = "WithdrawCash"
	KindPayCash                Kind = "PayCash"
	KindDepositCash            Kind = "DepositCash"
)

// lowWaterMark is the Available-set size below which DepositPayment and
// friends trigger a GetTransactionNumbers task before proceeding.
const lowWaterMark = 3

// Result is what a Future resolves to.
type Result struct {
	Kind    Kind
	Reply   wire.Message
	Err     error
	Discard bool // not set by this package; always false
}

// Future is the handle a caller holds for one enqueued Task. The consumer
// dropping a Future (never calling Wait) is the cooperative cancellation
// model spec.md §4.8 describes: the task still runs to completion and its
// result is simply discarded.
type Future struct {
	done chan Result
}

// Wait blocks for the task's result or ctx's cancellation.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// task is one queued unit of work.
type task struct {
	id     uint64
	kind   Kind
	params any
	done   chan Result
}

// Context is one state machine instance for a (LocalNym, Notary) pair.
type Context struct {
	LocalNym ids.ID
	NotaryID ids.ID
	Endpoint string

	Transport  transport.Transport
	SigningKey []byte

	mu         sync.Mutex
	state      State
	requestNum uint64
	nextTaskID uint64

	numbers *numbers.Ledger

	unitDefs       map[ids.ID][]byte
	accountsByUnit map[ids.ID]ids.ID

	queue chan *task

	pushUnsub func()
	pushSeen  uint64
}

// NewContext constructs a Context in NeedServerContract, with an
// in-memory transaction-number ledger (the client's own view of its
// Available/Issued/Closing sets, symmetric with the notary's pkg/numbers).
func NewContext(localNym, notaryID ids.ID, endpoint string, tr transport.Transport, signingKey []byte, numLedger *numbers.Ledger) *Context {
	return &Context{
		LocalNym:       localNym,
		NotaryID:       notaryID,
		Endpoint:       endpoint,
		Transport:      tr,
		SigningKey:     signingKey,
		state:          NeedServerContract,
		numbers:        numLedger,
		unitDefs:       map[ids.ID][]byte{},
		accountsByUnit: map[ids.ID]ids.ID{},
		queue:          make(chan *task, 64),
	}
}

// State reports the context's current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// enqueue appends a task to the cooperative queue and returns its Future.
func (c *Context) enqueue(kind Kind, params any) *Future {
	c.mu.Lock()
	id := c.nextTaskID
	c.nextTaskID++
	c.mu.Unlock()

	t := &task{id: id, kind: kind, params: params, done: make(chan Result, 1)}
	c.queue <- t
	return &Future{done: t.done}
}

// Enqueue* constructors: one per task kind named in spec.md §4.8.

func (c *Context) EnqueueRegisterNym() *Future { return c.enqueue(KindRegisterNym, nil) }

func (c *Context) EnqueueDownloadNymbox() *Future { return c.enqueue(KindDownloadNymbox, nil) }

func (c *Context) EnqueueGetTransactionNumbers(count int) *Future {
	return c.enqueue(KindGetTransactionNumbers, count)
}

// DepositPaymentParams carries a payment's unit and an optional account
// (empty ID resolves by unit via account lookup, registering a new
// account if none exists — spec.md §4.8).
type DepositPaymentParams struct {
	UnitID  ids.ID
	Account ids.ID
	Payment []byte
}

func (c *Context) EnqueueDepositPayment(p DepositPaymentParams) *Future {
	return c.enqueue(KindDepositPayment, p)
}

func (c *Context) EnqueueRegisterAccount(unit ids.ID) *Future {
	return c.enqueue(KindRegisterAccount, unit)
}

func (c *Context) EnqueueDownloadUnitDefinition(unit ids.ID) *Future {
	return c.enqueue(KindDownloadUnitDefinition, unit)
}

type SendMessageParams struct {
	Recipient ids.ID
	Body      []byte
}

func (c *Context) EnqueueSendMessage(p SendMessageParams) *Future {
	return c.enqueue(KindSendMessage, p)
}

type SendPaymentParams struct {
	Recipient ids.ID
	UnitID    ids.ID
	Payment   []byte
}

func (c *Context) EnqueueSendPayment(p SendPaymentParams) *Future {
	return c.enqueue(KindSendPayment, p)
}

type WithdrawCashParams struct {
	UnitID  ids.ID
	Account ids.ID
	Amount  ids.Amount
}

func (c *Context) EnqueueWithdrawCash(p WithdrawCashParams) *Future {
	return c.enqueue(KindWithdrawCash, p)
}

type DepositCashParams struct {
	UnitID  ids.ID
	Account ids.ID
	Purse   []byte
}

func (c *Context) EnqueueDepositCash(p DepositCashParams) *Future {
	return c.enqueue(KindDepositCash, p)
}

// PayCashParams withdraws Amount from Account as a fresh purse and hands it
// directly to Recipient, the cash-instrument counterpart of SendPayment.
type PayCashParams struct {
	Recipient ids.ID
	UnitID    ids.ID
	Account   ids.ID
	Amount    ids.Amount
}

func (c *Context) EnqueuePayCash(p PayCashParams) *Future {
	return c.enqueue(KindPayCash, p)
}

// Run drains the task queue on the calling goroutine until ctx is
// canceled: one task at a time, to completion, the cooperative,
// single-thread-per-context scheduling spec.md §4.8 specifies.
func (c *Context) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-c.queue:
			result := c.process(ctx, t)
			t.done <- result
			close(t.done)
		}
	}
}

// process dispatches one task by kind. A task that depends on a
// precondition not yet met enqueues the dependent work and runs it
// inline — since scheduling is already cooperative and single-threaded,
// "resuming the originating task after dependents succeed" (spec.md
// §4.8) is simply calling the dependent's handler directly before
// continuing, rather than round-tripping through the channel.
func (c *Context) process(ctx context.Context, t *task) Result {
	switch t.kind {
	case KindRegisterNym:
		return c.doRegisterNym(ctx)
	case KindDownloadNymbox:
		return c.doDownloadNymbox(ctx)
	case KindGetTransactionNumbers:
		count, _ := t.params.(int)
		return c.doGetTransactionNumbers(ctx, count)
	case KindDepositPayment:
		p, _ := t.params.(DepositPaymentParams)
		return c.doDepositPayment(ctx, p)
	case KindRegisterAccount:
		unit, _ := t.params.(ids.ID)
		return c.doRegisterAccount(ctx, unit)
	case KindDownloadUnitDefinition:
		unit, _ := t.params.(ids.ID)
		return c.doDownloadUnitDefinition(ctx, unit)
	case KindSendMessage:
		p, _ := t.params.(SendMessageParams)
		return c.doSendMessage(ctx, p)
	case KindSendPayment:
		p, _ := t.params.(SendPaymentParams)
		return c.doSendPayment(ctx, p)
	case KindWithdrawCash:
		p, _ := t.params.(WithdrawCashParams)
		return c.doWithdrawCash(ctx, p)
	case KindDepositCash:
		p, _ := t.params.(DepositCashParams)
		return c.doDepositCash(ctx, p)
	case KindPayCash:
		p, _ := t.params.(PayCashParams)
		return c.doPayCash(ctx, p)
	default:
		return Result{Kind: t.kind, Err: errs.New(errs.InvalidState, "unknown task kind")}
	}
}

func (c *Context) doRegisterNym(ctx context.Context) Result {
	req := wire.Message{Command: wire.CmdRegisterNym, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.RegisterNymRequest{}); err != nil {
		return Result{Kind: KindRegisterNym, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindRegisterNym, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindRegisterNym, Reply: reply, Err: errs.New(reply.ErrorKind, "registerNym rejected")}
	}
	var body wire.RegisterNymReply
	if err := reply.DecodePayload(&body); err != nil {
		return Result{Kind: KindRegisterNym, Err: err}
	}

	c.mu.Lock()
	c.requestNum = body.RequestNum
	c.state = NeedRegistration
	c.mu.Unlock()
	c.subscribePush(ctx)

	c.mu.Lock()
	c.state = Ready
	c.mu.Unlock()

	return Result{Kind: KindRegisterNym, Reply: reply}
}

// requireReady returns InvalidState unless the context has completed
// registration, the precondition every task past RegisterNym carries.
func (c *Context) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Ready {
		return errs.New(errs.InvalidState, "context is not Ready: call RegisterNym first")
	}
	return nil
}

func (c *Context) doDownloadNymbox(ctx context.Context) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindDownloadNymbox, Err: err}
	}
	req := wire.Message{Command: wire.CmdGetNymbox, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.GetNymboxRequest{}); err != nil {
		return Result{Kind: KindDownloadNymbox, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindDownloadNymbox, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindDownloadNymbox, Reply: reply, Err: errs.New(reply.ErrorKind, "getNymbox rejected")}
	}
	return Result{Kind: KindDownloadNymbox, Reply: reply}
}

func (c *Context) doGetTransactionNumbers(ctx context.Context, count int) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindGetTransactionNumbers, Err: err}
	}
	if count <= 0 {
		count = lowWaterMark
	}
	req := wire.Message{Command: wire.CmdGetTransactionNumbers, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.GetTransactionNumbersRequest{Count: count}); err != nil {
		return Result{Kind: KindGetTransactionNumbers, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindGetTransactionNumbers, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindGetTransactionNumbers, Reply: reply, Err: errs.New(reply.ErrorKind, "getTransactionNumbers rejected")}
	}
	var body wire.GetTransactionNumbersReply
	if err := reply.DecodePayload(&body); err != nil {
		return Result{Kind: KindGetTransactionNumbers, Err: err}
	}
	if c.numbers != nil {
		for _, n := range body.Numbers {
			if err := c.numbers.Issue(n); err != nil {
				return Result{Kind: KindGetTransactionNumbers, Err: err}
			}
		}
	}
	return Result{Kind: KindGetTransactionNumbers, Reply: reply}
}

// maybeRefillNumbers enqueues-and-runs-inline a GetTransactionNumbers
// task when the local Available set has fallen below lowWaterMark.
func (c *Context) maybeRefillNumbers(ctx context.Context) error {
	if c.numbers == nil {
		return nil
	}
	if len(c.numbers.Snapshot().Available) >= lowWaterMark {
		return nil
	}
	res := c.doGetTransactionNumbers(ctx, lowWaterMark*2)
	return res.Err
}

func (c *Context) doDepositPayment(ctx context.Context, p DepositPaymentParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindDepositPayment, Err: err}
	}
	if err := c.maybeRefillNumbers(ctx); err != nil {
		return Result{Kind: KindDepositPayment, Err: err}
	}

	acct := p.Account
	if acct.IsZero() {
		c.mu.Lock()
		known, ok := c.accountsByUnit[p.UnitID]
		c.mu.Unlock()
		if ok {
			acct = known
		} else {
			regResult := c.doRegisterAccount(ctx, p.UnitID)
			if regResult.Err != nil {
				return Result{Kind: KindDepositPayment, Err: regResult.Err}
			}
			var body wire.RegisterAccountReply
			if err := regResult.Reply.DecodePayload(&body); err != nil {
				return Result{Kind: KindDepositPayment, Err: err}
			}
			acct = body.AccountID
		}
	}

	// Type-check the instrument: a payment-plan deposit routes to
	// depositPaymentPlan, anything else to notarizeDeposit.
	var inst wire.PaymentPlanInstrument
	if err := json.Unmarshal(p.Payment, &inst); err == nil && inst.Type == wire.InstrumentPaymentPlan {
		if inst.SenderAcct.IsZero() {
			inst.SenderAcct = acct
		}
		req := wire.Message{Command: wire.CmdDepositPaymentPlan, NymID: c.LocalNym, NotaryID: c.NotaryID}
		if err := req.EncodePayload(wire.DepositPaymentPlanRequest{Plan: inst}); err != nil {
			return Result{Kind: KindDepositPayment, Err: err}
		}
		reply, err := c.sendSigned(ctx, req)
		if err != nil {
			return Result{Kind: KindDepositPayment, Err: err}
		}
		return Result{Kind: KindDepositPayment, Reply: reply, Err: rejectErr(reply, "depositPaymentPlan")}
	}

	req := wire.Message{Command: wire.CmdNotarizeDeposit, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.DepositPaymentRequest{UnitID: p.UnitID, AccountID: acct, Payment: p.Payment}); err != nil {
		return Result{Kind: KindDepositPayment, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindDepositPayment, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindDepositPayment, Reply: reply, Err: errs.New(reply.ErrorKind, "notarizeDeposit rejected")}
	}
	return Result{Kind: KindDepositPayment, Reply: reply}
}

func (c *Context) doRegisterAccount(ctx context.Context, unit ids.ID) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindRegisterAccount, Err: err}
	}
	req := wire.Message{Command: wire.CmdRegisterAccount, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.RegisterAccountRequest{UnitID: unit}); err != nil {
		return Result{Kind: KindRegisterAccount, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindRegisterAccount, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindRegisterAccount, Reply: reply, Err: errs.New(reply.ErrorKind, "registerAccount rejected")}
	}
	var body wire.RegisterAccountReply
	if err := reply.DecodePayload(&body); err != nil {
		return Result{Kind: KindRegisterAccount, Err: err}
	}
	c.mu.Lock()
	c.accountsByUnit[unit] = body.AccountID
	c.mu.Unlock()
	return Result{Kind: KindRegisterAccount, Reply: reply}
}

func (c *Context) doDownloadUnitDefinition(ctx context.Context, unit ids.ID) Result {
	c.mu.Lock()
	if _, ok := c.unitDefs[unit]; ok {
		c.mu.Unlock()
		return Result{Kind: KindDownloadUnitDefinition}
	}
	c.mu.Unlock()

	req := wire.Message{Command: wire.CmdGetAccountData, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.GetAccountDataRequest{UnitID: unit}); err != nil {
		return Result{Kind: KindDownloadUnitDefinition, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindDownloadUnitDefinition, Err: err}
	}
	if !reply.Success {
		return Result{Kind: KindDownloadUnitDefinition, Reply: reply, Err: errs.New(reply.ErrorKind, "downloadUnitDefinition rejected")}
	}
	var body wire.GetAccountDataReply
	if err := reply.DecodePayload(&body); err != nil {
		return Result{Kind: KindDownloadUnitDefinition, Err: err}
	}
	c.mu.Lock()
	c.unitDefs[unit] = body.Definition
	c.mu.Unlock()
	return Result{Kind: KindDownloadUnitDefinition, Reply: reply}
}

func (c *Context) doSendMessage(ctx context.Context, p SendMessageParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindSendMessage, Err: err}
	}
	req := wire.Message{Command: wire.CmdNotarizeTransfer, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.SendMessageRequest{RecipientNym: p.Recipient, Body: p.Body}); err != nil {
		return Result{Kind: KindSendMessage, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindSendMessage, Err: err}
	}
	return Result{Kind: KindSendMessage, Reply: reply, Err: rejectErr(reply, "sendMessage")}
}

func (c *Context) doSendPayment(ctx context.Context, p SendPaymentParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindSendPayment, Err: err}
	}
	req := wire.Message{Command: wire.CmdNotarizeTransfer, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.SendPaymentRequest{RecipientNym: p.Recipient, UnitID: p.UnitID, Payment: p.Payment}); err != nil {
		return Result{Kind: KindSendPayment, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindSendPayment, Err: err}
	}
	return Result{Kind: KindSendPayment, Reply: reply, Err: rejectErr(reply, "sendPayment")}
}

func (c *Context) doWithdrawCash(ctx context.Context, p WithdrawCashParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindWithdrawCash, Err: err}
	}
	req := wire.Message{Command: wire.CmdWithdrawVoucher, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.WithdrawCashRequest{UnitID: p.UnitID, AccountID: p.Account, Amount: p.Amount}); err != nil {
		return Result{Kind: KindWithdrawCash, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindWithdrawCash, Err: err}
	}
	return Result{Kind: KindWithdrawCash, Reply: reply, Err: rejectErr(reply, "withdrawCash")}
}

func (c *Context) doDepositCash(ctx context.Context, p DepositCashParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindDepositCash, Err: err}
	}
	req := wire.Message{Command: wire.CmdDepositCheque, NymID: c.LocalNym, NotaryID: c.NotaryID}
	if err := req.EncodePayload(wire.DepositCashRequest{UnitID: p.UnitID, AccountID: p.Account, Purse: p.Purse}); err != nil {
		return Result{Kind: KindDepositCash, Err: err}
	}
	reply, err := c.sendSigned(ctx, req)
	if err != nil {
		return Result{Kind: KindDepositCash, Err: err}
	}
	return Result{Kind: KindDepositCash, Reply: reply, Err: rejectErr(reply, "depositCash")}
}

// doPayCash withdraws a fresh purse for Amount and forwards it to Recipient
// in one task, since the wire protocol has no combined opcode for it.
func (c *Context) doPayCash(ctx context.Context, p PayCashParams) Result {
	if err := c.requireReady(); err != nil {
		return Result{Kind: KindPayCash, Err: err}
	}
	wRes := c.doWithdrawCash(ctx, WithdrawCashParams{UnitID: p.UnitID, Account: p.Account, Amount: p.Amount})
	if wRes.Err != nil {
		return Result{Kind: KindPayCash, Err: wRes.Err}
	}
	var withdrawBody wire.WithdrawCashReply
	if err := wRes.Reply.DecodePayload(&withdrawBody); err != nil {
		return Result{Kind: KindPayCash, Err: err}
	}
	sendRes := c.doSendPayment(ctx, SendPaymentParams{Recipient: p.Recipient, UnitID: p.UnitID, Payment: withdrawBody.Purse})
	return Result{Kind: KindPayCash, Reply: sendRes.Reply, Err: sendRes.Err}
}

func rejectErr(reply wire.Message, what string) error {
	if reply.Success {
		return nil
	}
	return errs.New(reply.ErrorKind, what+" rejected")
}

// sendSigned assigns the next request number, signs req, armors it, sends
// it over c.Transport, and unwraps the armored reply envelope.
func (c *Context) sendSigned(ctx context.Context, req wire.Message) (wire.Message, error) {
	c.mu.Lock()
	c.requestNum++
	req.RequestNum = c.requestNum
	c.mu.Unlock()

	if err := wire.Sign(&req, c.SigningKey); err != nil {
		return wire.Message{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return wire.Message{}, errs.Wrap(errs.MalformedArmor, "marshaling request frame", err)
	}
	frame, err := armor.Encode(payload, armor.TypeMessage, false)
	if err != nil {
		return wire.Message{}, err
	}

	replyFrame, err := c.Transport.Send(ctx, c.Endpoint, frame)
	if err != nil {
		return wire.Message{}, errs.Wrap(errs.UnknownNotary, "sending request", err)
	}

	replyPayload, err := armor.Decode(replyFrame, armor.TypeMessage)
	if err != nil {
		return wire.Message{}, err
	}
	var reply wire.Message
	if err := json.Unmarshal(replyPayload, &reply); err != nil {
		return wire.Message{}, errs.Wrap(errs.MalformedArmor, "decoding reply frame", err)
	}
	return reply, nil
}

// subscribePush registers for push notices once, on first successful
// request, per spec.md §4.8.
func (c *Context) subscribePush(ctx context.Context) {
	if c.Transport == nil {
		return
	}
	c.mu.Lock()
	already := c.pushUnsub != nil
	c.mu.Unlock()
	if already {
		return
	}
	unsub, err := c.Transport.SubscribePush(ctx, c.Endpoint, func(transport.PushNotice) {
		atomic.AddUint64(&c.pushSeen, 1)
	})
	if err != nil {
		return
	}
	c.mu.Lock()
	c.pushUnsub = unsub
	c.mu.Unlock()
}
