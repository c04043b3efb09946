package otx

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/pkg/armor"
	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/numbers"
	"github.com/open-transactions/notary/pkg/storage"
	"github.com/open-transactions/notary/pkg/transport/loopback"
	"github.com/open-transactions/notary/pkg/wire"
)

// fakeNotary is a minimal in-process stand-in for internal/notaryd: it
// understands just enough of the wire command set to exercise pkg/otx's
// task handlers without depending on the full server package.
type fakeNotary struct {
	numManager   *numbers.Manager
	nextNum      uint64
	accounts     map[ids.ID]ids.ID
	planDeposits int
}

func newFakeNotary(t *testing.T) *fakeNotary {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &fakeNotary{
		numManager: numbers.NewManager(&storage.NumbersStore{Store: store}),
		nextNum:    1,
		accounts:   map[ids.ID]ids.ID{},
	}
}

func (f *fakeNotary) handle(ctx context.Context, frame string) (string, error) {
	payload, err := armor.Decode(frame, armor.TypeMessage)
	if err != nil {
		return "", err
	}
	var req wire.Message
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", err
	}

	switch req.Command {
	case wire.CmdRegisterNym:
		reply, _ := wire.Reply(req, true, "", wire.RegisterNymReply{RequestNum: req.RequestNum})
		return marshal(reply)

	case wire.CmdGetTransactionNumbers:
		var body wire.GetTransactionNumbersRequest
		_ = req.DecodePayload(&body)
		nums := make([]ids.TxNumber, 0, body.Count)
		ledger, err := f.numManager.Ledger(req.NymID, req.NotaryID)
		if err != nil {
			return failReply(req, errs.InvalidState)
		}
		for i := 0; i < body.Count; i++ {
			n := ids.TxNumber(f.nextNum)
			f.nextNum++
			if err := ledger.Issue(n); err != nil {
				return failReply(req, errs.InvalidState)
			}
			nums = append(nums, n)
		}
		reply, _ := wire.Reply(req, true, "", wire.GetTransactionNumbersReply{Numbers: nums})
		return marshal(reply)

	case wire.CmdRegisterAccount:
		var body wire.RegisterAccountRequest
		_ = req.DecodePayload(&body)
		acct := ids.HashDomain("account", append(req.NymID.Bytes(), body.UnitID.Bytes()...))
		f.accounts[body.UnitID] = acct
		reply, _ := wire.Reply(req, true, "", wire.RegisterAccountReply{AccountID: acct})
		return marshal(reply)

	case wire.CmdNotarizeDeposit:
		var body wire.DepositPaymentRequest
		_ = req.DecodePayload(&body)
		if body.AccountID.IsZero() {
			return failReply(req, errs.UnknownUnit)
		}
		reply, _ := wire.Reply(req, true, "", wire.DepositPaymentReply{})
		return marshal(reply)

	case wire.CmdDepositPaymentPlan:
		var body wire.DepositPaymentPlanRequest
		_ = req.DecodePayload(&body)
		if body.Plan.Type != wire.InstrumentPaymentPlan {
			return failReply(req, errs.InvalidState)
		}
		f.planDeposits++
		reply, _ := wire.Reply(req, true, "", wire.DepositPaymentPlanReply{OpeningNum: 99})
		return marshal(reply)

	case wire.CmdWithdrawVoucher:
		reply, _ := wire.Reply(req, true, "", wire.WithdrawCashReply{Purse: []byte("fake-purse")})
		return marshal(reply)

	case wire.CmdNotarizeTransfer:
		reply, _ := wire.Reply(req, true, "", wire.SendPaymentReply{})
		return marshal(reply)

	default:
		return failReply(req, errs.InvalidState)
	}
}

func marshal(m wire.Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return armor.Encode(b, armor.TypeMessage, false)
}

func failReply(req wire.Message, kind errs.Kind) (string, error) {
	reply, err := wire.Reply(req, false, kind, nil)
	if err != nil {
		return "", err
	}
	return marshal(reply)
}

func newTestContext(t *testing.T) (*Context, *fakeNotary) {
	t.Helper()
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signingKey := gethcrypto.FromECDSA(priv)

	notary := newFakeNotary(t)
	lb := loopback.New()
	lb.Register("test://notary", notary.handle)

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	numManager := numbers.NewManager(&storage.NumbersStore{Store: store})
	nym := ids.Hash([]byte("alice"))
	notaryID := ids.Hash([]byte("notary"))
	led, err := numManager.Ledger(nym, notaryID)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}

	c := NewContext(nym, notaryID, "test://notary", lb, signingKey, led)
	return c, notary
}

func runContext(t *testing.T, c *Context) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return cancel
}

func TestRegisterNymTransitionsToReady(t *testing.T) {
	c, _ := newTestContext(t)
	cancel := runContext(t, c)
	defer cancel()

	fut := c.EnqueueRegisterNym()
	res, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("RegisterNym failed: %v", res.Err)
	}
	if c.State() != Ready {
		t.Fatalf("expected Ready, got %v", c.State())
	}
}

func TestGetTransactionNumbersPopulatesLocalLedger(t *testing.T) {
	c, _ := newTestContext(t)
	cancel := runContext(t, c)
	defer cancel()

	waitFor(t, c.EnqueueRegisterNym())
	res := waitFor(t, c.EnqueueGetTransactionNumbers(5))
	if res.Err != nil {
		t.Fatalf("GetTransactionNumbers failed: %v", res.Err)
	}
	if got := len(c.numbers.Snapshot().Available); got != 5 {
		t.Fatalf("expected 5 available numbers, got %d", got)
	}
}

func TestDepositPaymentAutoRegistersAccount(t *testing.T) {
	c, _ := newTestContext(t)
	cancel := runContext(t, c)
	defer cancel()

	waitFor(t, c.EnqueueRegisterNym())

	unit := ids.Hash([]byte("usd"))
	res := waitFor(t, c.EnqueueDepositPayment(DepositPaymentParams{UnitID: unit, Payment: []byte("payment-bytes")}))
	if res.Err != nil {
		t.Fatalf("DepositPayment failed: %v", res.Err)
	}

	c.mu.Lock()
	_, known := c.accountsByUnit[unit]
	c.mu.Unlock()
	if !known {
		t.Fatalf("expected DepositPayment to cache a freshly registered account")
	}
}

func TestDepositPaymentRoutesPaymentPlanInstrument(t *testing.T) {
	c, notary := newTestContext(t)
	cancel := runContext(t, c)
	defer cancel()

	waitFor(t, c.EnqueueRegisterNym())

	unit := ids.Hash([]byte("usd"))
	inst := wire.PaymentPlanInstrument{
		Type:            wire.InstrumentPaymentPlan,
		UnitID:          unit,
		SenderAcct:      ids.Hash([]byte("plan-sender")),
		RecipientAcct:   ids.Hash([]byte("plan-recipient")),
		PaymentAmount:   50,
		IntervalSeconds: 3600,
		MaxPayments:     12,
	}
	payment, err := json.Marshal(inst)
	if err != nil {
		t.Fatalf("marshal instrument: %v", err)
	}

	res := waitFor(t, c.EnqueueDepositPayment(DepositPaymentParams{
		UnitID:  unit,
		Account: inst.SenderAcct,
		Payment: payment,
	}))
	if res.Err != nil {
		t.Fatalf("DepositPayment(plan): %v", res.Err)
	}
	if notary.planDeposits != 1 {
		t.Fatalf("expected the payment-plan instrument to route to depositPaymentPlan, saw %d", notary.planDeposits)
	}
}

func TestPayCashWithdrawsThenSends(t *testing.T) {
	c, _ := newTestContext(t)
	cancel := runContext(t, c)
	defer cancel()

	waitFor(t, c.EnqueueRegisterNym())
	unit := ids.Hash([]byte("usd"))
	account := ids.Hash([]byte("acct-1"))
	res := waitFor(t, c.EnqueuePayCash(PayCashParams{
		Recipient: ids.Hash([]byte("bob")),
		UnitID:    unit,
		Account:   account,
		Amount:    50,
	}))
	if res.Err != nil {
		t.Fatalf("PayCash failed: %v", res.Err)
	}
}

func waitFor(t *testing.T, fut *Future) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}
