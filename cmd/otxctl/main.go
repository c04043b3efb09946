// Command otxctl drives the C9 client state machine end to end against an
// in-process notary: RegisterNym, GetTransactionNumbers, RegisterAccount,
// DepositPayment, then WithdrawCash and DepositCash. Grounded on the
// teacher's cmd/sign-order/main.go flow (generate a key, build a request,
// sign it, show the result at each step) but driven through pkg/otx's
// task queue instead of hand-assembling one EIP-712 order.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/open-transactions/notary/internal/config"
	"github.com/open-transactions/notary/internal/notaryd"
	"github.com/open-transactions/notary/internal/obslog"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/numbers"
	"github.com/open-transactions/notary/pkg/otx"
	"github.com/open-transactions/notary/pkg/storage"
	"github.com/open-transactions/notary/pkg/transport/loopback"
	"github.com/open-transactions/notary/pkg/wire"
)

const endpoint = "loopback://notary"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "otxctl:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := obslog.New()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	dir, err := os.MkdirTemp("", "otxctl-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store, err := storage.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	notaryKey, err := gethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	notarySigningKey := gethcrypto.FromECDSA(notaryKey)
	notaryID := ids.HashDomain("notaryId", gethcrypto.FromECDSAPub(&notaryKey.PublicKey))

	cfg := config.Default()
	app := notaryd.New(notaryID, store, cfg, notarySigningKey, logger)

	tr := loopback.New()
	tr.Register(endpoint, app.Dispatch)

	clientKey, err := gethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	clientSigningKey := gethcrypto.FromECDSA(clientKey)
	nymID := ids.HashDomain("nymId", gethcrypto.FromECDSAPub(&clientKey.PublicKey))

	numManager := numbers.NewManager(&storage.NumbersStore{Store: store})
	numLedger, err := numManager.Ledger(nymID, notaryID)
	if err != nil {
		return err
	}

	cc := otx.NewContext(nymID, notaryID, endpoint, tr, clientSigningKey, numLedger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cc.Run(ctx)

	sugar.Infow("otxctl_starting", "nym_id", nymID.String(), "notary_id", notaryID.String())

	unitID := ids.HashDomain("unitId", []byte("USD"))

	sugar.Infow("otxctl_step_starting", "step", "RegisterNym")
	if _, err := wait(cc.EnqueueRegisterNym()); err != nil {
		return fmt.Errorf("RegisterNym: %w", err)
	}

	sugar.Infow("otxctl_step_starting", "step", "GetTransactionNumbers")
	if _, err := wait(cc.EnqueueGetTransactionNumbers(5)); err != nil {
		return fmt.Errorf("GetTransactionNumbers: %w", err)
	}

	sugar.Infow("otxctl_step_starting", "step", "RegisterAccount")
	regReply, err := wait(cc.EnqueueRegisterAccount(unitID))
	if err != nil {
		return fmt.Errorf("RegisterAccount: %w", err)
	}
	var regBody wire.RegisterAccountReply
	if err := regReply.DecodePayload(&regBody); err != nil {
		return fmt.Errorf("RegisterAccount: decoding reply: %w", err)
	}
	accountID := regBody.AccountID
	sugar.Infow("otxctl_account_registered", "account_id", accountID.String())

	sugar.Infow("otxctl_step_starting", "step", "DepositPayment")
	if _, err := wait(cc.EnqueueDepositPayment(otx.DepositPaymentParams{
		UnitID:  unitID,
		Account: accountID,
		Payment: []byte("deposit-slip-1000-units"),
	})); err != nil {
		return fmt.Errorf("DepositPayment: %w", err)
	}

	sugar.Infow("otxctl_step_starting", "step", "WithdrawCash")
	withdrawReply, err := wait(cc.EnqueueWithdrawCash(otx.WithdrawCashParams{
		UnitID:  unitID,
		Account: accountID,
		Amount:  50,
	}))
	if err != nil {
		return fmt.Errorf("WithdrawCash: %w", err)
	}
	var withdrawBody wire.WithdrawCashReply
	if err := withdrawReply.DecodePayload(&withdrawBody); err != nil {
		return fmt.Errorf("WithdrawCash: decoding reply: %w", err)
	}

	sugar.Infow("otxctl_step_starting", "step", "DepositCash")
	if _, err := wait(cc.EnqueueDepositCash(otx.DepositCashParams{
		UnitID:  unitID,
		Account: accountID,
		Purse:   withdrawBody.Purse,
	})); err != nil {
		return fmt.Errorf("DepositCash: %w", err)
	}

	sugar.Info("otxctl_complete")
	return nil
}

func wait(fut *otx.Future) (wire.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := fut.Wait(ctx)
	if err != nil {
		return wire.Message{}, err
	}
	if res.Err != nil {
		return wire.Message{}, res.Err
	}
	return res.Reply, nil
}
