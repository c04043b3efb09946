// Command notaryd runs a single notary process: storage, the transaction-
// number ledger, accounts, markets, Cron, and the wire-command dispatch
// table, reachable over HTTP/WebSocket (pkg/notaryapi). Grounded on the
// teacher's cmd/node/main.go wiring shape (load config, build logger,
// construct the app, start servers, wait on a signal context) minus the
// consensus/p2p pieces spec.md's notary has none of.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/open-transactions/notary/internal/config"
	"github.com/open-transactions/notary/internal/notaryd"
	"github.com/open-transactions/notary/internal/obslog"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/notaryapi"
	"github.com/open-transactions/notary/pkg/storage"
)

func main() {
	cfg := config.LoadFromEnv("")

	zl, err := buildLogger(os.Getenv("NOTARY_LOG_FILE"))
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	sugar := zl.Sugar()
	sugar.Infow("notaryd_starting", "listen_addr", cfg.ListenAddr, "storage_dir", cfg.StorageDir)

	store, err := storage.Open(cfg.StorageDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	signingKey, err := loadOrCreateSigningKey(cfg.StorageDir)
	if err != nil {
		sugar.Fatalw("signing_key_failed", "err", err)
	}
	priv, err := gethcrypto.ToECDSA(signingKey)
	if err != nil {
		sugar.Fatalw("invalid_signing_key", "err", err)
	}
	notaryID := ids.HashDomain("notaryId", gethcrypto.FromECDSAPub(&priv.PublicKey))

	app := notaryd.New(notaryID, store, cfg, signingKey, zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("cron_run_exited", "err", err)
		}
	}()

	apiServer := notaryapi.NewServer(app, sugar, cfg.CORSOrigins)
	go func() {
		if err := apiServer.Start(cfg.ListenAddr); err != nil {
			sugar.Fatalw("notaryapi_failed", "err", err)
		}
	}()

	sugar.Infow("notaryd_ready", "notary_id", notaryID.String())
	<-ctx.Done()
	sugar.Info("notaryd_shutting_down")
}

func loadOrCreateSigningKey(dir string) ([]byte, error) {
	path := dir + "/notary.key"
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	raw := gethcrypto.FromECDSA(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, err
	}
	return raw, nil
}

func buildLogger(logFile string) (*zap.Logger, error) {
	if logFile == "" {
		return obslog.New()
	}
	return obslog.NewWithFile(logFile)
}
