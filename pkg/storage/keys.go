package storage

import (
	"fmt"

	"github.com/open-transactions/notary/pkg/ids"
)

// Key namespaces, exactly as laid out in spec.md §6 / SPEC_FULL.md §6:
// per-account inbox ledgers (no outbox or nymbox namespace), box-receipt files keyed by
// number, market files, recent-trade journals, per-cron-item receipts,
// the per-Nym number ledger, and the notary-wide double-spend set.
const (
	nsLedger   = "numbers"
	nsInbox    = "ibx"
	nsReceipt  = "brx"
	nsMarket   = "markets"
	nsRecent   = "markets/recent"
	nsCron     = "cron"
	nsDspend   = "dspend"
	nsAccount  = "accounts"
	nsNym      = "nyms"
)

func ledgerKey(nym, notary ids.ID) string {
	return fmt.Sprintf("%s/%s/%s", nsLedger, nym, notary)
}

func inboxKey(account ids.ID) string {
	return fmt.Sprintf("%s/%s", nsInbox, account)
}

func receiptKey(txNumber ids.TxNumber) string {
	return fmt.Sprintf("%s/%s", nsReceipt, txNumber)
}

func marketKey(marketID ids.ID) string {
	return fmt.Sprintf("%s/%s", nsMarket, marketID)
}

func recentTradesKey(marketID ids.ID) string {
	return fmt.Sprintf("%s/%s.bin", nsRecent, marketID)
}

func cronKey(openingNum ids.TxNumber) string {
	return fmt.Sprintf("%s/%s", nsCron, openingNum)
}

func spendKey(notary, unit ids.ID, series uint64, tokenID string) string {
	return fmt.Sprintf("%s/%s/%s/%d/%s", nsDspend, notary, unit, series, tokenID)
}

func accountKey(account ids.ID) string {
	return fmt.Sprintf("%s/%s", nsAccount, account)
}

func nymKey(nym ids.ID) string {
	return fmt.Sprintf("%s/%s", nsNym, nym)
}
