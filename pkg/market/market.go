// Package market implements the notary's price-scaled bid/ask matching
// engine: atomic four-account fills, the resting-order-price rule, round
// sizing, the same-account guard, and a bounded recent-trades journal (C7).
package market

import (
	"container/heap"
	"sync"
	"time"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/trade"
)

// recentTradesCap is the default bound on the journal FIFO (spec.md §4.6).
const recentTradesCap = 50

// AccountMover is the narrow contract the matching engine needs against
// the account ledger: an atomic debit/credit pair, each failing closed
// with InsufficientFunds (or another *errs.Error kind) rather than
// partially applying.
type AccountMover interface {
	Debit(acct ids.ID, amt ids.Amount) error
	Credit(acct ids.ID, amt ids.Amount) error
}

// JournalEntry is one advisory record of a completed execution.
type JournalEntry struct {
	OpeningNum ids.TxNumber
	Time       time.Time
	Price      ids.Amount
	AmountSold ids.Amount
}

// Execution is one successful atomic four-account fill.
type Execution struct {
	Aggressor *trade.Trade
	Resting   *trade.Trade
	Price     ids.Amount
	Amount    ids.Amount
}

// Rejection names the trade and account that failed a debit step during a
// match attempt, to be turned into a rejection marketReceipt by the
// caller.
type Rejection struct {
	Trade   *trade.Trade
	Account ids.ID
}

// Outcome is everything Match produced for one aggressor trade.
type Outcome struct {
	Executions []Execution
	Rejections []Rejection
	// Rested is true if the aggressor's remainder was added to the book.
	Rested bool
	// Unmatched is true if the aggressor was a market order that found no
	// counter-offer; it is never rested and must be removed by the caller.
	Unmatched bool
	// Disqualified is true if the aggressor itself was short of funds
	// during a match attempt; it is never rested and the caller should
	// flag its Trade for removal and drop the rejection receipt recorded
	// in Rejections.
	Disqualified bool
}

// Market is the order book for one (unit, currency, scale) triple.
type Market struct {
	UnitID     ids.ID
	CurrencyID ids.ID
	Scale      ids.Amount

	mu sync.Mutex

	bidHeap maxPriceHeap
	askHeap minPriceHeap

	bids map[ids.Amount][]*trade.Trade
	asks map[ids.Amount][]*trade.Trade

	byOpening map[ids.TxNumber]struct{ side trade.Side; price ids.Amount }

	lastSale ids.Amount
	journal  []JournalEntry
	journalCap int
}

// ID returns the content-hash identity of this market, H(canonical(unit,
// currency, scale)).
func (m *Market) ID() ids.ID {
	buf := make([]byte, 0, 72)
	buf = append(buf, m.UnitID[:]...)
	buf = append(buf, m.CurrencyID[:]...)
	buf = append(buf, byte(m.Scale>>56), byte(m.Scale>>48), byte(m.Scale>>40), byte(m.Scale>>32),
		byte(m.Scale>>24), byte(m.Scale>>16), byte(m.Scale>>8), byte(m.Scale))
	return ids.HashDomain("market", buf)
}

// New constructs an empty Market for (unit, currency, scale).
func New(unit, currency ids.ID, scale ids.Amount) *Market {
	return &Market{
		UnitID:     unit,
		CurrencyID: currency,
		Scale:      scale,
		bids:       map[ids.Amount][]*trade.Trade{},
		asks:       map[ids.Amount][]*trade.Trade{},
		byOpening:  map[ids.TxNumber]struct{ side trade.Side; price ids.Amount }{},
		journalCap: recentTradesCap,
	}
}

func sameAccountOverlap(a, b *trade.Trade) bool {
	return a.AssetAcct == b.AssetAcct || a.AssetAcct == b.CurrencyAcct ||
		a.CurrencyAcct == b.AssetAcct || a.CurrencyAcct == b.CurrencyAcct
}

// sellerBuyer returns (seller, buyer) between two crossing trades: the Ask
// side debits its asset account and credits its currency account; the Bid
// side does the inverse.
func sellerBuyer(a, b *trade.Trade) (seller, buyer *trade.Trade) {
	if a.Offer.Side == trade.Ask {
		return a, b
	}
	return b, a
}

// Match attempts to cross aggr against the opposite side of the book,
// performing atomic four-account moves via mover for each successful
// round, and resting any uncrossed remainder (unless aggr is a market
// order, which never rests).
func (m *Market) Match(aggr *trade.Trade, mover AccountMover) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &Outcome{}
	aggrDisqualified := false
	bookSide := trade.Bid
	if aggr.Offer.Side == trade.Bid {
		bookSide = trade.Ask
	}

	for aggr.Offer.Available() > 0 {
		restingPrice, restingTrade, ok := m.bestCandidate(bookSide, aggr)
		if !ok {
			break
		}

		if !aggr.Offer.IsMarketOrder() {
			if bookSide == trade.Ask && restingPrice > aggr.Offer.PriceLimit {
				break
			}
			if bookSide == trade.Bid && restingPrice < aggr.Offer.PriceLimit {
				break
			}
		}

		exec, rejections, err := m.tryExecute(mover, aggr, restingTrade)
		if err != nil {
			return nil, err
		}

		// A round-sized partial fill can arrive alongside the rejection
		// that ended it: record the fill before disqualifying anyone.
		if exec != nil {
			out.Executions = append(out.Executions, *exec)
			m.recordJournal(aggr.OpeningNum, exec.Price, exec.Amount)
			if restingTrade.IsFullyFilled() {
				m.removeFromBook(bookSide, restingPrice, restingTrade)
			}
		}

		if len(rejections) > 0 {
			// If the aggressor itself was disqualified, stop entirely and
			// do not rest it; otherwise the resting order that failed
			// is dropped here and matching continues against the next
			// candidate.
			for _, rej := range rejections {
				out.Rejections = append(out.Rejections, rej)
				if rej.Trade == restingTrade {
					m.removeFromBook(bookSide, restingPrice, restingTrade)
				}
			}
			if containsRejectionFor(rejections, aggr) {
				aggrDisqualified = true
				break
			}
			continue
		}

		if exec == nil {
			// No executable size remains at scale granularity (dust
			// below one scale unit on either side); nothing further can
			// match at this tick.
			break
		}
	}

	if aggrDisqualified {
		out.Disqualified = true
	} else if aggr.Offer.Available() > 0 {
		if aggr.Offer.IsMarketOrder() {
			out.Unmatched = true
		} else {
			m.rest(aggr)
			out.Rested = true
		}
	}

	return out, nil
}

func containsRejectionFor(rejections []Rejection, t *trade.Trade) bool {
	for _, r := range rejections {
		if r.Trade == t {
			return true
		}
	}
	return false
}

// bestCandidate returns the best-priced resting trade on side that is not
// in a same-account conflict with aggr, walking the FIFO queue at the
// best price level in time order.
func (m *Market) bestCandidate(side trade.Side, aggr *trade.Trade) (ids.Amount, *trade.Trade, bool) {
	var price ids.Amount
	var ok bool
	if side == trade.Bid {
		p, found := m.bidHeap.Peek()
		price, ok = ids.Amount(p), found
	} else {
		p, found := m.askHeap.Peek()
		price, ok = ids.Amount(p), found
	}
	if !ok {
		return 0, nil, false
	}

	queue := m.levelQueue(side, price)
	for _, t := range queue {
		if !sameAccountOverlap(aggr, t) {
			return price, t, true
		}
	}
	return 0, nil, false
}

func (m *Market) levelQueue(side trade.Side, price ids.Amount) []*trade.Trade {
	if side == trade.Bid {
		return m.bids[price]
	}
	return m.asks[price]
}

// tryExecute attempts one round (single-shot or incremental) of matching
// between aggr and rest, mutating both trades' fill state and mover's
// account balances on success.
func (m *Market) tryExecute(mover AccountMover, aggr, rest *trade.Trade) (*Execution, []Rejection, error) {
	if sameAccountOverlap(aggr, rest) {
		return nil, nil, nil
	}
	if m.Scale <= 0 {
		return nil, nil, errs.New(errs.ScaleMismatch, "market scale must be positive")
	}

	price := rest.Offer.PriceLimit // resting order gets its price

	roundIncrement := aggr.Offer.MinIncrement
	if rest.Offer.MinIncrement > roundIncrement {
		roundIncrement = rest.Offer.MinIncrement
	}

	maxFeasible := aggr.Offer.Available()
	if rest.Offer.Available() < maxFeasible {
		maxFeasible = rest.Offer.Available()
	}
	maxFeasible -= maxFeasible % m.Scale
	if maxFeasible <= 0 {
		return nil, nil, nil
	}

	singleShotPrice := maxFeasible * price / m.Scale
	ok, ssRejections, err := m.attemptMove(mover, aggr, rest, maxFeasible, singleShotPrice)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		aggr.RecordFill(maxFeasible)
		rest.RecordFill(maxFeasible)
		return &Execution{Aggressor: aggr, Resting: rest, Price: singleShotPrice, Amount: maxFeasible}, nil, nil
	}

	// The single shot could not be covered: step down into
	// roundIncrement-sized rounds and fill as many whole rounds as both
	// debit balances allow before disqualifying the short side.
	roundPrice := roundIncrement * price / m.Scale
	var totalAmt, totalPrice ids.Amount
	for {
		if roundIncrement > aggr.Offer.Available()-totalAmt || roundIncrement > rest.Offer.Available()-totalAmt {
			break
		}
		ok, rejections, err := m.attemptMove(mover, aggr, rest, roundIncrement, roundPrice)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			if totalAmt > 0 {
				aggr.RecordFill(totalAmt)
				rest.RecordFill(totalAmt)
				return &Execution{Aggressor: aggr, Resting: rest, Price: totalPrice, Amount: totalAmt}, rejections, nil
			}
			return nil, rejections, nil
		}
		totalAmt += roundIncrement
		totalPrice += roundPrice
	}

	if totalAmt == 0 {
		// Not even one whole round fits under maxFeasible; the single
		// shot's shortfall stands.
		return nil, ssRejections, nil
	}
	aggr.RecordFill(totalAmt)
	rest.RecordFill(totalAmt)
	return &Execution{Aggressor: aggr, Resting: rest, Price: totalPrice, Amount: totalAmt}, nil, nil
}

// attemptMove performs the atomic four-account move for one execution of
// size amt at the given price, rolling back whichever steps already
// succeeded if a later step fails.
func (m *Market) attemptMove(mover AccountMover, aggr, rest *trade.Trade, amt, price ids.Amount) (bool, []Rejection, error) {
	seller, buyer := sellerBuyer(aggr, rest)

	if err := mover.Debit(seller.AssetAcct, amt); err != nil {
		if errs.Is(err, errs.InsufficientFunds) {
			return false, []Rejection{{Trade: seller, Account: seller.AssetAcct}}, nil
		}
		return false, nil, err
	}

	if err := mover.Debit(buyer.CurrencyAcct, price); err != nil {
		_ = mover.Credit(seller.AssetAcct, amt)
		if errs.Is(err, errs.InsufficientFunds) {
			return false, []Rejection{{Trade: buyer, Account: buyer.CurrencyAcct}}, nil
		}
		return false, nil, err
	}

	if err := mover.Credit(buyer.AssetAcct, amt); err != nil {
		_ = mover.Credit(seller.AssetAcct, amt)
		_ = mover.Credit(buyer.CurrencyAcct, price)
		return false, nil, err
	}

	if err := mover.Credit(seller.CurrencyAcct, price); err != nil {
		_ = mover.Debit(buyer.AssetAcct, amt)
		_ = mover.Credit(seller.AssetAcct, amt)
		_ = mover.Credit(buyer.CurrencyAcct, price)
		return false, nil, err
	}

	return true, nil, nil
}

// rest adds t to its own side of the book, at the lower-bound (bids) /
// upper-bound (asks) position for its price to preserve time priority.
func (m *Market) rest(t *trade.Trade) {
	price := t.Offer.PriceLimit
	side := t.Offer.Side

	if side == trade.Bid {
		if len(m.bids[price]) == 0 {
			heap.Push(&m.bidHeap, int64(price))
		}
		m.bids[price] = append(m.bids[price], t)
	} else {
		if len(m.asks[price]) == 0 {
			heap.Push(&m.askHeap, int64(price))
		}
		m.asks[price] = append(m.asks[price], t)
	}
	m.byOpening[t.OpeningNum] = struct {
		side  trade.Side
		price ids.Amount
	}{side, price}
}

// removeFromBook removes t from side's queue at price, dropping the price
// level (and the heap entry) if it becomes empty.
func (m *Market) removeFromBook(side trade.Side, price ids.Amount, t *trade.Trade) {
	queue := m.levelQueue(side, price)
	for i, o := range queue {
		if o == t {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if side == trade.Bid {
		if len(queue) == 0 {
			delete(m.bids, price)
			removeFromMaxHeap(&m.bidHeap, int64(price))
		} else {
			m.bids[price] = queue
		}
	} else {
		if len(queue) == 0 {
			delete(m.asks, price)
			removeFromMinHeap(&m.askHeap, int64(price))
		} else {
			m.asks[price] = queue
		}
	}
	delete(m.byOpening, t.OpeningNum)
}

func removeFromMaxHeap(h *maxPriceHeap, price int64) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i] == price {
			heap.Remove(h, i)
			return
		}
	}
}

func removeFromMinHeap(h *minPriceHeap, price int64) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i] == price {
			heap.Remove(h, i)
			return
		}
	}
}

// CancelOpening removes a resting trade by its opening number, the O(1)
// index lookup the teacher's Cancel uses, generalized to a two-sided book.
func (m *Market) CancelOpening(openingNum ids.TxNumber) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, ok := m.byOpening[openingNum]
	if !ok {
		return false
	}
	queue := m.levelQueue(loc.side, loc.price)
	for _, t := range queue {
		if t.OpeningNum == openingNum {
			m.removeFromBook(loc.side, loc.price, t)
			return true
		}
	}
	return false
}

func (m *Market) recordJournal(openingNum ids.TxNumber, price, amt ids.Amount) {
	m.lastSale = price
	entry := JournalEntry{OpeningNum: openingNum, Time: time.Now(), Price: price, AmountSold: amt}
	m.journal = append(m.journal, entry)
	if len(m.journal) > m.journalCap {
		m.journal = m.journal[len(m.journal)-m.journalCap:]
	}
}

// RecentTrades returns a defensive copy of the journal, oldest first.
func (m *Market) RecentTrades() []JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JournalEntry, len(m.journal))
	copy(out, m.journal)
	return out
}

// LastSale returns the most recent execution price, or 0 if none yet.
func (m *Market) LastSale() ids.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSale
}

// BestBid returns the highest resting bid price.
func (m *Market) BestBid() (ids.Amount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bidHeap.Peek()
	return ids.Amount(p), ok
}

// BestAsk returns the lowest resting ask price.
func (m *Market) BestAsk() (ids.Amount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.askHeap.Peek()
	return ids.Amount(p), ok
}

// Snapshot is the persisted form of a Market: every resting trade plus the
// recent-trades journal and last-sale price, the fields the notary's
// storage plugin writes under markets/<marketId> and
// markets/recent/<marketId> (spec.md §6).
type Snapshot struct {
	UnitID     ids.ID
	CurrencyID ids.ID
	Scale      ids.Amount
	Resting    []*trade.Trade
	Journal    []JournalEntry
	LastSale   ids.Amount
}

// Export captures a Snapshot of m's current book and journal.
func (m *Market) Export() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var resting []*trade.Trade
	for _, q := range m.bids {
		resting = append(resting, q...)
	}
	for _, q := range m.asks {
		resting = append(resting, q...)
	}
	journal := make([]JournalEntry, len(m.journal))
	copy(journal, m.journal)

	return Snapshot{
		UnitID: m.UnitID, CurrencyID: m.CurrencyID, Scale: m.Scale,
		Resting: resting, Journal: journal, LastSale: m.lastSale,
	}
}

// Restore rebuilds a Market from a previously exported Snapshot, re-resting
// every trade it held and replaying its journal/last-sale state.
func Restore(snap Snapshot) *Market {
	m := New(snap.UnitID, snap.CurrencyID, snap.Scale)
	for _, t := range snap.Resting {
		m.rest(t)
	}
	m.journal = append(m.journal, snap.Journal...)
	m.lastSale = snap.LastSale
	return m
}
