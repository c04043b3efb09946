// Package cron implements the notary's tick-driven scheduler over
// long-lived financial instruments: trades, payment plans, and smart
// contracts (C5).
package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-transactions/notary/pkg/ids"
)

// Kind tags which concrete instrument a CronItem wraps. Shared fields live
// on the Item envelope; kind-specific behavior is dispatched via Hooks
// rather than a virtual method table.
type Kind string

const (
	KindTrade         Kind = "trade"
	KindPaymentPlan   Kind = "paymentPlan"
	KindSmartContract Kind = "smartContract"
)

// defaultInterval returns the default process interval for items for
// which the caller did not set one explicitly: 10s for trades, 1h for
// payment plans and smart contracts.
func defaultInterval(kind Kind) time.Duration {
	switch kind {
	case KindTrade:
		return 10 * time.Second
	default:
		return time.Hour
	}
}

// ProcessResult is returned by a Hooks.ProcessItem call.
type ProcessResult int

const (
	// Keep leaves the item on Cron for the next tick.
	Keep ProcessResult = iota
	// Remove causes HookRemoval to run at the end of the current tick.
	Remove
)

// Hooks is the set of kind-specific callbacks a CronItem's owner supplies.
// Shared scheduling logic in Scheduler.Tick calls these; it never branches
// on Kind itself.
type Hooks interface {
	// ProcessItem performs one tick's worth of work (e.g. Trade: attempt
	// a Market match). Called only when the item is active and due.
	ProcessItem(ctx context.Context, item *Item) ProcessResult
	// OnActivate runs once, the first time the item is accepted onto
	// Cron (signs an initial receipt copy for server records).
	OnActivate(ctx context.Context, item *Item)
	// OnFinalReceipt drops a finalReceipt to the Nymbox and to each
	// closing account's inbox, referencing the opening number and each
	// closing number respectively.
	OnFinalReceipt(ctx context.Context, item *Item)
	// OnRemovalFromCron performs subclass cleanup (e.g. a Trade removes
	// its Offer from the Market).
	OnRemovalFromCron(ctx context.Context, item *Item)
}

// Item is the shared envelope for every CronItem kind: {openingNum,
// closingNums[], creation, validFrom, validTo, processInterval,
// lastProcessed, removalFlag, canceled?} plus the Kind tag and its Hooks.
type Item struct {
	Kind Kind

	OpeningNum  ids.TxNumber
	ClosingNums []ids.TxNumber

	Creation  time.Time
	ValidFrom time.Time
	ValidTo   time.Time

	ProcessInterval time.Duration
	LastProcessed   time.Time

	RemovalFlag bool
	Canceled    bool
	activated   bool

	Hooks Hooks
}

// FlagForRemoval marks the item for removal; it takes effect at the end of
// the tick currently in progress (spec.md §4.4 tie-break), or at the start
// of the next tick if set between ticks.
func (it *Item) FlagForRemoval() {
	it.RemovalFlag = true
}

// Scheduler holds the active Cron items for one Notary, indexed by opening
// number, and processes them at a global tick. It runs on one dedicated
// goroutine and never holds a caller's request lock while ticking.
type Scheduler struct {
	mu        sync.Mutex
	order     []ids.TxNumber // insertion order, for tie-break iteration
	items     map[ids.TxNumber]*Item
	Logger    *zap.SugaredLogger
	TickEvery time.Duration
}

// NewScheduler constructs an empty Scheduler ticking every interval.
func NewScheduler(interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		items:     map[ids.TxNumber]*Item{},
		TickEvery: interval,
		Logger:    logger,
	}
}

// Add accepts item onto Cron, running HookActivation once.
func (s *Scheduler) Add(ctx context.Context, item *Item) {
	s.mu.Lock()
	if item.ProcessInterval == 0 {
		item.ProcessInterval = defaultInterval(item.Kind)
	}
	s.items[item.OpeningNum] = item
	s.order = append(s.order, item.OpeningNum)
	s.mu.Unlock()

	if !item.activated {
		item.activated = true
		if item.Hooks != nil {
			item.Hooks.OnActivate(ctx, item)
		}
	}
}

// Remove tags openingNum for removal at the end of the current tick.
func (s *Scheduler) Remove(openingNum ids.TxNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[openingNum]; ok {
		item.RemovalFlag = true
	}
}

// Get returns the item for openingNum, if still on Cron.
func (s *Scheduler) Get(openingNum ids.TxNumber) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[openingNum]
	return it, ok
}

// Run ticks the scheduler every TickEvery until ctx is canceled. It is the
// scheduler's dedicated goroutine entry point; callers run it with `go`.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick applies the §4.4 five-step decision tree to every active item, in
// insertion order, and performs HookRemoval for any item whose removal
// flag became set during this tick (including items flagged mid-tick by
// ProcessItem).
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	order := make([]ids.TxNumber, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	var toRemove []ids.TxNumber

	for _, openingNum := range order {
		s.mu.Lock()
		item, ok := s.items[openingNum]
		s.mu.Unlock()
		if !ok {
			continue
		}

		remove := s.tickOne(ctx, item, now)
		if remove {
			toRemove = append(toRemove, openingNum)
		}
	}

	// Items flagged by a later item's hooks after their own turn in this
	// pass are removed at the end of this tick too.
	pending := make(map[ids.TxNumber]bool, len(toRemove))
	for _, n := range toRemove {
		pending[n] = true
	}
	s.mu.Lock()
	for _, openingNum := range order {
		if item, ok := s.items[openingNum]; ok && item.RemovalFlag && !pending[openingNum] {
			toRemove = append(toRemove, openingNum)
		}
	}
	s.mu.Unlock()

	for _, openingNum := range toRemove {
		s.hookRemoval(ctx, openingNum)
	}
}

// tickOne runs the five-step decision tree for a single item and reports
// whether HookRemoval should run for it at the end of this tick.
func (s *Scheduler) tickOne(ctx context.Context, item *Item, now time.Time) bool {
	// Step 1: expired or already flagged.
	if now.After(item.ValidTo) || item.RemovalFlag {
		return true
	}
	// Step 2: too soon since last process.
	if !item.LastProcessed.IsZero() && now.Sub(item.LastProcessed) < item.ProcessInterval {
		return false
	}
	// Step 3: not yet active.
	if now.Before(item.ValidFrom) {
		return false
	}
	// Step 4: process.
	item.LastProcessed = now
	if item.Hooks == nil {
		return false
	}
	result := item.Hooks.ProcessItem(ctx, item)
	// Step 5: ProcessItem asked to be removed, or flagged itself mid-call.
	return result == Remove || item.RemovalFlag
}

// hookRemoval runs the fixed HookRemoval ordering: onFinalReceipt → drop
// finalReceipt (performed inside OnFinalReceipt by the caller's Hooks) →
// onRemovalFromCron → erase. Cancellation-before-activation never reaches
// here: the caller returns numbers to Available directly and calls Erase
// instead of Remove.
func (s *Scheduler) hookRemoval(ctx context.Context, openingNum ids.TxNumber) {
	s.mu.Lock()
	item, ok := s.items[openingNum]
	s.mu.Unlock()
	if !ok {
		return
	}

	if item.Hooks != nil {
		item.Hooks.OnFinalReceipt(ctx, item)
		item.Hooks.OnRemovalFromCron(ctx, item)
	}

	s.erase(openingNum)
	if s.Logger != nil {
		s.Logger.Infow("cron_item_removed", "opening_num", openingNum)
	}
}

// Erase removes an item from Cron without running any hooks — used for
// cancellation-before-activation, where no finalReceipt is ever produced.
func (s *Scheduler) Erase(openingNum ids.TxNumber) {
	s.erase(openingNum)
}

func (s *Scheduler) erase(openingNum ids.TxNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, openingNum)
	for i, n := range s.order {
		if n == openingNum {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len reports how many items are currently active on Cron.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
