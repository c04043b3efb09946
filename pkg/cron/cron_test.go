package cron

import (
	"context"
	"testing"
	"time"

	"github.com/open-transactions/notary/pkg/ids"
)

type recordingHooks struct {
	activated          bool
	processed          int
	finalReceipt       bool
	removedFromCron    bool
	finalBeforeRemoval bool
	nextResult         ProcessResult
}

func (h *recordingHooks) ProcessItem(ctx context.Context, item *Item) ProcessResult {
	h.processed++
	return h.nextResult
}
func (h *recordingHooks) OnActivate(ctx context.Context, item *Item)        { h.activated = true }
func (h *recordingHooks) OnFinalReceipt(ctx context.Context, item *Item)    { h.finalReceipt = true }
func (h *recordingHooks) OnRemovalFromCron(ctx context.Context, item *Item) {
	h.finalBeforeRemoval = h.finalReceipt
	h.removedFromCron = true
}

func TestAddRunsOnActivateOnce(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	item := &Item{Kind: KindTrade, OpeningNum: 1, ValidTo: time.Now().Add(time.Hour), Hooks: hooks}

	s.Add(context.Background(), item)
	if !hooks.activated {
		t.Fatalf("expected OnActivate to run")
	}

	hooks.activated = false
	s.Add(context.Background(), item)
	if hooks.activated {
		t.Fatalf("expected OnActivate not to run again when the item is re-added")
	}
}

func TestTickProcessesDueItem(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	item := &Item{
		Kind:            KindTrade,
		OpeningNum:      1,
		ValidFrom:       time.Now().Add(-time.Hour),
		ValidTo:         time.Now().Add(time.Hour),
		ProcessInterval: 10 * time.Second,
		Hooks:           hooks,
	}
	s.Add(context.Background(), item)

	s.Tick(context.Background(), time.Now())
	if hooks.processed != 1 {
		t.Fatalf("expected ProcessItem to run once, ran %d times", hooks.processed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected item to remain on cron")
	}
}

func TestTickSkipsItemBeforeValidFrom(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	item := &Item{
		Kind:       KindTrade,
		OpeningNum: 1,
		ValidFrom:  time.Now().Add(time.Hour),
		ValidTo:    time.Now().Add(2 * time.Hour),
		Hooks:      hooks,
	}
	s.Add(context.Background(), item)

	s.Tick(context.Background(), time.Now())
	if hooks.processed != 0 {
		t.Fatalf("expected ProcessItem not to run before ValidFrom")
	}
}

func TestTickSkipsWithinProcessInterval(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	now := time.Now()
	item := &Item{
		Kind:            KindTrade,
		OpeningNum:      1,
		ValidFrom:       now.Add(-time.Hour),
		ValidTo:         now.Add(time.Hour),
		ProcessInterval: time.Minute,
		LastProcessed:   now,
		Hooks:           hooks,
	}
	s.Add(context.Background(), item)

	s.Tick(context.Background(), now.Add(time.Second))
	if hooks.processed != 0 {
		t.Fatalf("expected ProcessItem to be rate-limited by ProcessInterval")
	}
}

func TestTickExpiryRunsHookRemovalInFixedOrder(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	item := &Item{
		Kind:       KindTrade,
		OpeningNum: 1,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidTo:    time.Now().Add(-time.Minute), // already expired
		Hooks:      hooks,
	}
	s.Add(context.Background(), item)

	s.Tick(context.Background(), time.Now())

	if !hooks.finalReceipt {
		t.Fatalf("expected OnFinalReceipt to run on expiry")
	}
	if !hooks.removedFromCron {
		t.Fatalf("expected OnRemovalFromCron to run on expiry")
	}
	if !hooks.finalBeforeRemoval {
		t.Fatalf("expected OnFinalReceipt to run before OnRemovalFromCron")
	}
	if s.Len() != 0 {
		t.Fatalf("expected item to be erased from cron after removal")
	}
}

func TestProcessItemRemoveTriggersHookRemoval(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Remove}
	item := &Item{
		Kind:            KindTrade,
		OpeningNum:      1,
		ValidFrom:       time.Now().Add(-time.Hour),
		ValidTo:         time.Now().Add(time.Hour),
		ProcessInterval: time.Second,
		Hooks:           hooks,
	}
	s.Add(context.Background(), item)

	s.Tick(context.Background(), time.Now())
	if !hooks.removedFromCron {
		t.Fatalf("expected removal when ProcessItem returns Remove")
	}
}

func TestCronOrderingPreservesInsertionOrder(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	var processedOrder []ids.TxNumber

	makeHooks := func(n ids.TxNumber) *orderTrackingHooks {
		return &orderTrackingHooks{n: n, order: &processedOrder}
	}

	now := time.Now()
	itemI := &Item{Kind: KindTrade, OpeningNum: 1, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour), ProcessInterval: time.Second, Hooks: makeHooks(1)}
	itemJ := &Item{Kind: KindTrade, OpeningNum: 2, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour), ProcessInterval: time.Second, Hooks: makeHooks(2)}

	s.Add(context.Background(), itemI)
	s.Add(context.Background(), itemJ)

	s.Tick(context.Background(), now)

	if len(processedOrder) != 2 || processedOrder[0] != 1 || processedOrder[1] != 2 {
		t.Fatalf("expected items processed in insertion order, got %v", processedOrder)
	}
}

type orderTrackingHooks struct {
	n     ids.TxNumber
	order *[]ids.TxNumber
}

func (h *orderTrackingHooks) ProcessItem(ctx context.Context, item *Item) ProcessResult {
	*h.order = append(*h.order, h.n)
	return Keep
}
func (h *orderTrackingHooks) OnActivate(ctx context.Context, item *Item)        {}
func (h *orderTrackingHooks) OnFinalReceipt(ctx context.Context, item *Item)    {}
func (h *orderTrackingHooks) OnRemovalFromCron(ctx context.Context, item *Item) {}

func TestEraseSkipsHooks(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	hooks := &recordingHooks{nextResult: Keep}
	item := &Item{Kind: KindTrade, OpeningNum: 1, ValidTo: time.Now().Add(time.Hour), Hooks: hooks}
	s.Add(context.Background(), item)

	s.Erase(1)

	if hooks.finalReceipt || hooks.removedFromCron {
		t.Fatalf("expected Erase to skip HookRemoval entirely")
	}
	if s.Len() != 0 {
		t.Fatalf("expected item removed from cron")
	}
}
