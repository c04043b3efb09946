// Package loopback is an in-process implementation of pkg/transport: it
// calls directly into a handler function instead of crossing a network
// boundary, so pkg/otx's client state machine and tests can drive a full
// request/reply cycle (and push subscriptions) without a running server.
package loopback

import (
	"context"
	"sync"

	"github.com/open-transactions/notary/pkg/errs"
	"github.com/open-transactions/notary/pkg/transport"
)

// Handler processes one already-armored request frame and returns the
// armored reply frame — the shape internal/notaryd's dispatcher exposes.
type Handler func(ctx context.Context, frame string) (string, error)

// Transport routes Send calls directly to an in-process Handler and fans
// Publish calls out to every subscriber registered for an endpoint.
type Transport struct {
	mu       sync.Mutex
	handlers map[string]Handler
	subs     map[string][]transport.PushCallback
	proxy    string
}

// New constructs an empty loopback transport.
func New() *Transport {
	return &Transport{
		handlers: map[string]Handler{},
		subs:     map[string][]transport.PushCallback{},
	}
}

// Register installs h as the handler for endpoint.
func (t *Transport) Register(endpoint string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[endpoint] = h
}

// Send implements transport.Transport by calling the registered handler
// for endpoint directly.
func (t *Transport) Send(ctx context.Context, endpoint string, frame string) (string, error) {
	t.mu.Lock()
	h, ok := t.handlers[endpoint]
	t.mu.Unlock()
	if !ok {
		return "", errs.New(errs.UnknownNotary, "no loopback handler registered for "+endpoint)
	}
	return h(ctx, frame)
}

// SubscribePush implements transport.Transport by registering cb to
// receive every Publish call for endpoint.
func (t *Transport) SubscribePush(ctx context.Context, endpoint string, cb transport.PushCallback) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[endpoint] = append(t.subs[endpoint], cb)
	idx := len(t.subs[endpoint]) - 1

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.subs[endpoint]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}, nil
}

// Publish delivers notice to every live subscriber of endpoint — the
// notary side calls this once a Nymbox change has actually committed.
func (t *Transport) Publish(endpoint string, notice transport.PushNotice) {
	t.mu.Lock()
	subs := append([]transport.PushCallback(nil), t.subs[endpoint]...)
	t.mu.Unlock()
	for _, cb := range subs {
		if cb != nil {
			cb(notice)
		}
	}
}

// ChangeAddressType is a no-op for the loopback transport: there is no
// real address scheme to change.
func (t *Transport) ChangeAddressType(endpoint, newType string) (string, error) {
	return endpoint, nil
}

// SetProxy records proxyURL for diagnostics; the loopback transport never
// actually dials out.
func (t *Transport) SetProxy(proxyURL string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proxy = proxyURL
	return nil
}
