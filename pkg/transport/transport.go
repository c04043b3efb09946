// Package transport defines the narrow send/subscribePush/
// changeAddressType/setProxy contract of spec.md §6 as Go interfaces only
// — the ZeroMQ framing itself is explicitly out of scope (spec.md §1).
// Two concrete implementations exercise the rest of the system end to
// end: an in-process loopback (this package) and an HTTP+WebSocket
// surface (pkg/notaryapi); neither claims to be the production ZMQ wire
// format.
package transport

import "context"

// PushNotice is an asynchronous notification the notary streams to a
// subscribed client once it has successfully registered for push — a
// Nymbox change, most commonly.
type PushNotice struct {
	NymID      string
	NotaryID   string
	NymboxHash string
}

// PushCallback receives PushNotices for a subscribed endpoint.
type PushCallback func(PushNotice)

// Transport is the client-side contract against a single notary endpoint.
type Transport interface {
	// Send transmits frame (an already-armored envelope) to endpoint and
	// blocks for the notary's reply frame.
	Send(ctx context.Context, endpoint string, frame string) (string, error)
	// SubscribePush registers cb to receive push notices for endpoint.
	// Returns an Unsubscribe func.
	SubscribePush(ctx context.Context, endpoint string, cb PushCallback) (unsubscribe func(), err error)
	// ChangeAddressType switches the endpoint scheme (e.g. tcp → tls).
	ChangeAddressType(endpoint, newType string) (string, error)
	// SetProxy configures an outbound proxy for subsequent Sends.
	SetProxy(proxyURL string) error
}
