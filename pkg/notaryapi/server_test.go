package notaryapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/open-transactions/notary/pkg/armor"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/wire"
)

type fakeDispatcher struct {
	t *testing.T
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, frame string) (string, error) {
	payload, err := armor.Decode(frame, armor.TypeMessage)
	if err != nil {
		f.t.Fatalf("bad armor: %v", err)
	}
	var req wire.Message
	if err := json.Unmarshal(payload, &req); err != nil {
		f.t.Fatalf("bad frame: %v", err)
	}
	var reply wire.Message
	switch req.Command {
	case wire.CmdGetMarketList:
		reply, _ = wire.Reply(req, true, "", wire.GetMarketListReply{MarketIDs: []ids.ID{ids.Hash([]byte("m1"))}})
	default:
		reply, _ = wire.Reply(req, false, "InvalidState", nil)
	}
	out, _ := json.Marshal(reply)
	return armor.Encode(out, armor.TypeMessage, false)
}

func TestGetMarketListRoundTrips(t *testing.T) {
	s := NewServer(&fakeDispatcher{t: t}, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/markets")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out wire.GetMarketListReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.MarketIDs) != 1 {
		t.Fatalf("expected 1 market id, got %d", len(out.MarketIDs))
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(&fakeDispatcher{t: t}, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
