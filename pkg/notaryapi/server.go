// Package notaryapi is the notary's read-mostly REST/WS introspection
// surface: market snapshots, recent trades, account balances, and a push
// channel for Nymbox notices. It is the second concrete implementation of
// the request/reply shape pkg/transport/loopback already provides (the
// first), layered over internal/notaryd's App.Dispatch, and is modeled
// directly on the teacher's pkg/api (mux router + CORS + WebSocket Hub).
package notaryapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/open-transactions/notary/pkg/armor"
	"github.com/open-transactions/notary/pkg/ids"
	"github.com/open-transactions/notary/pkg/wire"
)

// Dispatcher is the narrow contract Server needs from internal/notaryd.App:
// decode-route-reply one signed request frame and hand back the signed
// reply frame. Declared here, rather than imported, so pkg/notaryapi does
// not need to depend on internal/notaryd's package.
type Dispatcher interface {
	Dispatch(ctx context.Context, frame string) (string, error)
}

// Server wraps a Dispatcher in an HTTP+WebSocket surface.
type Server struct {
	app    Dispatcher
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
	origins []string
}

// NewServer builds a Server with routes registered but not yet serving.
func NewServer(app Dispatcher, logger *zap.SugaredLogger, corsOrigins []string) *Server {
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		logger:  logger,
		origins: corsOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarketList).Methods("GET")
	api.HandleFunc("/markets/{marketId}/offers", s.handleGetMarketOffers).Methods("GET")
	api.HandleFunc("/markets/{marketId}/trades", s.handleGetRecentTrades).Methods("GET")
	api.HandleFunc("/accounts/{accountId}", s.handleGetAccountData).Methods("GET")
	api.HandleFunc("/nyms/{nymId}/nymbox", s.handleGetNymbox).Methods("GET")
	api.HandleFunc("/submit", s.handleSubmit).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub's broadcast loop and serves HTTP on addr. Blocks like
// http.ListenAndServe; callers run it in its own goroutine.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	if s.logger != nil {
		s.logger.Infow("notaryapi_listening", "addr", addr)
	}
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Router exposes the underlying mux.Router, mainly so tests can exercise
// routes with httptest.NewServer without opening a real listener.
func (s *Server) Router() http.Handler {
	return s.router
}

// PublishNymboxNotice pushes a one-line notice to every client subscribed
// to "nymbox:<nym>" — the push half of pkg/otx's SubscribePush contract.
func (s *Server) PublishNymboxNotice(nym ids.ID) {
	s.hub.BroadcastToChannel("nymbox:"+nym.String(), map[string]string{
		"type": "nymboxNotice",
		"nym":  nym.String(),
	})
}

func (s *Server) handleGetMarketList(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, wire.CmdGetMarketList, wire.GetMarketListRequest{})
}

func (s *Server) handleGetMarketOffers(w http.ResponseWriter, r *http.Request) {
	marketID, err := ids.ParseID(mux.Vars(r)["marketId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid marketId")
		return
	}
	s.forward(w, r, wire.CmdGetMarketOffers, wire.GetMarketOffersRequest{MarketID: marketID})
}

func (s *Server) handleGetRecentTrades(w http.ResponseWriter, r *http.Request) {
	marketID, err := ids.ParseID(mux.Vars(r)["marketId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid marketId")
		return
	}
	s.forward(w, r, wire.CmdGetMarketRecentTrades, wire.GetMarketRecentTradesRequest{MarketID: marketID})
}

func (s *Server) handleGetAccountData(w http.ResponseWriter, r *http.Request) {
	acctID, err := ids.ParseID(mux.Vars(r)["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid accountId")
		return
	}
	s.forward(w, r, wire.CmdGetAccountData, wire.GetAccountDataRequest{AccountID: acctID})
}

func (s *Server) handleGetNymbox(w http.ResponseWriter, r *http.Request) {
	nymID, err := ids.ParseID(mux.Vars(r)["nymId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nymId")
		return
	}
	req := wire.Message{Command: wire.CmdGetNymbox, NymID: nymID}
	s.roundTrip(w, req)
}

// handleSubmit accepts an already-signed, already-armored wire.Message
// frame verbatim and forwards it to the dispatcher — the generic path for
// commands (deposits, withdrawals, market offers) that need a client
// signature the server-side convenience routes above cannot attach on a
// caller's behalf. The response body is the armored reply frame.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	reply, err := s.app.Dispatch(r.Context(), string(body))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(reply))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// forward builds an unsigned server-convenience request for read-only
// commands (no Nym signature required to view public market state) and
// round-trips it through the dispatcher.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, cmd wire.Command, payload any) {
	req := wire.Message{Command: cmd}
	if err := req.EncodePayload(payload); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.roundTrip(w, req)
}

func (s *Server) roundTrip(w http.ResponseWriter, req wire.Message) {
	payload, err := json.Marshal(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	frame, err := armor.Encode(payload, armor.TypeMessage, false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	replyFrame, err := s.app.Dispatch(context.Background(), frame)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	replyPayload, err := armor.Decode(replyFrame, armor.TypeMessage)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "malformed reply frame")
		return
	}
	var reply wire.Message
	if err := json.Unmarshal(replyPayload, &reply); err != nil {
		respondError(w, http.StatusInternalServerError, "malformed reply frame")
		return
	}
	if !reply.Success {
		respondError(w, http.StatusUnprocessableEntity, string(reply.ErrorKind))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(reply.Payload)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "time": time.Now().UTC().Format(time.RFC3339)})
}
