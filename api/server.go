// Package api is a thin HTTP/WS front end over compiler.Compile and
// binder.Bind. It knows nothing about any particular contract's business
// logic beyond the illustrative examples in package contracts.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sapio-lang/sapio/binder"
)

// Server is the HTTP/WS front end over the compiler and binder.
type Server struct {
	router     *mux.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server

	// txIndex backs every /v1/bind and /ws call. nil means each bind
	// request gets its own fresh in-memory index (the stateless default);
	// cmd/sapiod wires a txstore.PostgresTxIndex here when DATABASE_URL
	// is set, so repeated binds against the same outputs share history.
	txIndex binder.TxIndex
}

// NewServer builds a stateless Server: every bind request gets a fresh
// in-memory transaction index.
func NewServer() *Server {
	return NewServerWithTxIndex(nil)
}

// NewServerWithTxIndex builds a Server whose binds share idx across
// requests. Pass nil for the stateless default.
func NewServerWithTxIndex(idx binder.TxIndex) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		txIndex: idx,
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying http.Handler, for embedding in another
// server's mux or for driving requests directly in tests via
// httptest.NewRecorder without a listening socket.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/compile", s.handleCompile).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/bind", s.handleBind).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("sapio api: listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"known_contracts": knownContractNames(),
	})
}

// handleWebSocket streams bind results over a long-lived connection;
// since binding is synchronous, each request is answered with the same
// result handleBind would produce, framed as one message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("sapio api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, conn)

	for {
		var req bindRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		program, err := s.runBind(req)
		if err != nil {
			conn.WriteJSON(rpcErrBody(err))
			continue
		}
		conn.WriteJSON(map[string]interface{}{"result": map[string]interface{}{"Ok": program}})
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
