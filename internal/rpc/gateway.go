package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Gateway serves the same JSON-RPC contract over WebSocket for remote
// clients. Each text frame carries one envelope; responses come back as
// one frame each, in completion order.
type Gateway struct {
	server *Server
	logger *slog.Logger

	addr   string
	secret []byte // nil disables auth

	mu   sync.Mutex
	http *http.Server
}

// NewGateway creates a websocket gateway bound to addr. A nil secret
// disables token checks.
func NewGateway(server *Server, addr string, secret []byte, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		server: server,
		logger: logger.With("component", "gateway"),
		addr:   addr,
		secret: secret,
	}
}

// Start begins accepting connections. It returns once the listener is
// bound; serving continues in the background until Stop.
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", g.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", g.addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.mu.Lock()
	g.http = srv
	g.addr = ln.Addr().String()
	g.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve failed", "error", err)
		}
	}()

	if g.secret == nil {
		g.logger.Warn("gateway auth disabled, accepting unauthenticated clients")
	}
	g.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.http == nil {
		return ""
	}
	return g.addr
}

// Stop shuts the listener down and closes active connections.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.http
	g.http = nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if g.secret != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				tokenStr = auth[7:]
			}
		}
		if tokenStr == "" {
			http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
			return
		}
		clientID, err := ValidateToken(tokenStr, g.secret)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		g.logger.Info("gateway client authenticated", "client", clientID, "remote", r.RemoteAddr)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are the deployment proxy's job
	})
	if err != nil {
		g.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")
	conn.SetReadLimit(maxLineBytes)

	g.logger.Info("gateway client connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			g.logger.Debug("gateway read ended", "error", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		inflight.Add(1)
		go func(raw []byte) {
			defer inflight.Done()
			resp := g.server.Handle(ctx, raw)
			if resp == nil {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				g.logger.Error("encode response", "error", err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				g.logger.Debug("gateway write failed", "error", err)
			}
		}(raw)
	}
}
