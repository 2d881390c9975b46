// Package httpapi serves the command gateway and the agent bridge
// endpoint. Every failure leaving this package is one StructuredError;
// callers branch on error.code, not on HTTP status.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/browsercx/bridge"
	"pkt.systems/browsercx/core"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

const maxCommandBodySize = 1 << 20

// Server serves the HTTP command gateway.
type Server struct {
	cfg      Config
	service  *core.Service
	channel  *bridge.Channel
	upgrader websocket.Upgrader
}

// NewServer constructs the gateway.
func NewServer(cfg Config, service *core.Service, channel *bridge.Channel) *Server {
	if cfg.BridgePath == "" {
		cfg.BridgePath = DefaultBridgePath
	}
	return &Server{
		cfg:     cfg,
		service: service,
		channel: channel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns an http.Handler for the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/command", s.requireToken(s.handleCommand))
	mux.HandleFunc(s.cfg.BridgePath, s.handleBridge)
	return withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schema.HealthResponse{
		OK:        true,
		Connected: s.channel.Connected(),
		Time:      time.Now(),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context()).With("remote", clientIP(r))
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error("command handler panic", "panic", recovered)
			writeFailure(w, schema.NewError(schema.KindInternal, "internal failure"))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBodySize))
	if err != nil {
		writeFailure(w, schema.ErrBadRequest("read body: %s", err))
		return
	}
	var req schema.CommandRequest
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		log.Warn("command decode failed", "err", err)
		writeFailure(w, schema.ErrBadRequest("invalid request body: %s", err))
		return
	}

	data, err := s.service.Execute(r.Context(), req)
	if err != nil {
		structured := schema.AsStructured(err)
		log.Warn("command failed", "command", req.Command, "code", structured.Code)
		writeFailure(w, structured)
		return
	}
	log.Info("command ok", "command", req.Command)
	writeJSON(w, http.StatusOK, schema.CommandResponse{OK: true, Data: data})
}

// handleBridge authenticates the token query parameter before any
// WebSocket handshake completes, then hands the connection to the
// channel for the lifetime of the agent session.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	log := pslog.Ctx(r.Context()).With("remote", clientIP(r))
	if !tokenEqual(r.URL.Query().Get("token"), s.cfg.Token) {
		log.Warn("bridge upgrade rejected", "reason", "bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("bridge upgrade failed", "err", err)
		return
	}
	log.Info("bridge upgrade ok")
	s.channel.ServeConn(context.Background(), conn)
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !tokenEqual(strings.TrimSpace(token), s.cfg.Token) {
			pslog.Ctx(r.Context()).Warn("unauthorized request", "remote", clientIP(r))
			writeFailure(w, schema.ErrUnauthorized())
			return
		}
		next(w, r)
	}
}

func tokenEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeFailure maps the taxonomy onto the intentionally coarse status
// split: UNAUTHORIZED is 401, everything else 400.
func writeFailure(w http.ResponseWriter, structured *schema.StructuredError) {
	status := http.StatusBadRequest
	if structured.Code == schema.KindUnauthorized {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, schema.CommandResponse{OK: false, Error: structured})
}
