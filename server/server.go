// Package server exposes the voice session hub over HTTP: the /ws/voice
// websocket, Prometheus metrics, and a health check.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/session"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	defaultIdleTimeout = 120 * time.Second

	// defaultReadLimit caps a single inbound websocket frame. Text frames are
	// further bounded by the session's own limit.
	defaultReadLimit int64 = 1 << 20

	minAssistIntensity = 1
	maxAssistIntensity = 3
)

// ErrUnsupportedClient is returned by CheckClientVersion for a version
// outside the configured constraint.
var ErrUnsupportedClient = errors.New("unsupported client version")

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address for ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithReadLimit caps inbound websocket frames.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// WithCheckOrigin overrides the websocket origin check. By default every
// origin is accepted.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// WithBaseContext sets the context sessions run under. Cancelling it stops
// every session with server_shutdown.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

// Server routes HTTP traffic to a session hub.
type Server struct {
	hub        *session.Hub
	constraint *semver.Constraints
	upgrader   websocket.Upgrader
	metrics    http.Handler
	readLimit  int64
	addr       string
	base       context.Context

	httpSrvMu sync.Mutex
	httpSrv   *http.Server
}

// New creates a server. An empty clientConstraint accepts every client.
func New(hub *session.Hub, clientConstraint string, opts ...Option) (*Server, error) {
	s := &Server{
		hub:       hub,
		readLimit: defaultReadLimit,
		addr:      ":8080",
		base:      context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if c := strings.TrimSpace(clientConstraint); c != "" {
		constraint, err := semver.NewConstraint(c)
		if err != nil {
			return nil, err
		}
		s.constraint = constraint
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/voice", s.handleVoice)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return otelhttp.NewHandler(mux, "turnsync")
}

// ListenAndServe serves on the configured address.
func (s *Server) ListenAndServe() error {
	return s.serve(func(srv *http.Server) error {
		srv.Addr = s.addr
		return srv.ListenAndServe()
	})
}

// Serve serves on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(func(srv *http.Server) error { return srv.Serve(ln) })
}

func (s *Server) serve(run func(*http.Server) error) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()
	return run(srv)
}

// Shutdown stops accepting requests. Hijacked websocket connections are not
// tracked by net/http; they end when the base context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.CheckClientVersion(q.Get("client_version")); err != nil {
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}
	p := ParseParams(q.Get("room_id"), q.Get("participant"), q.Get("assist_intensity"), q.Get("session_id"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(s.readLimit)
	s.hub.Serve(s.base, ws, p)
}

// CheckClientVersion validates a client-reported semver against the
// configured constraint. An empty version is always accepted.
func (s *Server) CheckClientVersion(version string) error {
	version = strings.TrimSpace(version)
	if s.constraint == nil || version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Join(ErrUnsupportedClient, err)
	}
	if ok, errs := s.constraint.Validate(v); !ok {
		return errors.Join(append([]error{ErrUnsupportedClient}, errs...)...)
	}
	return nil
}

// ParseParams normalizes the /ws/voice query. A non-empty room id that is
// not a UUIDv4 is replaced with a fresh one and flagged as reassigned.
func ParseParams(roomID, participant, intensity, sessionID string) session.Params {
	p := session.Params{
		SessionID:       strings.TrimSpace(sessionID),
		Participant:     session.ParticipantCandidate,
		AssistIntensity: roomstate.DefaultAssistIntensity,
	}
	p.RoomID, p.RoomReassigned = NormalizeRoomID(roomID)

	if strings.EqualFold(strings.TrimSpace(participant), session.ParticipantInterviewer) {
		p.Participant = session.ParticipantInterviewer
	}
	if n, err := strconv.Atoi(strings.TrimSpace(intensity)); err == nil {
		p.AssistIntensity = min(max(n, minAssistIntensity), maxAssistIntensity)
	}
	return p
}

// NormalizeRoomID lowercases raw and checks it is a UUIDv4. Empty input
// means no room.
func NormalizeRoomID(raw string) (roomID string, reassigned bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	if id, err := uuid.Parse(raw); err == nil && id.Version() == 4 && id.String() == raw {
		return raw, false
	}
	return uuid.NewString(), true
}
