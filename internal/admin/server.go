// Package admin serves the operator HTTP API under /admin/api. Every route
// requires the shared operator token; the lobby does the actual work.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/whisper/pairing/internal/ban"
	"github.com/whisper/pairing/internal/lobby"
	"github.com/whisper/pairing/internal/ratelimit"
)

// Defaults applied to ban requests that omit them.
const (
	DefaultBanMinutes = 60
	DefaultReason     = "admin"

	// MaxBanMinutes is one year.
	MaxBanMinutes = 365 * 24 * 60
)

// maxBodyBytes bounds operator request bodies.
const maxBodyBytes = 16 << 10

// Controller is the set of operator actions. lobby.Hub implements it.
type Controller interface {
	Stats(ctx context.Context) (lobby.Stats, error)
	Kick(ctx context.Context, id string) error
	BanConnection(ctx context.Context, id string, d time.Duration, reason string) (ban.Record, error)
	BanAddress(ctx context.Context, address string, d time.Duration, reason string) (ban.Record, error)
	UnbanAddress(ctx context.Context, address string) error
	Watch(ctx context.Context, id string) (bool, error)
}

// Config captures the operator API settings.
type Config struct {
	Token   string
	Limiter ratelimit.Limiter // optional per-client throttle
	Rule    ratelimit.Rule
	Timeout time.Duration // per-request bound on controller calls
}

// Server is the operator API.
type Server struct {
	ctl      Controller
	verifier TokenVerifier
	limiter  ratelimit.Limiter
	rule     ratelimit.Rule
	timeout  time.Duration

	router http.Handler
}

// New builds the router.
func New(ctl Controller, cfg Config) *Server {
	if cfg.Rule.Limit <= 0 {
		cfg.Rule = ratelimit.RuleAdmin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &Server{
		ctl:      ctl,
		verifier: TokenVerifier{Expected: cfg.Token},
		limiter:  cfg.Limiter,
		rule:     cfg.Rule,
		timeout:  cfg.Timeout,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/admin/api", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.throttle)
		api.Use(s.bound)

		api.Get("/stats", s.handleStats)
		api.Post("/kick", s.handleKick)
		api.Post("/ban-connection", s.handleBanConnection)
		api.Post("/ban", s.handleBan)
		api.Post("/unban", s.handleUnban)
		api.Post("/watch", s.handleWatch)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.verifier.Verify(r.Header.Get(TokenHeader)); err != nil {
			log.Printf("[admin] rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, err := s.limiter.Allow(r.Context(), remoteHost(r), s.rule)
			if err != nil {
				log.Printf("[admin] limiter error: %v", err)
			}
			if !allowed {
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// bound limits how long a request may wait on the lobby.
func (s *Server) bound(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type connRequest struct {
	ID string `json:"id"`
}

type banConnectionRequest struct {
	ID      string `json:"id"`
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

type banRequest struct {
	Address string `json:"address"`
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

type unbanRequest struct {
	Address string `json:"address"`
}

type banResponse struct {
	OK      bool      `json:"ok"`
	Address string    `json:"address"`
	Until   time.Time `json:"until"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctl.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	if err := s.ctl.Kick(r.Context(), req.ID); err != nil {
		s.fail(w, "kick", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleBanConnection(w http.ResponseWriter, r *http.Request) {
	var req banConnectionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	d, reason, err := banTerms(req.Minutes, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.ctl.BanConnection(r.Context(), req.ID, d, reason)
	if err != nil {
		s.fail(w, "ban-connection", err)
		return
	}
	writeJSON(w, http.StatusOK, banResponse{OK: true, Address: rec.Address, Until: rec.Until})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if !decode(w, r, &req) {
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	d, reason, err := banTerms(req.Minutes, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.ctl.BanAddress(r.Context(), req.Address, d, reason)
	if err != nil {
		s.fail(w, "ban", err)
		return
	}
	writeJSON(w, http.StatusOK, banResponse{OK: true, Address: rec.Address, Until: rec.Until})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req unbanRequest
	if !decode(w, r, &req) {
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	if err := s.ctl.UnbanAddress(r.Context(), req.Address); err != nil {
		s.fail(w, "unban", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	watched, err := s.ctl.Watch(r.Context(), req.ID)
	if err != nil {
		s.fail(w, "watch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "watched": watched})
}

// fail maps a controller error to a status code.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, lobby.ErrUnknownParticipant):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, lobby.ErrStopped):
		log.Printf("[admin] %s: %v", op, err)
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Printf("[admin] %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

// banTerms applies the request defaults.
func banTerms(minutes int, reason string) (time.Duration, string, error) {
	if minutes < 0 || minutes > MaxBanMinutes {
		return 0, "", fmt.Errorf("minutes must be between 0 and %d, got %d", MaxBanMinutes, minutes)
	}
	if minutes == 0 {
		minutes = DefaultBanMinutes
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}
	return time.Duration(minutes) * time.Minute, reason, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
