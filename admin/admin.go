// Package admin serves the operator HTTP API and its MCP twin. Both expose
// the same operations over the registered watch engines: list domains and
// their targets, run a cycle, check one target and read the history log.
//
// Everything but /health sits behind basic auth with a bcrypt password
// hash. Without a hash the API is not mounted at all.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yu320/NBot/history"
	"github.com/yu320/NBot/scheduler"
	"github.com/yu320/NBot/watch"
)

// ErrUnknownDomain is returned for a domain name with no engine.
var ErrUnknownDomain = errors.New("admin: unknown domain")

// Domain is one registered engine.
type Domain struct {
	Runner   watch.Runner
	Schedule string
}

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Recent(ctx context.Context, domain string, limit int) (history.Page, error)
}

// ScheduleLister reports the registered schedules and their next run.
type ScheduleLister interface {
	Entries() []scheduler.Info
}

// Config configures the server.
type Config struct {
	Domains []Domain
	History HistoryReader // optional
	// Schedules fills DomainInfo.Next. Optional.
	Schedules ScheduleLister
	User      string
	// PasswordHash is a bcrypt hash. Empty disables everything but /health.
	PasswordHash string
	Version      string
	Logger       *slog.Logger
}

// Server implements the admin operations.
type Server struct {
	cfg     Config
	domains map[string]Domain
	logger  *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg, domains: make(map[string]Domain), logger: cfg.Logger}
	for _, d := range cfg.Domains {
		s.domains[d.Runner.Name()] = d
	}
	return s
}

// DomainInfo describes one domain.
type DomainInfo struct {
	Name     string      `json:"name"`
	Schedule string      `json:"schedule"`
	Stats    watch.Stats `json:"stats"`
	// Next is the next scheduled run; zero before the scheduler starts.
	Next time.Time `json:"next,omitzero"`
}

// Domains lists every domain in registration order.
func (s *Server) Domains() []DomainInfo {
	next := make(map[string]time.Time)
	if s.cfg.Schedules != nil {
		for _, e := range s.cfg.Schedules.Entries() {
			next[e.Name] = e.Next
		}
	}
	out := make([]DomainInfo, 0, len(s.cfg.Domains))
	for _, d := range s.cfg.Domains {
		name := d.Runner.Name()
		out = append(out, DomainInfo{Name: name, Schedule: d.Schedule, Stats: d.Runner.Stats(), Next: next[name]})
	}
	return out
}

func (s *Server) runner(name string) (watch.Runner, error) {
	d, ok := s.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return d.Runner, nil
}

// Targets lists a domain's targets.
func (s *Server) Targets(ctx context.Context, domain string) ([]watch.Summary, error) {
	r, err := s.runner(domain)
	if err != nil {
		return nil, err
	}
	return r.Targets(ctx)
}

// Run runs one cycle of domain now.
func (s *Server) Run(ctx context.Context, domain string) (watch.Report, error) {
	r, err := s.runner(domain)
	if err != nil {
		return watch.Report{}, err
	}
	s.logger.Info("admin: cycle requested", "domain", domain)
	return r.RunCycle(ctx)
}

// Check checks one target of domain now.
func (s *Server) Check(ctx context.Context, domain, id string) (watch.Outcome, error) {
	r, err := s.runner(domain)
	if err != nil {
		return watch.Outcome{}, err
	}
	return r.Check(ctx, id)
}

// History returns recent history, optionally for one domain.
func (s *Server) History(ctx context.Context, domain string, limit int) (history.Page, error) {
	if s.cfg.History == nil {
		return history.Page{}, nil
	}
	if domain != "" {
		if _, err := s.runner(domain); err != nil {
			return history.Page{}, err
		}
	}
	return s.cfg.History.Recent(ctx, domain, limit)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, securityHeaders, s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
	})
	if s.cfg.PasswordHash == "" {
		s.logger.Warn("admin: no password hash configured, API disabled")
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(s.cfg.User, s.cfg.PasswordHash))

		r.Get("/api/domains", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Domains())
		})
		r.Route("/api/domains/{domain}", func(r chi.Router) {
			r.Get("/targets", func(w http.ResponseWriter, r *http.Request) {
				out, err := s.Targets(r.Context(), chi.URLParam(r, "domain"))
				respond(w, out, err)
			})
			r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
				out, err := s.Run(r.Context(), chi.URLParam(r, "domain"))
				respond(w, out, err)
			})
			r.Post("/check/{id}", func(w http.ResponseWriter, r *http.Request) {
				out, err := s.Check(r.Context(), chi.URLParam(r, "domain"), chi.URLParam(r, "id"))
				respond(w, out, err)
			})
		})
		r.Get("/api/history", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			out, err := s.History(r.Context(), r.URL.Query().Get("domain"), limit)
			respond(w, out, err)
		})
		r.Handle("/mcp", s.MCPHandler())
	})
	return r
}

func respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	writeError(w, statusOf(err), err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownDomain), errors.Is(err, watch.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, watch.ErrCycleRunning):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
