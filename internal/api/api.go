// Package api serves the smartboot HTTP API: address resolution, the
// combination codec, navigation rewriting, probes and stored runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/smartboot"
	"github.com/hazyhaar/smartboot/bootstrap"
	"github.com/hazyhaar/smartboot/internal/idgen"
	"github.com/hazyhaar/smartboot/internal/kit"
)

const (
	// maxRequestBody bounds POST bodies.
	maxRequestBody = 64 << 10
	// probeTimeout stays under the server's write timeout.
	probeTimeout = 110 * time.Second
)

// Server holds the API dependencies.
type Server struct {
	prober *smartboot.Prober
	runs   smartboot.RunReader
	logger *slog.Logger
	probe  kit.Endpoint
}

// New creates a Server. runs may be nil, in which case the run routes
// answer 503.
func New(prober *smartboot.Prober, runs smartboot.RunReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{prober: prober, runs: runs, logger: logger}
	mw := kit.Chain(kit.Logging(logger, "probe"), kit.Timeout(probeTimeout))
	s.probe = mw(func(ctx context.Context, req any) (any, error) {
		o, err := prober.Probe(ctx, *req.(*smartboot.ProbeRequest))
		if o == nil {
			return nil, err
		}
		return o, err
	})
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Use(SecurityHeaders(apiHeaders))
	r.Use(MaxBody(maxRequestBody))
	r.Use(RequestID(s.logger, idgen.Prefixed("req_", idgen.NanoID(12))))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/resolve", s.handleResolve)
		r.Get("/combination", s.handleCombination)
		r.Get("/navigate", s.handleNavigate)
		r.Post("/probe", s.handleProbe)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// GET /api/resolve?url=&cookie=
// Without a cookie parameter the request's own cookies are used.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	writeJSON(w, http.StatusOK, s.prober.Resolve(pageURL, cookieParam(r)))
}

// GET /api/combination?cookie=
func (s *Server) handleCombination(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"token": bootstrap.EncodeCombination(cookieParam(r)),
	})
}

// GET /api/navigate?current=&href=
// Redirects to the current page carrying its preview parameters, but only
// when that page is served from this host. Otherwise, or when nothing
// needs preserving, the answer is 200 with the target and the caller
// navigates itself.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	href := q.Get("href")
	if href == "" {
		writeError(w, http.StatusBadRequest, errors.New("href is required"))
		return
	}
	target, rewritten := bootstrap.PreserveParams(q.Get("current"), href)
	if !rewritten || !sameHost(target, r.Host) {
		writeJSON(w, http.StatusOK, map[string]any{"target": target, "rewritten": rewritten})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// sameHost reports whether target is an http(s) address on host.
func sameHost(target, host string) bool {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return host != "" && strings.EqualFold(u.Host, host)
}

// POST /api/probe
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req smartboot.ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	resp, err := s.probe(kit.WithTransport(r.Context(), "http"), &req)
	switch {
	case errors.Is(err, smartboot.ErrUnknownDriver):
		writeError(w, http.StatusBadRequest, err)
	case err != nil && resp != nil:
		// The page failed to load; the outcome records why.
		writeJSON(w, http.StatusBadGateway, resp)
	case err != nil:
		requestLogger(r.Context(), s.logger).Error("api: probe", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// GET /api/runs?limit=
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run store disabled"))
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		requestLogger(r.Context(), s.logger).Error("api: list runs", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*smartboot.Outcome{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GET /api/runs/{id}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run store disabled"))
		return
	}
	o, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		requestLogger(r.Context(), s.logger).Error("api: get run", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GET /api/stats
// Counts stored runs by what revealed the page.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run store disabled"))
		return
	}
	counts, err := s.runs.TriggerCounts(r.Context())
	if err != nil {
		requestLogger(r.Context(), s.logger).Error("api: trigger counts", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": counts})
}

func cookieParam(r *http.Request) string {
	if c, ok := r.URL.Query()["cookie"]; ok {
		return c[0]
	}
	return bootstrap.CookieString(r.Cookies())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
