// Package server exposes the shield over a small HTTP API
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bnema/wave-shield/internal/models"
	"github.com/bnema/wave-shield/internal/shield"
	"github.com/bnema/wave-shield/internal/store"
)

// ReloadFunc reloads filters from the configured lists
type ReloadFunc func(ctx context.Context) (store.LoadResult, error)

// Server serves check, sanitize, reload, stats and metrics endpoints
type Server struct {
	shield   *shield.Shield
	reload   ReloadFunc
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	mux      *http.ServeMux
}

// New creates a server. reload may be nil, in which case POST /reload only
// accepts rules in the request body.
func New(s *shield.Shield, reload ReloadFunc, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	srv := &Server{
		shield:   s,
		reload:   reload,
		gatherer: gatherer,
		log:      log,
		mux:      http.NewServeMux(),
	}
	srv.mux.HandleFunc("GET /check", srv.handleCheck)
	srv.mux.HandleFunc("GET /sanitize", srv.handleSanitize)
	srv.mux.HandleFunc("POST /reload", srv.handleReload)
	srv.mux.HandleFunc("GET /stats", srv.handleStats)
	if gatherer != nil {
		srv.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return srv
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http api listening")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type checkResponse struct {
	shield.Verdict
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	rt := models.ResourceOther
	if t := q.Get("type"); t != "" {
		var ok bool
		if rt, ok = models.ParseResourceType(t); !ok {
			writeError(w, http.StatusBadRequest, "unknown resource type: "+t)
			return
		}
	}

	v := s.shield.Filter(target, q.Get("source"), rt)
	resp := checkResponse{Verdict: v}
	if v.Err != nil {
		resp.Error = v.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.shield.Sanitize(target)})
}

// handleReload loads rules from the request body when one is sent, and from
// the configured lists otherwise
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var (
		res store.LoadResult
		err error
	)

	lines, readErr := readBody(r)
	switch {
	case readErr != nil:
		writeError(w, http.StatusBadRequest, readErr.Error())
		return
	case len(lines) > 0:
		res, err = s.shield.LoadFilters(lines)
	case s.reload != nil:
		res, err = s.reload(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "no rules in body and no configured lists")
		return
	}

	if err != nil {
		s.log.Error().Err(err).Msg("reload failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shield.Stats())
}

func readBody(r *http.Request) ([]string, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(http.MaxBytesReader(nil, r.Body, 50*1024*1024))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
