// Package server exposes the dashboard API and websocket feed alongside the
// proxy catch-all.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenlens/gateway/internal/broadcast"
	"github.com/tokenlens/gateway/internal/persist"
	"github.com/tokenlens/gateway/internal/proxy"
	"github.com/tokenlens/gateway/internal/store"
)

// Server routes dashboard requests to the local API and everything else to
// the proxy engine.
type Server struct {
	engine  *proxy.Engine
	entries *store.Store
	hub     *broadcast.Hub
	sink    *persist.Sink // nil when persistence is disabled
	mux     *http.ServeMux
	started time.Time
}

// New assembles the handler tree.
func New(engine *proxy.Engine, entries *store.Store, hub *broadcast.Hub, sink *persist.Sink) *Server {
	s := &Server{
		engine:  engine,
		entries: entries,
		hub:     hub,
		sink:    sink,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/entries", s.local(s.handleEntries))
	s.mux.HandleFunc("GET /api/entries/{id}", s.local(s.handleEntry))
	s.mux.HandleFunc("POST /api/entries/clear", s.local(s.handleClear))
	s.mux.HandleFunc("GET /api/stats", s.local(s.handleStats))
	s.mux.HandleFunc("GET /api/usage/daily", s.local(s.handleDailyUsage))
	s.mux.HandleFunc("POST /api/targets", s.local(s.handleSetTargets))
	s.mux.HandleFunc("GET /api/targets", s.local(s.handleGetTargets))
	s.mux.HandleFunc("GET /ws", s.local(s.handleWebsocket))
	s.mux.Handle("/", engine)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// local restricts a handler to loopback clients. The proxy listens on
// localhost by default, but the introspection surface stays loopback-only
// even when the listener is opened up.
func (s *Server) local(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "local access only"})
			return
		}
		next(w, r)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime_s":  int64(time.Since(s.started).Seconds()),
		"entries":   s.entries.Len(),
		"observers": s.hub.Observers(),
	})
}

// handleEntries lists recent entries newest first, as summaries without
// bodies or header maps.
func (s *Server) handleEntries(w http.ResponseWriter, _ *http.Request) {
	views := s.entries.All()
	summaries := make([]json.RawMessage, 0, len(views))
	for _, v := range views {
		raw, err := v.Summary()
		if err != nil {
			continue
		}
		summaries = append(summaries, raw)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": summaries, "count": len(summaries)})
}

// handleEntry returns one entry in full, including buffered bodies.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.entries.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entry not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	n := s.entries.Len()
	s.entries.Clear()
	log.Info().Int("cleared", n).Msg("entry store cleared")
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// statsTotals aggregates the in-memory window; the persisted daily endpoint
// covers history beyond it.
type statsTotals struct {
	Requests        int     `json:"requests"`
	Pending         int     `json:"pending"`
	Errors          int     `json:"errors"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CacheReadTokens int64   `json:"cache_read_tokens"`
	CacheWriteToks  int64   `json:"cache_write_tokens"`
	Cost            float64 `json:"cost"`
}

func (t *statsTotals) add(v store.View) {
	t.Requests++
	switch v.State {
	case store.StatePending:
		t.Pending++
	case store.StateError:
		t.Errors++
	}
	if v.Usage != nil {
		t.InputTokens += int64(v.Usage.InputTokens)
		t.OutputTokens += int64(v.Usage.OutputTokens)
		t.CacheReadTokens += int64(v.Usage.CacheReadTokens)
		t.CacheWriteToks += int64(v.Usage.CacheCreationTokens)
	}
	t.Cost += v.CostUSD
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var totals statsTotals
	byProvider := make(map[string]*statsTotals)
	byModel := make(map[string]*statsTotals)
	for _, v := range s.entries.All() {
		totals.add(v)
		pt, ok := byProvider[v.Provider]
		if !ok {
			pt = &statsTotals{}
			byProvider[v.Provider] = pt
		}
		pt.add(v)
		if v.Model != "" {
			mt, ok := byModel[v.Model]
			if !ok {
				mt = &statsTotals{}
				byModel[v.Model] = mt
			}
			mt.add(v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":      totals,
		"by_provider": byProvider,
		"by_model":    byModel,
	})
}

// handleDailyUsage serves persisted per-day aggregates. Defaults to the last
// 30 days when no range is given.
func (s *Server) handleDailyUsage(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return
	}
	now := time.Now()
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = now.Format("2006-01-02")
	}
	if from == "" {
		from = now.AddDate(0, 0, -30).Format("2006-01-02")
	}
	if !validDay(from) || !validDay(to) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from/to must be YYYY-MM-DD"})
		return
	}
	reports, err := s.sink.DailyUsage(from, to)
	if err != nil {
		log.Error().Err(err).Msg("daily usage query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "usage query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "days": reports})
}

func validDay(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// targetPayload mirrors the provider config shape for runtime updates.
type targetPayload struct {
	BaseURL string `json:"base_url"`
	Family  string `json:"family,omitempty"`
	Auth    string `json:"auth,omitempty"`
	Service string `json:"service,omitempty"`
}

// handleSetTargets replaces the provider mapping as a whole unit.
func (s *Server) handleSetTargets(w http.ResponseWriter, r *http.Request) {
	var payload map[string]targetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid target map: " + err.Error()})
		return
	}
	if len(payload) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target map is empty"})
		return
	}
	targets := make(proxy.Targets, len(payload))
	for name, p := range payload {
		if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid base_url for provider " + name})
			return
		}
		targets[name] = proxy.NewTarget(p.BaseURL, p.Family, p.Auth, p.Service)
	}
	s.engine.UpdateTargets(targets)
	writeJSON(w, http.StatusOK, map[string]any{"providers": len(targets)})
}

func (s *Server) handleGetTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Targets())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
