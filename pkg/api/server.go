package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilsec/vigil/pkg/controller"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
)

// Server is the daemon's HTTP surface: liveness and readiness probes,
// Prometheus metrics, the controller event stream and the system
// performance reports. It carries no authentication; bind it to
// loopback or protect it at the network layer.
type Server struct {
	controller *controller.Controller
	mux        *http.ServeMux
	srv        *http.Server
	logger     zerolog.Logger
}

// NewServer builds the surface around a wired controller.
func NewServer(c *controller.Controller) *Server {
	mux := http.NewServeMux()
	s := &Server{
		controller: c,
		mux:        mux,
		logger:     log.WithComponent("api"),
	}

	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/system/performance", s.performanceHandler)
	mux.HandleFunc("/system/performance/types", s.performanceTypesHandler)
	mux.HandleFunc("/system/scanners", s.scannersHandler)

	return s
}

// Handler returns the routing table for embedding in another listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Stop or a listener error. No write
// timeout: /events holds its response open indefinitely.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http surface listening")

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// eventsHandler streams controller events as newline-delimited JSON.
// An optional types parameter narrows the stream to a comma-separated
// set of event types. The stream ends when the client goes away.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	broker := s.controller.Events()
	if broker == nil {
		http.Error(w, "event stream not enabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := parseTypeFilter(r.URL.Query().Get("types"))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub:
			if !open {
				return
			}
			if len(filter) > 0 && !filter[event.Type] {
				continue
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseTypeFilter(spec string) map[events.EventType]bool {
	if spec == "" {
		return nil
	}
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(spec, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.EventType(t)] = true
		}
	}
	return filter
}

// performanceTypesHandler lists the performance reports available.
func (s *Server) performanceTypesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	types, err := s.controller.PerformanceTypes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, types)
}

// performanceHandler renders one performance report. start and end are
// Unix seconds; a missing start means the last 24 hours, a missing end
// means the generator's default window.
func (s *Server) performanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name parameter required", http.StatusBadRequest)
		return
	}

	start := time.Now().Add(-24 * time.Hour)
	var end time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "start must be unix seconds", http.StatusBadRequest)
			return
		}
		start = time.Unix(sec, 0)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "end must be unix seconds", http.StatusBadRequest)
			return
		}
		end = time.Unix(sec, 0)
	}

	report, err := s.controller.Performance(r.Context(), name, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, report)
}

// scannersHandler reports the reachability of every configured
// scanner. Probes run against the scanners themselves and their
// outcomes are cached briefly, so polling this route is cheap.
func (s *Server) scannersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statuses, err := s.controller.VerifyScanners(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, statuses)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("response write failed")
	}
}
