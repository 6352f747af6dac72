package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
)

type statsReader interface {
	URIStats(ctx context.Context, uri string) (calldb.Stats, error)
}

type deps struct {
	registry *orchestrator.Registry
	monitor  http.Handler
	db       statsReader
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/monitor", d.monitor)
	mux.HandleFunc("GET /stages", d.handleStages)
	mux.HandleFunc("GET /calls/stats", d.handleCallStats)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.registry.StatusAll())
}

func (d deps) handleCallStats(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "uri required", http.StatusBadRequest)
		return
	}
	st, err := d.db.URIStats(r.Context(), uri)
	if err != nil {
		slog.Error("call stats", "uri", uri, "error", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"remote_uri":          uri,
		"total_calls":         st.TotalCalls,
		"total_time_seconds":  st.TotalTime.Seconds(),
		"recent_calls":        st.RecentCalls,
		"recent_time_seconds": st.RecentTime.Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json", "error", err)
	}
}
