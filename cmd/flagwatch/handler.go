package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/matt-riley/flagbind"
	"github.com/matt-riley/flagbind/internal/metrics"
	"github.com/matt-riley/flagbind/internal/middleware"
)

type flagsResponse struct {
	Flags      flagbind.FlagView   `json:"flags"`
	FlagKeyMap flagbind.FlagKeyMap `json:"flag_key_map"`
	Error      string              `json:"error,omitempty"`
}

type flagResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// newHTTPHandler routes the flagwatch endpoints. Every request carries src
// in its context so handlers resolve it the way library consumers do.
func newHTTPHandler(src flagbind.Source, m *metrics.Metrics, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", m.InstrumentHandler("/healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /flags", m.InstrumentHandler("/flags", http.HandlerFunc(handleFlags)))
	mux.Handle("GET /flags/{key}", m.InstrumentHandler("/flags/{key}", http.HandlerFunc(handleFlag)))

	return middleware.RequestLogging(log)(flagbind.Middleware(src)(mux))
}

func sourceFrom(r *http.Request) flagbind.Source {
	src, _ := flagbind.FromContext(r.Context())
	return src
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := flagbind.ErrorFrom(sourceFrom(r)); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFlags lists the current snapshot without reporting evaluations.
func handleFlags(w http.ResponseWriter, r *http.Request) {
	src := sourceFrom(r)
	if src == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no flag provider"})
		return
	}

	snap := src.Snapshot()
	resp := flagsResponse{Flags: snap.Flags, FlagKeyMap: snap.FlagKeyMap}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFlag reads one flag through the view, which reports an evaluation
// to the client.
func handleFlag(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok := flagbind.FlagsFrom(sourceFrom(r)).Get(key)
	if !ok {
		middleware.LoggerFromContext(r.Context()).Debug("unknown flag requested", "key", key)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "flag not found"})
		return
	}
	writeJSON(w, http.StatusOK, flagResponse{Key: key, Value: value})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
