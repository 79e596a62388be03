package api

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/runtime"
)

// NewRouter wires the public routes and middleware stack.
func NewRouter(rt *runtime.GovernanceRuntime) http.Handler {
	r := mux.NewRouter()

	r.Handle("/api/chat", &ChatHandler{RT: rt}).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/healthz", healthz(rt)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/internal/usage", usageHandler(rt)).Methods(http.MethodGet)

	var h http.Handler = r
	h = CORS(rt.Settings.CORSOrigins)(h)
	h = AccessLog(h)
	h = WithRequestID(h)
	return h
}

// healthz reports liveness plus dependency reachability. The process
// stays healthy when optional stores are absent.
func healthz(rt *runtime.GovernanceRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "ok",
			"version": rt.Settings.BuildVersion,
		}
		if rt.DB != nil {
			if err := rt.DB.Ping(r.Context()); err != nil {
				status["database"] = "unreachable"
			} else {
				status["database"] = "ok"
			}
		}
		if head := rt.Audit.Head(); head != "" {
			status["audit_head"] = head
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}

// usageHandler exposes the recent usage ring to loopback callers only.
func usageHandler(rt *runtime.GovernanceRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": rt.Usage.Snapshot(),
			"count":   rt.Usage.Len(),
		})
	}
}
