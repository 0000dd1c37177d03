// Package controllerapi exposes the controller's HTTP surface: trigger a
// bulk scan against a posted target list, and poll a bulk scan's live
// progress. Routing and middleware follow anstrom-scanorama's
// internal/api.Server (gorilla/mux + gorilla/handlers), trimmed to the two
// operations this system needs.
package controllerapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/publisher"
)

// Monitor is the subset of the progress monitor the API reports against.
type Monitor interface {
	ETA(bulkScanID string) (time.Duration, bool)
}

// API is the controller's HTTP surface.
type API struct {
	publisher *publisher.Publisher
	monitor   Monitor
	opts      publisher.Options
	logger    *logging.Logger
	router    *mux.Router
	startTime time.Time
}

// New builds an API and wires its routes. opts is applied to every
// trigger request; per-request overrides are not yet supported.
func New(pub *publisher.Publisher, mon Monitor, opts publisher.Options, logger *logging.Logger) *API {
	a := &API{
		publisher: pub,
		monitor:   mon,
		opts:      opts,
		logger:    logger,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	a.setupRoutes()
	return a
}

// Router returns the configured handler, ready to serve.
func (a *API) Router() http.Handler {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.Use(a.recoveryMiddleware)
	a.router.Use(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
	))

	api := a.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", a.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/bulk-scans", a.triggerHandler).Methods(http.MethodPost)
	api.HandleFunc("/bulk-scans/{id}", a.statusHandler).Methods(http.MethodGet)

	a.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))
}

func (a *API) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				a.logger.ErrorBus("panic in controller API handler", fmt.Errorf("%v", err))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// livenessHandler reports that the process is up.
func (a *API) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(a.startTime).String(),
	})
}

// triggerRequest is the body of a bulk-scan trigger request.
type triggerRequest struct {
	Name       string              `json:"name"`
	ScanConfig bulkscan.ScanConfig `json:"scan_config"`
	Monitored  bool                `json:"monitored"`
	NotifyURL  string              `json:"notify_url,omitempty"`
	Targets    []string            `json:"targets"`
}

type triggerResponse struct {
	BulkScanID string `json:"bulk_scan_id"`
	Targets    int    `json:"targets_given"`
	Published  int    `json:"scan_jobs_published"`
}

// triggerHandler publishes the posted target list as a new bulk scan.
func (a *API) triggerHandler(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.Name == "" || len(req.Targets) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and targets are required"})
		return
	}

	draft := bulkscan.NewDraft(req.Name, req.ScanConfig, req.Monitored, req.NotifyURL, time.Now())
	scan, err := a.publisher.Publish(r.Context(), draft, req.Targets, a.opts)
	if err != nil {
		a.logger.ErrorPublish("triggering bulk scan via API failed", req.Name, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "publishing bulk scan failed"})
		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{
		BulkScanID: scan.ID,
		Targets:    scan.TargetsGiven,
		Published:  scan.ScanJobsPublished,
	})
}

type statusResponse struct {
	BulkScanID string `json:"bulk_scan_id"`
	ETASeconds int64  `json:"eta_seconds,omitempty"`
	ETAKnown   bool   `json:"eta_known"`
}

// statusHandler reports a bulk scan's live ETA, as tracked by the progress
// monitor. It reports ETAKnown=false for a bulk scan that already finished
// or was never monitored, rather than distinguishing those cases: the
// monitor drops a bulk scan's tracker as soon as it finalizes.
func (a *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	eta, ok := a.monitor.ETA(id)
	writeJSON(w, http.StatusOK, statusResponse{
		BulkScanID: id,
		ETASeconds: int64(eta.Seconds()),
		ETAKnown:   ok,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
