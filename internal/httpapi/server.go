package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/service"
	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

type Dependencies struct {
	Logger        *log.Logger
	Addr          string
	LedgerService *service.LedgerService
	HealthService *service.HealthService
}

// Server exposes the read-only inspection surface plus the explicit sync
// trigger.  Administrative mutations are Go functions on the ledger
// service, consumed by the (external) admin layer, not endpoints here.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	ledgerSvc  *service.LedgerService
	healthSvc  *service.HealthService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		ledgerSvc: d.LedgerService,
		healthSvc: d.HealthService,
	}

	mux.HandleFunc("GET /v1/snapshots/{id}", s.handleInspectSnapshot)
	mux.HandleFunc("POST /v1/snapshots/{id}/sync", s.handleSync)
	mux.HandleFunc("GET /v1/access-points/{id}/dirty", s.handleDirty)
	mux.HandleFunc("GET /v1/health/{id}", s.handleHealth)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleInspectSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.ledgerSvc.InspectSnapshot(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SyncResponse reports the outcome of an explicit sync cycle.  Synced is
// false when the ledger compiled fine but the publish did not go out; the
// access point stays dirty and the resyncer will retry.
type SyncResponse struct {
	Snapshot types.Snapshot `json:"snapshot"`
	Synced   bool           `json:"synced"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.ledgerSvc.RequestSnapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrPublishFailed) {
			writeJSON(w, http.StatusAccepted, SyncResponse{Snapshot: snap, Synced: false})
			return
		}
		s.writeServiceError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Snapshot: snap, Synced: true})
}

func (s *Server) handleDirty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	dirty, err := s.ledgerSvc.Dirty().IsDirty(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "dirty", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_point_id": id,
		"dirty":           dirty,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthSvc == nil {
		writeError(w, http.StatusNotFound, "health_disabled", "device health reporting is not enabled")
		return
	}
	id := r.PathValue("id")

	rec, ok, err := s.healthSvc.Latest(r.Context(), id)
	if err != nil {
		s.logger.Printf("health error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no_report", "no recent health report for this access point")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownAccessPoint):
		writeError(w, http.StatusNotFound, "unknown_access_point", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "access ledger unavailable; retry")
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
