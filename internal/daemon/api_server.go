package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"waypoint/internal/api"
	"waypoint/internal/capture"
	"waypoint/internal/config"
	"waypoint/internal/logging"
	"waypoint/internal/queue"
	"waypoint/internal/services"
)

const maxCaptureBody = 16 << 10

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	return &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
}

func newRouter(d *Daemon, token string, logger *slog.Logger) http.Handler {
	h := &handlers{daemon: d, logger: logging.NewComponentLogger(logger, "api-server")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(requestID)

	r.Get("/api/health", h.health)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/api/status", h.status)
		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", h.listQueue)
			r.Get("/stats", h.queueStats)
			r.Delete("/", h.clearQueue)
			r.Delete("/synced", h.clearSynced)
		})
		r.Post("/api/scans", h.createScan)
		r.Post("/api/sync", h.syncNow)
	})
	return r
}

// requestID echoes the chi request id and stores it for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           newRouter(s.daemon, s.daemon.cfg.Paths.APIToken, s.logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.daemon.cfg.ServerTimeout() + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.daemon.cfg.Paths.APIToken != ""),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type handlers struct {
	daemon *Daemon
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.daemon.DatabaseHealth(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusOK, queue.DatabaseHealth{Backend: h.daemon.cfg.Queue.Backend, Error: err.Error()})
		return
	}
	code := http.StatusOK
	if health.Error != "" || (health.DatabaseExists && !health.IntegrityCheck) {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, health)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.daemon.Status(r.Context()))
}

func (h *handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			if strings.TrimSpace(value) == "" {
				continue
			}
			status, ok := queue.ParseStatus(value)
			if !ok {
				h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
	}
	records := h.daemon.ListQueue(r.Context(), statuses)
	h.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: api.FromRecords(records)})
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.FromStats(h.daemon.QueueStats(r.Context())))
}

func (h *handlers) createScan(w http.ResponseWriter, r *http.Request) {
	var req api.CaptureRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCaptureBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req = req.Normalized()

	result, err := h.daemon.Capture(r.Context(), capture.Request{
		TagIdentifier:  req.TagIdentifier,
		CheckpointID:   req.CheckpointID,
		CheckpointName: req.CheckpointName,
		Coordinates:    req.Coordinates(),
	})
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrNoCheckpoint):
		h.writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	case errors.Is(err, services.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		h.logger.Error("scan capture failed", logging.Error(err), logging.String(logging.FieldEventType, "api_capture_failed"))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := api.CaptureResponse{Record: api.FromRecord(result.Record), Duplicate: result.Duplicate}
	if result.Duplicate {
		h.writeJSON(w, http.StatusConflict, resp)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	out := h.daemon.SyncNow(r.Context())
	h.writeJSON(w, http.StatusOK, api.FromOutcome(out))
}

func (h *handlers) clearQueue(w http.ResponseWriter, r *http.Request) {
	removed, key, err := h.daemon.ClearQueue(r.Context())
	h.writeClear(w, removed, key, err)
}

func (h *handlers) clearSynced(w http.ResponseWriter, r *http.Request) {
	removed, key, err := h.daemon.ClearSynced(r.Context())
	h.writeClear(w, removed, key, err)
}

func (h *handlers) writeClear(w http.ResponseWriter, removed int, key string, err error) {
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed, ArchiveKey: key})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, api.ErrorResponse{Error: message})
}
