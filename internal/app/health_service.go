package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/accessory"
	"github.com/tagyoureit/luxord/internal/config"
	"github.com/tagyoureit/luxord/internal/discovery"
	"github.com/tagyoureit/luxord/internal/ledger"
	"github.com/tagyoureit/luxord/internal/luxor"
	"github.com/tagyoureit/luxord/internal/platform"
)

// AccessoryPlatform is what the HTTP surface needs from the platform.
type AccessoryPlatform interface {
	IsReady() bool
	Controller() (discovery.Result, bool)
	Records() []accessory.Record
	Refresh(ctx context.Context) error
	SetCharacteristic(ctx context.Context, id, characteristic string, value any) error
}

// History reads the accessory ledger. *ledger.Ledger implements it.
type History interface {
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	GetByAccessory(accessoryID string, limit int) ([]*ledger.Entry, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HealthService serves health, readiness, metrics and the accessory API.
type HealthService struct {
	cfg      *config.Config
	platform AccessoryPlatform
	history  History
	gatherer prometheus.Gatherer
	server   *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, p AccessoryPlatform, history History, gatherer prometheus.Gatherer) *HealthService {
	return &HealthService{
		cfg:      cfg,
		platform: p,
		history:  history,
		gatherer: gatherer,
	}
}

// Start begins the HTTP server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Router builds the HTTP routes.
func (s *HealthService) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	router.Get("/ready", s.handleReady)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	router.Get("/accessories", s.handleAccessories)
	router.Get("/accessories/{id}", s.handleAccessory)
	router.Get("/accessories/{id}/history", s.handleAccessoryHistory)
	router.Get("/history", s.handleHistory)
	router.Put("/accessories/{id}/{characteristic}", s.handleSet)
	router.Post("/refresh", s.handleRefresh)

	return router
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

func (s *HealthService) handleReady(w http.ResponseWriter, r *http.Request) {
	controller, found := s.platform.Controller()
	if !found || !s.platform.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ready",
		"controller": controller.Name,
		"ip":         controller.IP,
		"dialect":    string(controller.Kind),
	})
}

func (s *HealthService) handleAccessories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.platform.Records())
}

func (s *HealthService) handleAccessory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, rec := range s.platform.Records() {
		if rec.UUID == id {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", platform.ErrUnknownAccessory, id))
}

func (s *HealthService) handleAccessoryHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.history.GetByAccessory(chi.URLParam(r, "id"), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read accessory history")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *HealthService) handleHistory(w http.ResponseWriter, r *http.Request) {
	eventType, ok := ledger.ParseEventType(r.URL.Query().Get("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", r.URL.Query().Get("type")))
		return
	}
	limit, err := historyLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.history.GetByType(eventType, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func historyLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxHistoryLimit), nil
}

func nonNil(entries []*ledger.Entry) []*ledger.Entry {
	if entries == nil {
		return []*ledger.Entry{}
	}
	return entries
}

type setRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *HealthService) handleSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "characteristic")

	tag, ok := luxor.CharacteristicFromName(name)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown characteristic %q", name))
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"value": ...}`))
		return
	}
	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.platform.SetCharacteristic(r.Context(), id, tag, value); err != nil {
		log.Warn().Err(err).Str("accessory", id).Str("characteristic", name).Msg("HTTP command failed")
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HealthService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.platform.Refresh(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshed"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, platform.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, platform.ErrUnknownAccessory):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, platform.ErrInvalidValue),
		errors.Is(err, luxor.ErrUnsupported),
		errors.Is(err, luxor.ErrOutOfRange):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
