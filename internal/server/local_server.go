package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/client"
	"github.com/TGOO-Worldwide/siliviat-app/internal/controller"
	"github.com/TGOO-Worldwide/siliviat-app/internal/geo"
	"github.com/TGOO-Worldwide/siliviat-app/internal/middleware"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/syncer"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Controller interface {
	HandleCheckin(ctx context.Context, in controller.CheckinInput) (*controller.CheckinResult, error)
	HandleCheckout(ctx context.Context, in controller.CheckoutInput) (*controller.CheckoutResult, error)
	CreateCompany(ctx context.Context, payload json.RawMessage) (*controller.MutationResult, error)
	CreateSale(ctx context.Context, req models.CreateSaleRequest) (*controller.MutationResult, error)
	ActiveVisit() *controller.LocalVisit
}

type Syncer interface {
	SyncPendingEvents(ctx context.Context) syncer.Result
	DiscardPending(ctx context.Context) (int, error)
	Syncing() bool
}

type Connectivity interface {
	IsOnline() bool
	Set(online bool)
}

type Counter interface {
	Count(ctx context.Context) (int, error)
}

// PositionRequest carries what the UI knows about the device position.
// Coordinates win over a reason; with neither, the agent's own locator is
// used.
type PositionRequest struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	NoGpsReason *string  `json:"noGpsReason"`
}

type CheckinRequest struct {
	CompanyID *string `json:"companyId"`
	PositionRequest
}

type StatusResponse struct {
	Online      bool                   `json:"online"`
	Pending     int                    `json:"pending"`
	Syncing     bool                   `json:"syncing"`
	ActiveVisit *controller.LocalVisit `json:"activeVisit"`
}

type Deps struct {
	Controller   Controller
	Syncer       Syncer
	Connectivity Connectivity
	Queue        Counter
	Cache        http.Handler
	Hub          *Hub
}

// LocalServer is the localhost surface the field UI talks to.
type LocalServer struct {
	deps   Deps
	logger *zap.Logger
}

func NewLocalServer(deps Deps, logger *zap.Logger) *LocalServer {
	return &LocalServer{
		deps:   deps,
		logger: logger,
	}
}

func (s *LocalServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(corsHeaders)

	r.Route("/local", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/checkin", s.handleCheckin)
		r.Post("/checkout", s.handleCheckout)
		r.Post("/companies", s.handleCreateCompany)
		r.Post("/sales", s.handleCreateSale)
		r.Post("/sync", s.handleSync)
		r.Delete("/queue", s.handleDiscardQueue)
		r.Post("/connectivity", s.handleConnectivity)
		if s.deps.Hub != nil {
			r.Get("/ws", s.deps.Hub.ServeHTTP)
		}
	})

	if s.deps.Cache != nil {
		r.Get("/*", s.deps.Cache.ServeHTTP)
	}

	return r
}

// corsHeaders lets the UI call the agent from its own origin.
func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *LocalServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *LocalServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Queue.Count(r.Context())
	if err != nil {
		s.logger.Error("Failed to count pending events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to read queue")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Online:      s.deps.Connectivity.IsOnline(),
		Pending:     pending,
		Syncing:     s.deps.Syncer.Syncing(),
		ActiveVisit: s.deps.Controller.ActiveVisit(),
	})
}

func (s *LocalServer) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if !s.decode(w, r, &req) {
		return
	}

	locator, justifier := req.position()
	res, err := s.deps.Controller.HandleCheckin(r.Context(), controller.CheckinInput{
		CompanyID: req.CompanyID,
		Locator:   locator,
		Justifier: justifier,
	})
	if err != nil {
		s.writeControllerError(w, "check-in", err)
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *LocalServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !s.decode(w, r, &req) {
		return
	}

	locator, justifier := req.position()
	res, err := s.deps.Controller.HandleCheckout(r.Context(), controller.CheckoutInput{
		Locator:   locator,
		Justifier: justifier,
	})
	if err != nil {
		s.writeControllerError(w, "check-out", err)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *LocalServer) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Failed to read request body")
		return
	}

	res, err := s.deps.Controller.CreateCompany(r.Context(), body)
	if err != nil {
		s.writeControllerError(w, "company", err)
		return
	}
	writeMutation(w, res)
}

func (s *LocalServer) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSaleRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Controller.CreateSale(r.Context(), req)
	if err != nil {
		s.writeControllerError(w, "sale", err)
		return
	}
	writeMutation(w, res)
}

func (s *LocalServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Connectivity.IsOnline() {
		writeError(w, http.StatusServiceUnavailable, "offline", "Sem conexão")
		return
	}

	result := s.deps.Syncer.SyncPendingEvents(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// handleDiscardQueue drops every queued mutation without sending it.
func (s *LocalServer) handleDiscardQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Syncer.DiscardPending(r.Context())
	if err != nil {
		s.logger.Error("Failed to discard pending events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to clear queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"discarded": n})
}

// handleConnectivity accepts online/offline signals from the UI runtime.
func (s *LocalServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", "online is required")
		return
	}

	s.deps.Connectivity.Set(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Connectivity.IsOnline()})
}

func (s *LocalServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("Failed to decode request", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", "Invalid request body")
		return false
	}
	return true
}

func (s *LocalServer) writeControllerError(w http.ResponseWriter, action string, err error) {
	var httpErr client.HTTPError
	var netErr *client.NetworkError

	switch {
	case errors.Is(err, controller.ErrVisitAlreadyActive):
		writeError(w, http.StatusConflict, "visit_already_open", "Já existe uma visita ativa")
	case errors.Is(err, controller.ErrNoActiveVisit):
		writeError(w, http.StatusConflict, "no_open_visit", "Nenhuma visita ativa")
	case errors.Is(err, geo.ErrDeclined):
		writeError(w, http.StatusBadRequest, "gps_required", err.Error())
	case errors.Is(err, controller.ErrInvalidPayload):
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", "Invalid request body")
	case errors.As(err, &httpErr):
		writeError(w, httpErr.Status(), httpErr.ErrorCode(), httpErr.ServerMessage())
	case errors.As(err, &netErr):
		s.logger.Warn("Backend unreachable", zap.String("action", action), zap.Error(err))
		writeError(w, http.StatusBadGateway, "backend_unreachable", "Backend unreachable")
	default:
		s.logger.Error("Local action failed", zap.String("action", action), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal error")
	}
}

func (p PositionRequest) position() (geo.Locator, geo.Justifier) {
	var justifier geo.Justifier
	if p.NoGpsReason != nil {
		justifier = geo.Reason(*p.NoGpsReason)
	}

	switch {
	case p.Lat != nil && p.Lng != nil:
		return geo.Fixed(*p.Lat, *p.Lng), justifier
	case p.NoGpsReason != nil:
		return geo.Unavailable, justifier
	default:
		return nil, justifier
	}
}

func writeMutation(w http.ResponseWriter, res *controller.MutationResult) {
	if res.Queued {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
