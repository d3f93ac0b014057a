package handler

import (
	"net/http"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type VisitHandler struct {
	service *service.VisitService
	logger  *zap.Logger
}

func NewVisitHandler(service *service.VisitService, logger *zap.Logger) *VisitHandler {
	return &VisitHandler{
		service: service,
		logger:  logger,
	}
}

func (h *VisitHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CheckinRequest
	if !decode(w, r, &req) {
		return
	}

	visit, err := h.service.CheckIn(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CheckinResponse{Visit: *visit})
}

func (h *VisitHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}

	visit, err := h.service.CheckOut(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, models.CheckoutResponse{Visit: *visit})
}

func (h *VisitHandler) Active(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	visit, err := h.service.Active(r.Context(), actor.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ActiveVisitResponse{Visit: visit})
}

func (h *VisitHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	status := repository.VisitStatus(r.URL.Query().Get("status"))
	switch status {
	case repository.VisitStatusAny, repository.VisitStatusActive, repository.VisitStatusCompleted:
	default:
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidPayload, "status must be active or completed")
		return
	}

	visits, page, err := h.service.List(r.Context(), actor.UserID, status, pagination(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"visits":     visits,
		"pagination": page,
	})
}

func (h *VisitHandler) AssociateCompany(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.AssociateCompanyRequest
	if !decode(w, r, &req) {
		return
	}

	visit, err := h.service.AssociateCompany(r.Context(), actor, chi.URLParam(r, "id"), req.CompanyID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"visit": visit})
}
