package handler

import (
	"net/http"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CompanyHandler struct {
	service *service.CompanyService
	logger  *zap.Logger
}

func NewCompanyHandler(service *service.CompanyService, logger *zap.Logger) *CompanyHandler {
	return &CompanyHandler{service: service, logger: logger}
}

func (h *CompanyHandler) Search(w http.ResponseWriter, r *http.Request) {
	companies, page, err := h.service.Search(r.Context(), r.URL.Query().Get("query"), pagination(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"companies":  companies,
		"pagination": page,
	})
}

func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	company, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"company": company})
}

func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreateCompanyRequest
	if !decode(w, r, &req) {
		return
	}

	company, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"company": company})
}
