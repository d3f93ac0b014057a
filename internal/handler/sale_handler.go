package handler

import (
	"net/http"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"go.uber.org/zap"
)

type SaleHandler struct {
	service *service.SaleService
	logger  *zap.Logger
}

func NewSaleHandler(service *service.SaleService, logger *zap.Logger) *SaleHandler {
	return &SaleHandler{service: service, logger: logger}
}

func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreateSaleRequest
	if !decode(w, r, &req) {
		return
	}

	sale, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sales, page, err := h.service.List(r.Context(), actor, r.URL.Query().Get("technologyId"), pagination(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sales":      sales,
		"pagination": page,
	})
}
