package handler

import (
	"net/http"
	"strconv"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"go.uber.org/zap"
)

type TechnologyHandler struct {
	service *service.TechnologyService
	logger  *zap.Logger
}

func NewTechnologyHandler(service *service.TechnologyService, logger *zap.Logger) *TechnologyHandler {
	return &TechnologyHandler{service: service, logger: logger}
}

// List defaults to active technologies; activeOnly=false includes the rest.
func (h *TechnologyHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("activeOnly"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidPayload, "activeOnly must be a boolean")
			return
		}
		activeOnly = parsed
	}

	technologies, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"technologies": technologies})
}

func (h *TechnologyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreateTechnologyRequest
	if !decode(w, r, &req) {
		return
	}

	technology, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"technology": technology})
}
