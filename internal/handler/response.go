package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/TGOO-Worldwide/siliviat-app/internal/middleware"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/service"

	"go.uber.org/zap"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeVisitAlreadyOpen   = "visit_already_open"
	CodeNoOpenVisit        = "no_open_visit"
	CodeGPSRequired        = "gps_required"
	CodeInvalidPayload     = "invalid_payload"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeUnauthorized       = "unauthorized"
	CodeCompanyExists      = "company_exists"
	CodeTechnologyInactive = "technology_inactive"
	CodeInternal           = "internal"
)

const maxBodyBytes = 1 << 20

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

// decode reads a single JSON object from the request body.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty"
		}
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidPayload, msg)
		return false
	}
	return true
}

// writeServiceError maps service errors onto statuses and stable codes.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidPayload, verr.Error())
	case errors.Is(err, service.ErrVisitAlreadyOpen):
		writeError(w, http.StatusBadRequest, CodeVisitAlreadyOpen, "Já existe uma visita em aberto")
	case errors.Is(err, service.ErrNoOpenVisit):
		writeError(w, http.StatusBadRequest, CodeNoOpenVisit, "Não existe visita em aberto")
	case errors.Is(err, service.ErrGPSRequired):
		writeError(w, http.StatusBadRequest, CodeGPSRequired, "Localização GPS ou justificação obrigatória")
	case errors.Is(err, service.ErrInactiveTechnology):
		writeError(w, http.StatusBadRequest, CodeTechnologyInactive, "Tecnologia inativa")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, "Sem permissão")
	case errors.Is(err, service.ErrDuplicateCompany):
		writeError(w, http.StatusConflict, CodeCompanyExists, "Já existe uma empresa com este nome")
	default:
		logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

// actorFrom builds the audit actor from the authenticated principal. The
// second result is false when the request carries no principal.
func actorFrom(r *http.Request) (service.Actor, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return service.Actor{}, false
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.Actor{
		Principal: p,
		IP:        ip,
		UserAgent: r.UserAgent(),
		DeviceID:  r.Header.Get(middleware.DeviceHeader),
	}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Not authenticated")
	}
	return actor, ok
}

func pagination(r *http.Request) models.Pagination {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return models.NewPagination(page, limit)
}
