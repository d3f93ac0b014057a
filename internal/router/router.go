package router

import (
	"net/http"

	"github.com/TGOO-Worldwide/siliviat-app/internal/handler"
	"github.com/TGOO-Worldwide/siliviat-app/internal/idempotency"
	"github.com/TGOO-Worldwide/siliviat-app/internal/middleware"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Visits       *handler.VisitHandler
	Companies    *handler.CompanyHandler
	Sales        *handler.SaleHandler
	Technologies *handler.TechnologyHandler
}

func New(h Handlers, tokens middleware.TokenParser, store idempotency.Store, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(tokens, logger))
		r.Use(middleware.Idempotency(store, logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleSales, models.RoleAdmin))

			r.Post("/visits/checkin", h.Visits.CheckIn)
			r.Post("/visits/checkout", h.Visits.CheckOut)
			r.Get("/visits/active", h.Visits.Active)
			r.Get("/visits", h.Visits.List)
			r.Patch("/visits/{id}/company", h.Visits.AssociateCompany)

			r.Post("/companies", h.Companies.Create)
			r.Post("/sales", h.Sales.Create)
		})

		r.Get("/companies", h.Companies.Search)
		r.Get("/companies/{id}", h.Companies.Get)
		r.Get("/sales", h.Sales.List)
		r.Get("/technologies", h.Technologies.List)

		r.With(middleware.RequireRole(models.RoleAdmin)).Post("/technologies", h.Technologies.Create)
	})

	return r
}
