package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/inntektsmelding-service/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса inntektsmelding.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/foresporsel", h.CreateRequest)
			r.Get("/foresporsel", h.GetRequestsByCase)
			r.Post("/foresporsel/utgaatt", h.ExpireRequests)

			r.Get("/imdialog/{uuid}", h.GetDialog)
			r.Post("/imdialog/send-inntektsmelding", h.SubmitIncomeStatement)

			r.Post("/overstyring/inntektsmelding", h.SubmitOverride)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
