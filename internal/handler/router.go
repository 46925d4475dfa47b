package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/lendpool/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware кредитного пула.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/pool/balance", h.GetPoolBalance)
		r.Get("/lenders/{account}/balance", h.GetLenderBalance)
		r.Get("/lenders/{account}/rewards", h.GetRewards)

		r.Get("/loans/{account}", h.GetLoan)
		r.Get("/loans/{account}/status", h.GetLoanStatus)
		r.Get("/loans/{account}/estimate", h.GetEstimate)
		r.Get("/loans/{account}/repayments", h.GetRepayments)

		r.Get("/credit/{account}", h.GetCredit)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/pool/deposit", h.Deposit)
			r.Post("/pool/withdraw", h.Withdraw)
			r.Post("/rewards/claim", h.ClaimRewards)

			r.Post("/loans", h.CreateLoan)
			r.Post("/loans/{account}/repay", h.Repay)

			r.Route("/admin", func(r chi.Router) {
				r.Put("/loans/{account}/status", h.SetLoanStatus)
				r.Put("/credit/{account}/verified", h.SetVerified)
				r.Put("/credit/{account}/score", h.SetCreditScore)
				r.Get("/events", h.GetEvents)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
