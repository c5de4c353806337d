package http

import (
	"net/http"

	"ShopCheckout/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, m *metrics.ServerMetrics) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/{userId}", handler.InitiateCheckout)
		r.Post("/payment-success", handler.PaymentSuccess)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", handler.Webhook)
		r.Patch("/order/{orderId}/status", handler.UpdateOrderStatus)
		r.Get("/status/{orderId}", handler.GetOrderStatus)
		r.Get("/orders", handler.ListUserOrders)
		r.Get("/verify", handler.VerifySession)
	})

	return &Server{Router: r}
}
