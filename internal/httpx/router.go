package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/campus-market/internal/httpx/middlewares"
)

// NewRouter wires the API. The webhook endpoint stays outside the auth
// group: the gateway authenticates with its payload signature, not a
// bearer token.
func NewRouter(handler *Handler, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/v1/payments/webhook", handler.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middlewares.Authenticate(jwtSecret))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/cart", handler.ListCart)
			r.Post("/cart/items", handler.AddCartItem)
			r.Patch("/cart/items/{id}", handler.UpdateCartItem)
			r.Delete("/cart/items/{id}", handler.RemoveCartItem)

			r.Post("/checkout", handler.Checkout)

			r.Post("/payments/initiate", handler.InitiatePayment)
			r.Get("/payments/verify/{reference}", handler.VerifyPayment)

			r.Get("/orders", handler.ListOrders)
			r.Get("/orders/{id}", handler.GetOrder)

			r.Get("/deliveries/available", handler.ListAvailableDeliveries)
			r.Post("/deliveries/{id}/accept", handler.AcceptDelivery)
			r.Post("/deliveries/{id}/complete", handler.CompleteDelivery)
			r.Post("/deliveries/{id}/cancel", handler.CancelDelivery)
		})
	})
	return r
}
