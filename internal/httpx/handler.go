// Package httpx exposes the fulfillment core over HTTP.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/campus-market/internal/cart"
	"github.com/jcmexdev/campus-market/internal/checkout"
	"github.com/jcmexdev/campus-market/internal/core/domain"
	"github.com/jcmexdev/campus-market/internal/core/ports"
	"github.com/jcmexdev/campus-market/internal/delivery"
	"github.com/jcmexdev/campus-market/internal/httpx/middlewares"
	"github.com/jcmexdev/campus-market/internal/payment"
)

// webhookMaxBody bounds the raw webhook payload read into memory.
const webhookMaxBody = 1 << 20

type Handler struct {
	cart       *cart.Service
	checkout   *checkout.Service
	payments   *payment.Reconciler
	dispatcher *delivery.Dispatcher
	ledger     ports.Ledger
}

func NewHandler(
	cartSvc *cart.Service,
	checkoutSvc *checkout.Service,
	payments *payment.Reconciler,
	dispatcher *delivery.Dispatcher,
	ledger ports.Ledger,
) *Handler {
	return &Handler{
		cart:       cartSvc,
		checkout:   checkoutSvc,
		payments:   payments,
		dispatcher: dispatcher,
		ledger:     ledger,
	}
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := middlewares.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	var req AddCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "product_id is required")
		return
	}
	item, err := h.cart.Add(r.Context(), actor.ID, req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapCartItem(*item))
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	var req UpdateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	item, err := h.cart.UpdateQuantity(r.Context(), actor.ID, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapCartItem(*item))
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	if err := h.cart.Remove(r.Context(), actor.ID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	items, err := h.cart.List(r.Context(), actor.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapCartItems(items))
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	option := domain.DeliveryOption(req.DeliveryOption)
	if option != domain.OptionPickup && option != domain.OptionDelivery {
		writeError(w, http.StatusBadRequest, "invalid_request", "delivery_option must be pickup or delivery")
		return
	}
	orders, err := h.checkout.Checkout(r.Context(), actor.ID, req.SellerID, option)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrders(orders))
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	session, err := h.payments.Initiate(r.Context(), actor.ID, req.Email, req.OrderIDs)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, InitiatePaymentResponse{
		Reference:        session.Reference,
		AccessCode:       session.AccessCode,
		AuthorizationURL: session.AuthorizationURL,
	})
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	reference := chi.URLParam(r, "reference")
	conf, err := h.payments.Verify(r.Context(), reference, actor.ID)
	if errors.Is(err, domain.ErrAlreadyVerified) {
		writeJSON(w, http.StatusOK, VerifyPaymentResponse{Reference: reference, Status: string(domain.PaymentVerified)})
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyPaymentResponse{
		Reference: conf.Transaction.Reference,
		Status:    string(conf.Transaction.Status),
		Orders:    mapOrders(conf.Orders),
	})
}

// Webhook is the gateway's push endpoint. It must be idempotent under
// redelivery: duplicates acknowledge 200 exactly like the first delivery.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "")
		return
	}
	_, err = h.payments.HandleWebhook(r.Context(), body, r.Header.Get("X-Paystack-Signature"))
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadyVerified):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", "")
	case errors.Is(err, domain.ErrPaymentMismatch):
		// Acknowledged so the gateway stops redelivering; the mismatch is
		// recorded on the transaction for audit.
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusBadRequest, "unknown_reference", "")
	default:
		slog.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "")
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	orders, err := h.ledger.ListOrdersByBuyer(r.Context(), actor.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrders(orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	o, err := h.ledger.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if o.BuyerID != actor.ID && o.SellerID != actor.ID && actor.Role != domain.RoleAdmin {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(*o))
}

func (h *Handler) ListAvailableDeliveries(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	ds, err := h.dispatcher.ListAvailable(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDeliveries(ds))
}

func (h *Handler) AcceptDelivery(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	d, err := h.dispatcher.Accept(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDelivery(*d))
}

func (h *Handler) CompleteDelivery(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	d, err := h.dispatcher.Complete(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDelivery(*d))
}

func (h *Handler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	actor, _ := middlewares.ActorFrom(r.Context())
	d, err := h.dispatcher.Cancel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDelivery(*d))
}

// writeDomainError maps the sentinel taxonomy onto HTTP statuses:
// validation 400/403, race-lost 409, integrity 401/422, transient 504.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "empty_cart", "")
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidCartItem):
		writeError(w, http.StatusBadRequest, "invalid_cart_item", err.Error())
	case errors.Is(err, domain.ErrRoleNotApproved):
		writeError(w, http.StatusForbidden, "role_not_approved", "")
	case errors.Is(err, domain.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, "already_assigned", "")
	case errors.Is(err, domain.ErrNotAssignedAgent):
		writeError(w, http.StatusConflict, "not_assigned_agent", "")
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", "")
	case errors.Is(err, domain.ErrPaymentMismatch):
		writeError(w, http.StatusUnprocessableEntity, "payment_mismatch", "")
	case errors.Is(err, domain.ErrGatewayTimeout):
		writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "retry with the same reference")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "")
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
