package httpx

import (
	"time"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	SellerID       string `json:"seller_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type CheckoutRequest struct {
	SellerID       string `json:"seller_id,omitempty"`
	DeliveryOption string `json:"delivery_option"`
}

type OrderResponse struct {
	ID              string `json:"id"`
	OrderNumber     string `json:"order_number"`
	CheckoutGroupID string `json:"checkout_group_id"`
	SellerID        string `json:"seller_id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	TotalCents      int64  `json:"total_cents"`
	DeliveryOption  string `json:"delivery_option"`
	DeliveryFee     int64  `json:"delivery_fee_cents"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

type InitiatePaymentRequest struct {
	OrderIDs []string `json:"order_ids"`
	Email    string   `json:"email"`
}

type InitiatePaymentResponse struct {
	Reference        string `json:"reference"`
	AccessCode       string `json:"access_code"`
	AuthorizationURL string `json:"authorization_url"`
}

type VerifyPaymentResponse struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Orders    []OrderResponse `json:"orders,omitempty"`
}

type DeliveryResponse struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	SellerID    string `json:"seller_id"`
	AgentID     string `json:"agent_id,omitempty"`
	FeeCents    int64  `json:"fee_cents"`
	Status      string `json:"status"`
	AssignedAt  string `json:"assigned_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapCartItem(it domain.CartItem) CartItemResponse {
	return CartItemResponse{
		ID:             it.ID,
		ProductID:      it.ProductID,
		SellerID:       it.SellerID,
		Quantity:       it.Quantity,
		UnitPriceCents: it.UnitPriceCents,
		SubtotalCents:  it.SubtotalCents(),
	}
}

func mapCartItems(items []domain.CartItem) []CartItemResponse {
	out := make([]CartItemResponse, len(items))
	for i, it := range items {
		out[i] = mapCartItem(it)
	}
	return out
}

func mapOrder(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CheckoutGroupID: o.CheckoutGroupID,
		SellerID:        o.SellerID,
		ProductID:       o.ProductID,
		Quantity:        o.Quantity,
		TotalCents:      o.TotalCents,
		DeliveryOption:  string(o.DeliveryOption),
		DeliveryFee:     o.DeliveryFee,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapOrders(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = mapOrder(o)
	}
	return out
}

func mapDelivery(d domain.Delivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:         d.ID,
		OrderID:    d.OrderID,
		CustomerID: d.CustomerID,
		SellerID:   d.SellerID,
		AgentID:    d.AgentID,
		FeeCents:   d.FeeCents,
		Status:     string(d.Status),
	}
	if d.AssignedAt != nil {
		resp.AssignedAt = d.AssignedAt.UTC().Format(time.RFC3339)
	}
	if d.CompletedAt != nil {
		resp.CompletedAt = d.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func mapDeliveries(ds []domain.Delivery) []DeliveryResponse {
	out := make([]DeliveryResponse, len(ds))
	for i, d := range ds {
		out[i] = mapDelivery(d)
	}
	return out
}
