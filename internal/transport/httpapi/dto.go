package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
)

// envelope — общий формат ответа API.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type placeOrderItemRequest struct {
	ProductID      string `json:"product_id"`
	VendorID       string `json:"vendor_id"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type placeOrderRequest struct {
	OrderID         string                  `json:"order_id"`
	CustomerID      string                  `json:"customer_id"`
	CustomerEmail   string                  `json:"customer_email"`
	Currency        string                  `json:"currency"`
	ShippingAddress domain.Address          `json:"shipping_address"`
	BillingAddress  domain.Address          `json:"billing_address"`
	Items           []placeOrderItemRequest `json:"items"`
}

func (r placeOrderRequest) toService() fulfillment.PlaceOrderRequest {
	req := fulfillment.PlaceOrderRequest{
		OrderID:         r.OrderID,
		CustomerID:      r.CustomerID,
		CustomerEmail:   r.CustomerEmail,
		Currency:        r.Currency,
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.BillingAddress,
		Items:           make([]fulfillment.PlaceOrderItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, fulfillment.PlaceOrderItem{
			ProductID:      item.ProductID,
			VendorID:       item.VendorID,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	return req
}

type transitionRequest struct {
	Status   string `json:"status"`
	VendorID string `json:"vendor_id"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID             string             `json:"id"`
	VendorID       string             `json:"vendor_id"`
	ProductID      string             `json:"product_id"`
	Qty            int32              `json:"qty"`
	UnitPriceMinor int64              `json:"unit_price_minor"`
	LineTotalMinor int64              `json:"line_total_minor"`
	Status         domain.OrderStatus `json:"status"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	ItemID   string    `json:"item_id,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type orderResponse struct {
	ID              string                  `json:"id"`
	CustomerID      string                  `json:"customer_id"`
	CustomerEmail   string                  `json:"customer_email,omitempty"`
	Status          domain.OrderStatus      `json:"status"`
	PaymentStatus   domain.PaymentStatus    `json:"payment_status"`
	Currency        string                  `json:"currency"`
	TotalMinor      int64                   `json:"total_minor"`
	ShippingAddress domain.Address          `json:"shipping_address"`
	BillingAddress  domain.Address          `json:"billing_address"`
	Items           []orderItemResponse     `json:"items"`
	Timeline        []timelineEventResponse `json:"timeline,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func newOrderResponse(order domain.Order, timeline []domain.TimelineEvent) orderResponse {
	resp := orderResponse{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		CustomerEmail:   order.CustomerEmail,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		Currency:        order.Currency,
		TotalMinor:      order.TotalMinor,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Items:           make([]orderItemResponse, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:             item.ID,
			VendorID:       item.VendorID,
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
			LineTotalMinor: item.LineTotalMinor,
			Status:         item.Status,
			UpdatedAt:      item.UpdatedAt,
		})
	}
	for _, event := range timeline {
		resp.Timeline = append(resp.Timeline, timelineEventResponse{
			Type:     event.Type,
			ItemID:   event.ItemID,
			Actor:    event.Actor,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return resp
}

type transitionResponse struct {
	ItemID  string `json:"item_id"`
	OrderID string `json:"order_id"`
	fulfillment.TransitionResult
}

type payoutResponse struct {
	ID          string              `json:"id"`
	OrderID     string              `json:"order_id"`
	OrderItemID string              `json:"order_item_id"`
	AmountMinor int64               `json:"amount_minor"`
	Status      domain.PayoutStatus `json:"status"`
	Operator    domain.Operator     `json:"operator,omitempty"`
	Reference   string              `json:"reference,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Attempts    int                 `json:"attempts"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func newPayoutResponses(payouts []domain.Payout) []payoutResponse {
	out := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, payoutResponse{
			ID:          p.ID,
			OrderID:     p.OrderID,
			OrderItemID: p.OrderItemID,
			AmountMinor: p.AmountMinor,
			Status:      p.Status,
			Operator:    p.Operator,
			Reference:   p.Reference,
			Notes:       p.Notes,
			Attempts:    p.Attempts,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return out
}
