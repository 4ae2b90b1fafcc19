package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payout"
)

const (
	actorSystem   = "system"
	actorCustomer = "customer"
)

var (
	ordersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_orders_placed_total",
		Help: "Total number of order placement attempts grouped by result.",
	}, []string{"result"})
	itemTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_item_transitions_total",
		Help: "Total number of order item status transitions grouped by target and result.",
	}, []string{"target", "result"})
)

// StockLedger списывает остатки товара.
type StockLedger interface {
	Decrement(ctx context.Context, productID string, qty int) (int, error)
}

// Payouter выплачивает продавцу за позицию.
type Payouter interface {
	Payout(ctx context.Context, req payout.Request) (domain.PayoutResult, error)
}

// Dependencies собирает зависимости сервиса.
type Dependencies struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Vendors  domain.VendorRepository
	Timeline domain.TimelineRepository
	Stock    StockLedger
	Payouts  Payouter
	Notifier domain.Notifier
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service ведёт заказ от оформления до доставки позиций.
type Service struct {
	deps   Dependencies
	logger *log.Entry
	now    func() time.Time
	newID  func() string
}

// NewService создаёт сервис исполнения заказов.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		deps:   deps,
		logger: log.WithField("component", "fulfillment"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrderItem — строка корзины.
type PlaceOrderItem struct {
	ProductID string
	VendorID  string
	Qty       int32
	// UnitPriceMinor — цена продажи; ноль означает цену из каталога.
	UnitPriceMinor int64
}

// PlaceOrderRequest описывает оформляемый заказ.
type PlaceOrderRequest struct {
	OrderID         string
	CustomerID      string
	CustomerEmail   string
	Currency        string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	Items           []PlaceOrderItem
}

func (r PlaceOrderRequest) validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return domain.ErrCustomerRequired
	}
	if len(r.Items) == 0 {
		return domain.ErrItemsRequired
	}
	if r.ShippingAddress.Empty() || r.BillingAddress.Empty() {
		return domain.ErrAddressRequired
	}
	for _, item := range r.Items {
		switch {
		case strings.TrimSpace(item.VendorID) == "":
			return domain.ErrVendorRequired
		case strings.TrimSpace(item.ProductID) == "":
			return domain.ErrProductRequired
		case item.VendorID == r.CustomerID:
			return domain.ErrSelfPurchase
		case item.Qty <= 0:
			return domain.ErrItemQtyInvalid
		case item.UnitPriceMinor < 0:
			return domain.ErrItemPriceInvalid
		}
	}
	return nil
}

// PlaceOrder сохраняет заказ с позициями, списывает остатки и уведомляет продавцов.
//
// Ошибки списания и уведомлений не отменяют заказ.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	if err := req.validate(); err != nil {
		ordersPlaced.WithLabelValues("invalid").Inc()
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              req.OrderID,
		CustomerID:      req.CustomerID,
		CustomerEmail:   req.CustomerEmail,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.ID == "" {
		order.ID = s.newID()
	}
	if order.Currency == "" {
		order.Currency = "XAF"
	}

	for _, line := range req.Items {
		product, err := s.deps.Products.Get(ctx, line.ProductID)
		if err != nil {
			ordersPlaced.WithLabelValues("invalid").Inc()
			return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, err)
		}
		// Владелец позиции берётся из каталога: по нему проверяются права и идёт выплата.
		if product.VendorID != line.VendorID {
			ordersPlaced.WithLabelValues("invalid").Inc()
			return domain.Order{}, fmt.Errorf("product %s, vendor %s: %w", line.ProductID, line.VendorID, domain.ErrVendorMismatch)
		}

		unitPrice := line.UnitPriceMinor
		if unitPrice == 0 {
			unitPrice = product.SalePriceMinor
		}
		if unitPrice == 0 {
			unitPrice = product.BasePriceMinor
		}
		if unitPrice < product.BasePriceMinor {
			ordersPlaced.WithLabelValues("invalid").Inc()
			return domain.Order{}, fmt.Errorf("product %s: %d < %d: %w", line.ProductID, unitPrice, product.BasePriceMinor, domain.ErrItemPriceBelowBase)
		}

		item := domain.OrderItem{
			ID:             s.newID(),
			OrderID:        order.ID,
			VendorID:       product.VendorID,
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			UnitPriceMinor: unitPrice,
			BasePriceMinor: product.BasePriceMinor,
			LineTotalMinor: unitPrice * int64(line.Qty),
			Status:         domain.OrderStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		order.TotalMinor += item.LineTotalMinor
		order.Items = append(order.Items, item)
	}

	if err := s.deps.Orders.Create(ctx, order); err != nil {
		ordersPlaced.WithLabelValues("error").Inc()
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	ordersPlaced.WithLabelValues("created").Inc()

	logger := s.logger.WithFields(log.Fields{"order_id": order.ID, "customer_id": order.CustomerID})
	logger.WithField("items", len(order.Items)).Info("order placed")

	for _, item := range order.Items {
		if s.deps.Stock == nil {
			break
		}
		if _, err := s.deps.Stock.Decrement(ctx, item.ProductID, int(item.Qty)); err != nil {
			logger.WithError(err).WithField("product_id", item.ProductID).Warn("stock decrement failed")
		}
	}

	s.appendTimeline(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    domain.TimelineOrderPlaced,
		Actor:   actorCustomer,
		Reason:  fmt.Sprintf("%d items from %d vendors", len(order.Items), len(order.VendorIDs())),
	})

	s.notifyVendors(ctx, order)
	return order, nil
}

func (s *Service) notifyVendors(ctx context.Context, order domain.Order) {
	if s.deps.Notifier == nil {
		return
	}

	for _, vendorID := range order.VendorIDs() {
		lines := make([]map[string]any, 0)
		var vendorTotal int64
		for _, item := range order.Items {
			if item.VendorID != vendorID {
				continue
			}
			vendorTotal += item.PayoutAmount()
			lines = append(lines, map[string]any{
				"order_item_id": item.ID,
				"product_id":    item.ProductID,
				"qty":           item.Qty,
				"payout_minor":  item.PayoutAmount(),
			})
		}

		recipient := domain.Recipient{Role: domain.RecipientVendor, ID: vendorID}
		if s.deps.Vendors != nil {
			if vendor, err := s.deps.Vendors.Get(ctx, vendorID); err == nil {
				recipient.Email = vendor.Email
			}
		}

		err := s.deps.Notifier.Notify(ctx, domain.Notification{
			Event:     domain.NotificationNewOrder,
			Recipient: recipient,
			OrderID:   order.ID,
			Data: map[string]any{
				"items":              lines,
				"vendor_total_minor": vendorTotal,
				"currency":           order.Currency,
				"shipping_address":   order.ShippingAddress,
			},
		})
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":  order.ID,
				"vendor_id": vendorID,
			}).Warn("new order notification failed")
		}
	}
}

// ConfirmPayment отмечает заказ оплаченным. Повторное подтверждение ничего не меняет.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	err := s.deps.Orders.CompareAndSetPaymentStatus(ctx, orderID, domain.PaymentStatusPending, domain.PaymentStatusCompleted)
	switch {
	case err == nil:
		s.appendTimeline(ctx, domain.TimelineEvent{
			OrderID: orderID,
			Type:    domain.TimelinePaymentConfirmed,
			Actor:   actorSystem,
		})
	case errors.Is(err, domain.ErrPaymentStatusConflict):
		order, getErr := s.deps.Orders.Get(ctx, orderID)
		if getErr != nil {
			return domain.Order{}, getErr
		}
		if order.PaymentStatus != domain.PaymentStatusCompleted {
			return domain.Order{}, fmt.Errorf("confirm payment of %s in status %s: %w", orderID, order.PaymentStatus, err)
		}
		return order, nil
	default:
		return domain.Order{}, err
	}

	return s.deps.Orders.Get(ctx, orderID)
}

// OrderView — заказ с позициями и журналом событий.
type OrderView struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// GetOrder возвращает заказ вместе с timeline.
func (s *Service) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	order, err := s.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}

	view := OrderView{Order: order}
	if s.deps.Timeline != nil {
		events, err := s.deps.Timeline.List(ctx, orderID)
		if err != nil {
			return OrderView{}, fmt.Errorf("load timeline: %w", err)
		}
		view.Timeline = events
	}
	return view, nil
}

func (s *Service) appendTimeline(ctx context.Context, event domain.TimelineEvent) {
	if s.deps.Timeline == nil {
		return
	}
	if event.Occurred.IsZero() {
		event.Occurred = s.now()
	}
	if err := s.deps.Timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": event.OrderID,
			"type":     event.Type,
		}).Warn("failed to append timeline event")
	}
}
