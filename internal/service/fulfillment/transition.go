package fulfillment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payout"
)

// Actor — кто меняет статус позиции.
type Actor struct {
	VendorID string
	// System — действие площадки (админ, джобы); проверка владельца не нужна.
	System bool
}

func (a Actor) name() string {
	if a.System {
		return actorSystem
	}
	return "vendor:" + a.VendorID
}

// TransitionResult описывает итог смены статуса позиции.
type TransitionResult struct {
	Item        domain.OrderItem     `json:"-"`
	Previous    domain.OrderStatus   `json:"previous_status"`
	Current     domain.OrderStatus   `json:"status"`
	Changed     bool                 `json:"changed"`
	OrderStatus domain.OrderStatus   `json:"order_status"`
	Payout      *domain.PayoutResult `json:"payout,omitempty"`
	// Warnings — побочные эффекты, которые не удались; сам переход при этом сохранён.
	Warnings []string `json:"warnings,omitempty"`
}

// Transition переводит позицию в target.
//
// Статус меняется через compare-and-set: из двух параллельных запросов к одной цели
// выигрывает один, второй получает Changed=false, поэтому выплата уходит один раз.
func (s *Service) Transition(ctx context.Context, itemID string, target domain.OrderStatus, actor Actor) (TransitionResult, error) {
	if _, err := domain.ParseItemStatus(string(target)); err != nil {
		return TransitionResult{}, err
	}

	item, err := s.deps.Orders.GetItem(ctx, itemID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !actor.System && actor.VendorID != item.VendorID {
		itemTransitions.WithLabelValues(string(target), "forbidden").Inc()
		return TransitionResult{}, domain.ErrForbidden
	}

	if item.Status == target {
		return s.unchanged(ctx, item)
	}
	if !domain.CanTransition(item.Status, target) {
		itemTransitions.WithLabelValues(string(target), "invalid").Inc()
		return TransitionResult{}, fmt.Errorf("%s -> %s: %w", item.Status, target, domain.ErrInvalidTransition)
	}

	if target == domain.OrderStatusProcessing {
		order, err := s.deps.Orders.Get(ctx, item.OrderID)
		if err != nil {
			return TransitionResult{}, err
		}
		if order.PaymentStatus != domain.PaymentStatusCompleted {
			itemTransitions.WithLabelValues(string(target), "unpaid").Inc()
			return TransitionResult{}, domain.ErrPaymentNotCompleted
		}
	}

	previous := item.Status
	err = s.deps.Orders.CompareAndSetItemStatus(ctx, itemID, previous, target)
	if errors.Is(err, domain.ErrItemStatusConflict) {
		current, getErr := s.deps.Orders.GetItem(ctx, itemID)
		if getErr != nil {
			return TransitionResult{}, getErr
		}
		if current.Status == target {
			itemTransitions.WithLabelValues(string(target), "noop").Inc()
			return s.unchanged(ctx, current)
		}
		itemTransitions.WithLabelValues(string(target), "conflict").Inc()
		return TransitionResult{}, fmt.Errorf("item %s moved to %s: %w", itemID, current.Status, err)
	}
	if err != nil {
		itemTransitions.WithLabelValues(string(target), "error").Inc()
		return TransitionResult{}, fmt.Errorf("update item status: %w", err)
	}

	itemTransitions.WithLabelValues(string(target), "changed").Inc()
	item.Status = target
	result := TransitionResult{Item: item, Previous: previous, Current: target, Changed: true}

	logger := s.logger.WithFields(log.Fields{
		"order_id": item.OrderID,
		"item_id":  item.ID,
		"from":     previous,
		"to":       target,
		"actor":    actor.name(),
	})
	logger.Info("order item status changed")

	s.appendTimeline(ctx, domain.TimelineEvent{
		OrderID: item.OrderID,
		ItemID:  item.ID,
		Type:    domain.ItemTimelineType(target),
		Actor:   actor.name(),
		Reason:  fmt.Sprintf("%s -> %s", previous, target),
	})

	if target == domain.OrderStatusProcessing && s.deps.Payouts != nil {
		res, err := s.deps.Payouts.Payout(ctx, payout.Request{
			OrderID:     item.OrderID,
			OrderItemID: item.ID,
			VendorID:    item.VendorID,
			AmountMinor: item.PayoutAmount(),
			Target:      domain.OrderStatusProcessing,
		})
		result.Payout = &res
		if err != nil {
			logger.WithError(err).Warn("payout after transition failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("payout: %v", err))
		}
	}

	status, err := s.RecomputeOrderStatus(ctx, item.OrderID)
	if err != nil {
		logger.WithError(err).Warn("order status recompute failed")
		result.Warnings = append(result.Warnings, fmt.Sprintf("order status: %v", err))
	}
	result.OrderStatus = status

	if target == domain.OrderStatusProcessing || target == domain.OrderStatusDelivered {
		if err := s.notifyCustomer(ctx, item, status); err != nil {
			logger.WithError(err).Warn("customer notification failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("notification: %v", err))
		}
	}

	return result, nil
}

func (s *Service) unchanged(ctx context.Context, item domain.OrderItem) (TransitionResult, error) {
	order, err := s.deps.Orders.Get(ctx, item.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{
		Item:        item,
		Previous:    item.Status,
		Current:     item.Status,
		OrderStatus: order.Status,
	}, nil
}

func (s *Service) notifyCustomer(ctx context.Context, item domain.OrderItem, orderStatus domain.OrderStatus) error {
	if s.deps.Notifier == nil {
		return nil
	}
	order, err := s.deps.Orders.Get(ctx, item.OrderID)
	if err != nil {
		return err
	}
	return s.deps.Notifier.Notify(ctx, domain.Notification{
		Event:     domain.NotificationCustomerStatusChanged,
		Recipient: domain.Recipient{Role: domain.RecipientCustomer, ID: order.CustomerID, Email: order.CustomerEmail},
		OrderID:   order.ID,
		Data: map[string]any{
			"order_item_id": item.ID,
			"product_id":    item.ProductID,
			"status":        string(item.Status),
			"order_status":  string(orderStatus),
		},
	})
}

// RecomputeOrderStatus пересчитывает статус заказа по позициям и сохраняет его при изменении.
func (s *Service) RecomputeOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	order, err := s.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}

	status := domain.AggregateStatus(order.Items)
	if status == order.Status {
		return status, nil
	}
	if err := s.deps.Orders.UpdateStatus(ctx, orderID, status); err != nil {
		return order.Status, fmt.Errorf("update order status: %w", err)
	}

	s.appendTimeline(ctx, domain.TimelineEvent{
		OrderID: orderID,
		Type:    domain.TimelineOrderStatus,
		Actor:   actorSystem,
		Reason:  fmt.Sprintf("%s -> %s", order.Status, status),
	})
	return status, nil
}
