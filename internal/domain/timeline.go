package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	ItemID   string
	Type     string
	Actor    string
	Reason   string
	Occurred time.Time
}

// Типы событий timeline.
const (
	TimelineOrderPlaced      = "order.placed"
	TimelinePaymentConfirmed = "order.payment_confirmed"
	TimelineOrderStatus      = "order.status"
	TimelineRefunded         = "order.refunded"
)

// ItemTimelineType возвращает тип события перехода позиции, например item.processing.
func ItemTimelineType(status OrderStatus) string {
	return "item." + string(status)
}
