package domain

import "time"

// NotificationEvent — тип письма, которое должен отправить внешний почтовый сервис.
type NotificationEvent string

const (
	NotificationNewOrder              NotificationEvent = "order.new"
	NotificationPayoutSucceeded       NotificationEvent = "payout.succeeded"
	NotificationPayoutFailed          NotificationEvent = "payout.failed"
	NotificationStockLow              NotificationEvent = "stock.low"
	NotificationStockOut              NotificationEvent = "stock.out"
	NotificationCustomerStatusChanged NotificationEvent = "customer.status_changed"
	NotificationCustomerRefunded      NotificationEvent = "customer.refunded"
)

// RecipientRole — кому адресовано уведомление.
type RecipientRole string

const (
	RecipientVendor   RecipientRole = "vendor"
	RecipientCustomer RecipientRole = "customer"
)

// Recipient — адресат уведомления.
type Recipient struct {
	Role  RecipientRole `json:"role"`
	ID    string        `json:"id"`
	Email string        `json:"email,omitempty"`
}

// Notification — решение ядра о том, что и кому сообщить. Рендеринг письма — забота получателя.
type Notification struct {
	ID        string            `json:"id"`
	Event     NotificationEvent `json:"event"`
	Recipient Recipient         `json:"recipient"`
	OrderID   string            `json:"order_id,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AggregateID выбирает ключ партиционирования: заказ, если он есть, иначе адресат.
func (n Notification) AggregateID() string {
	if n.OrderID != "" {
		return n.OrderID
	}
	return n.Recipient.ID
}
