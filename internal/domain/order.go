package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает статус позиции заказа и агрегированный статус заказа.
type OrderStatus string

const (
	// OrderStatusPending: позиция ждёт действия продавца.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing: продавец принял позицию в работу, запускается выплата.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: позиция передана в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: позиция доставлена (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: позиция отменена (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusMixed: только для заказа: позиции разошлись по разным статусам.
	OrderStatusMixed OrderStatus = "mixed"
)

// PaymentStatus описывает состояние оплаты заказа покупателем.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// ParseItemStatus разбирает статус позиции из внешнего ввода.
func ParseItemStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	default:
		return "", ErrStatusInvalid
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

var itemTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransition проверяет, что переход позиции идёт только вперёд по жизненному циклу.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Address — снимок адреса на момент оформления заказа.
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Empty сообщает, что в адресе нет ни одной значимой строки.
func (a Address) Empty() bool {
	return strings.TrimSpace(a.Line1) == "" && strings.TrimSpace(a.City) == ""
}

// OrderItem — позиция одного продавца внутри мультивендорного заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	VendorID  string
	ProductID string
	Qty       int32
	// UnitPriceMinor — цена продажи покупателю (с комиссией площадки).
	UnitPriceMinor int64
	// BasePriceMinor — базовая цена продавца, из неё считается выплата.
	BasePriceMinor int64
	LineTotalMinor int64
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PayoutAmount возвращает сумму выплаты продавцу за позицию: базовая цена × количество.
func (i OrderItem) PayoutAmount() int64 {
	return i.BasePriceMinor * int64(i.Qty)
}

// Order агрегирует позиции разных продавцов.
type Order struct {
	ID              string
	CustomerID      string
	CustomerEmail   string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Currency        string
	TotalMinor      int64
	ShippingAddress Address
	BillingAddress  Address
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VendorIDs возвращает продавцов заказа в порядке первого появления.
func (o Order) VendorIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	result := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		result = append(result, item.VendorID)
	}
	return result
}

// AggregateStatus выводит статус заказа из статусов позиций.
//
// Общий статус всех позиций становится статусом заказа. Пока хотя бы одна
// позиция ждёт продавца, заказ остаётся pending. Иначе заказ получает mixed.
func AggregateStatus(items []OrderItem) OrderStatus {
	if len(items) == 0 {
		return OrderStatusPending
	}

	first := items[0].Status
	uniform := true
	anyPending := false
	for _, item := range items {
		if item.Status != first {
			uniform = false
		}
		if item.Status == OrderStatusPending {
			anyPending = true
		}
	}

	switch {
	case uniform:
		return first
	case anyPending:
		return OrderStatusPending
	default:
		return OrderStatusMixed
	}
}

// ElapsedDays возвращает число полных суток с момента создания заказа.
func (o Order) ElapsedDays(now time.Time) int {
	if now.Before(o.CreatedAt) {
		return 0
	}
	return int(now.Sub(o.CreatedAt) / (24 * time.Hour))
}
