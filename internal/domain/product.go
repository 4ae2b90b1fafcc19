package domain

import "time"

// Product — товар продавца с остатком на складе.
type Product struct {
	ID             string
	VendorID       string
	Name           string
	Stock          int
	BasePriceMinor int64
	SalePriceMinor int64
	// LastStockNotification — когда продавца последний раз предупреждали об остатке.
	LastStockNotification time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ClampedStock вычитает qty из остатка, не опускаясь ниже нуля.
func ClampedStock(stock, qty int) int {
	if qty < 0 {
		qty = 0
	}
	if stock-qty < 0 {
		return 0
	}
	return stock - qty
}

// StockNotificationDue сообщает, что окно подавления истекло.
func StockNotificationDue(last, now time.Time, window time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(window))
}
