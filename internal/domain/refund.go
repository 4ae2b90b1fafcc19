package domain

import "time"

// RefundStatus описывает состояние возврата покупателю.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundMethod показывает, кто инициировал возврат.
type RefundMethod string

const (
	RefundMethodAutomatic RefundMethod = "automatic"
	RefundMethodManual    RefundMethod = "manual"
)

// Refund — возврат средств покупателю. На заказ допускается не более одной записи.
type Refund struct {
	ID          string
	OrderID     string
	CustomerID  string
	AmountMinor int64
	Reason      string
	Status      RefundStatus
	Method      RefundMethod
	// ClaimedUntil — срок аренды: до него другой sweep не возьмёт возврат в работу.
	ClaimedUntil time.Time
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefundOutcomeStatus — итог обработки одного заказа в sweep.
type RefundOutcomeStatus string

const (
	RefundOutcomeRefunded RefundOutcomeStatus = "refunded"
	RefundOutcomeSkipped  RefundOutcomeStatus = "skipped"
	RefundOutcomeFailed   RefundOutcomeStatus = "failed"
)

// RefundOutcome описывает результат по заказу для отчёта sweep.
type RefundOutcome struct {
	OrderID     string              `json:"order_id"`
	RefundID    string              `json:"refund_id,omitempty"`
	Status      RefundOutcomeStatus `json:"status"`
	AmountMinor int64               `json:"amount_minor"`
	DaysElapsed int                 `json:"days_elapsed"`
	Error       string              `json:"error,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}
