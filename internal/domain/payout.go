package domain

import (
	"strings"
	"time"
)

// Operator — мобильный оператор, через которого уходит выплата.
type Operator string

const (
	OperatorMTN    Operator = "MTN"
	OperatorOrange Operator = "ORANGE"
)

// ParseOperator разбирает оператора из конфигурации или запроса. Пустая строка допустима.
func ParseOperator(raw string) (Operator, error) {
	switch Operator(strings.ToUpper(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case OperatorMTN:
		return OperatorMTN, nil
	case OperatorOrange:
		return OperatorOrange, nil
	default:
		return "", ErrUnsupportedCarrier
	}
}

// PayoutStatus описывает состояние выплаты продавцу.
type PayoutStatus string

const (
	// PayoutStatusPending — строка зарезервирована, запрос к шлюзу ещё не завершён.
	PayoutStatusPending PayoutStatus = "pending"
	// PayoutStatusCompleted — шлюз подтвердил перевод, баланс продавца увеличен.
	PayoutStatusCompleted PayoutStatus = "completed"
	// PayoutStatusFailed — перевод не прошёл, причина в Notes.
	PayoutStatusFailed PayoutStatus = "failed"
)

// Payout — перевод площадки продавцу за позицию, перешедшую в processing.
type Payout struct {
	ID          string
	VendorID    string
	OrderID     string
	OrderItemID string
	// TargetStatus — переход позиции, породивший выплату; вместе с OrderItemID уникален.
	TargetStatus OrderStatus
	AmountMinor  int64
	Status       PayoutStatus
	Reference    string
	Operator     Operator
	Phone        string
	Notes        string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PayoutResult — итог вызова сервиса выплат для вызывающей стороны.
type PayoutResult struct {
	PayoutID    string       `json:"payout_id,omitempty"`
	Status      PayoutStatus `json:"status"`
	AmountMinor int64        `json:"amount_minor"`
	Operator    Operator     `json:"operator,omitempty"`
	Reference   string       `json:"reference,omitempty"`
	Simulated   bool         `json:"simulated,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// PayoutCompletion описывает успешное завершение выплаты и начисление продавцу.
type PayoutCompletion struct {
	PayoutID    string
	VendorID    string
	AmountMinor int64
	Reference   string
	// Operator и Phone фиксируют реквизиты, выбранные при повторе; пустые не меняют строку.
	Operator    Operator
	Phone       string
	CompletedAt time.Time
}

// PayoutDestination — куда отправлять деньги продавцу.
type PayoutDestination struct {
	Operator Operator
	Phone    string
}

// Vendor хранит платёжные реквизиты и накопительные суммы продавца.
type Vendor struct {
	ID                    string
	Name                  string
	Email                 string
	PreferredOperator     Operator
	MTNPhone              string
	OrangePhone           string
	BalanceMinor          int64
	TotalEarningsMinor    int64
	LastPayoutAt          time.Time
	LastPayoutAmountMinor int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (v Vendor) phoneFor(op Operator) string {
	switch op {
	case OperatorMTN:
		return strings.TrimSpace(v.MTNPhone)
	case OperatorOrange:
		return strings.TrimSpace(v.OrangePhone)
	default:
		return ""
	}
}

// ResolveDestination выбирает реквизиты выплаты.
//
// Порядок фиксирован: явно запрошенный оператор, затем предпочтение продавца,
// затем MTN, затем Orange. Явный оператор без номера — ошибка, а не переход дальше.
func (v Vendor) ResolveDestination(explicit Operator) (PayoutDestination, error) {
	if explicit != "" {
		phone := v.phoneFor(explicit)
		if phone == "" {
			return PayoutDestination{}, ErrPayoutConfigMissing
		}
		return PayoutDestination{Operator: explicit, Phone: phone}, nil
	}

	for _, op := range []Operator{v.PreferredOperator, OperatorMTN, OperatorOrange} {
		if op == "" {
			continue
		}
		if phone := v.phoneFor(op); phone != "" {
			return PayoutDestination{Operator: op, Phone: phone}, nil
		}
	}

	return PayoutDestination{}, ErrPayoutConfigMissing
}
