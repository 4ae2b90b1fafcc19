package gateway

import (
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Коды ошибок платёжного шлюза.
const (
	CodeInvalidDestination  = "ER101"
	CodeUnsupportedCarrier  = "ER102"
	CodeInvalidAmount       = "ER201"
	CodeInsufficientBalance = "ER301"
)

// Error — ошибка шлюза с исходным кодом; errors.Is сопоставляет её с доменной таксономией.
type Error struct {
	Code    string
	Message string
	// HTTPStatus — статус ответа шлюза; 0 для ошибок, выявленных до сетевого вызова.
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: %s", e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Code, e.Message)
}

// Unwrap возвращает доменную ошибку, соответствующую коду.
func (e *Error) Unwrap() error {
	return Classify(e.Code)
}

// Classify переводит код шлюза в доменную ошибку; неизвестные коды дают ErrGatewayUnknown.
func Classify(code string) error {
	switch code {
	case CodeInvalidDestination:
		return domain.ErrInvalidDestination
	case CodeUnsupportedCarrier:
		return domain.ErrUnsupportedCarrier
	case CodeInvalidAmount:
		return domain.ErrInvalidAmount
	case CodeInsufficientBalance:
		return domain.ErrInsufficientBalance
	default:
		return domain.ErrGatewayUnknown
	}
}
