package gateway

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Carrier — оператор мобильных денег, способный перевести деньги продавцу.
type Carrier interface {
	Operator() domain.Operator
	Disburse(ctx context.Context, req DisburseRequest) (DisburseResult, error)
}

// Префиксы национальных номеров (после кода страны).
var (
	mtnPrefixes    = []string{"67", "68", "650", "651", "652", "653", "654"}
	orangePrefixes = []string{"69", "655", "656", "657", "658", "659"}
)

type prefixCarrier struct {
	client   *Client
	operator domain.Operator
	prefixes []string
}

func (c *prefixCarrier) Operator() domain.Operator {
	return c.operator
}

// Disburse проверяет, что номер принадлежит оператору, до сетевого вызова.
func (c *prefixCarrier) Disburse(ctx context.Context, req DisburseRequest) (DisburseResult, error) {
	phone, err := NormalizePhone(req.Phone, c.client.CountryCode())
	if err != nil {
		return DisburseResult{}, err
	}
	if !hasAnyPrefix(nationalNumber(phone, c.client.CountryCode()), c.prefixes) {
		return DisburseResult{}, &Error{
			Code:    CodeUnsupportedCarrier,
			Message: fmt.Sprintf("number %s does not belong to %s", phone, c.operator),
		}
	}
	return c.client.disburse(ctx, c.operator, req, phone)
}

// NewMTNCarrier создаёт оператора MTN Mobile Money.
func NewMTNCarrier(client *Client) Carrier {
	return &prefixCarrier{client: client, operator: domain.OperatorMTN, prefixes: mtnPrefixes}
}

// NewOrangeCarrier создаёт оператора Orange Money.
func NewOrangeCarrier(client *Client) Carrier {
	return &prefixCarrier{client: client, operator: domain.OperatorOrange, prefixes: orangePrefixes}
}

// Registry хранит операторов, собранных при конфигурации.
type Registry struct {
	carriers map[domain.Operator]Carrier
}

// NewRegistry собирает реестр; повторный оператор заменяет предыдущего.
func NewRegistry(carriers ...Carrier) *Registry {
	r := &Registry{carriers: make(map[domain.Operator]Carrier, len(carriers))}
	for _, c := range carriers {
		r.carriers[c.Operator()] = c
	}
	return r
}

// NewDefaultRegistry регистрирует MTN и Orange поверх одного клиента.
func NewDefaultRegistry(client *Client) *Registry {
	return NewRegistry(NewMTNCarrier(client), NewOrangeCarrier(client))
}

// Carrier возвращает оператора или ошибку ErrUnsupportedCarrier.
func (r *Registry) Carrier(op domain.Operator) (Carrier, error) {
	c, ok := r.carriers[op]
	if !ok {
		return nil, &Error{Code: CodeUnsupportedCarrier, Message: fmt.Sprintf("carrier %q is not configured", op)}
	}
	return c, nil
}
