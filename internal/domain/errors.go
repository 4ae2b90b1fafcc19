package domain

import "errors"

// Ошибки валидации входных данных.
var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка пустой корзины.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего адреса доставки или оплаты.
	ErrAddressRequired = errors.New("shipping and billing address are required")
	// Ошибка позиции без продавца.
	ErrVendorRequired = errors.New("vendor_id is required on every item")
	// Ошибка позиции без товара.
	ErrProductRequired = errors.New("product_id is required on every item")
	// Продавец не может покупать свои же товары.
	ErrSelfPurchase = errors.New("vendor cannot purchase own products")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Цена продажи ниже базовой цены продавца.
	ErrItemPriceBelowBase = errors.New("item price is below vendor base price")
	// vendor_id позиции не совпадает с владельцем товара.
	ErrVendorMismatch = errors.New("vendor_id does not own the product")
	// Ошибка неизвестного статуса позиции.
	ErrStatusInvalid = errors.New("unknown item status")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
)

// Ошибки состояния и доступа.
var (
	// Продавец пытается изменить чужую позицию.
	ErrForbidden = errors.New("actor does not own this order item")
	// Переход назад или из терминального статуса.
	ErrInvalidTransition = errors.New("invalid item status transition")
	// Статус позиции изменился параллельным запросом.
	ErrItemStatusConflict = errors.New("order item status changed concurrently")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderItemNotFound возвращается, если позиция не найдена.
	ErrOrderItemNotFound = errors.New("order item not found")
	// Заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrVendorNotFound возвращается, если продавец не найден.
	ErrVendorNotFound = errors.New("vendor not found")
	// Заказ ещё не оплачен.
	ErrPaymentNotCompleted = errors.New("order payment is not completed")
	// Статус оплаты не совпал с ожидаемым.
	ErrPaymentStatusConflict = errors.New("order payment status does not match")
)

// Ошибки выплат и возвратов.
var (
	// У продавца не настроены реквизиты выплаты.
	ErrPayoutConfigMissing = errors.New("vendor payout destination is not configured")
	// Выплата за этот переход позиции уже зарезервирована.
	ErrPayoutAlreadyExists = errors.New("payout already exists for order item transition")
	// ErrPayoutNotFound возвращается, если выплата не найдена.
	ErrPayoutNotFound = errors.New("payout not found")
	// Возврат по заказу уже выполнен или взят в работу.
	ErrRefundAlreadyExists = errors.New("refund already exists for order")
	// ErrRefundNotFound возвращается, если возврат не найден.
	ErrRefundNotFound = errors.New("refund not found")
)

// Таксономия ошибок платёжного шлюза.
var (
	ErrInvalidDestination  = errors.New("invalid payout destination")
	ErrUnsupportedCarrier  = errors.New("unsupported carrier")
	ErrInvalidAmount       = errors.New("invalid payout amount")
	ErrInsufficientBalance = errors.New("insufficient platform balance")
	ErrGatewayUnknown      = errors.New("payout gateway error")
)

// Ошибки инфраструктуры.
var (
	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// Блокировку держит другой процесс.
	ErrLockNotAcquired = errors.New("lock is held by another owner")
)

// Ошибки ключей идемпотентности.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsValidation сообщает, что ошибка вызвана некорректным вводом.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrCustomerRequired, ErrItemsRequired, ErrAddressRequired, ErrVendorRequired,
		ErrProductRequired, ErrSelfPurchase, ErrItemQtyInvalid, ErrItemPriceInvalid,
		ErrItemPriceBelowBase, ErrVendorMismatch, ErrStatusInvalid, ErrOrderIDRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderItemNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrVendorNotFound) ||
		errors.Is(err, ErrPayoutNotFound) ||
		errors.Is(err, ErrRefundNotFound)
}
