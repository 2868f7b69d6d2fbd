package fulfillment

import "context"

// Client отправляет трек-номер обратно в платформу заказа. Неудачный
// репорт никогда не отменяет уже забронированную отправку.
type Client interface {
	Report(ctx context.Context, orderID, trackingNumber string) error
}
