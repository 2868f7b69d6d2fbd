package messages

import "time"

// JobUpdated публикуется воркером на каждом значимом переходе джобы.
// pack-api подхватывает их для ленты последних событий.
type JobUpdated struct {
	EventID string    `json:"event_id"`
	OrderID string    `json:"order_id"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`

	TrackingNumber string `json:"tracking_number,omitempty"`
	AttemptCount   int32  `json:"attempt_count,omitempty"`
	Error          string `json:"error,omitempty"`
}
