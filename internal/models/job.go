package models

import "time"

// Состояния джобы. Порядок фиксированный: назад двигаемся только
// через FAILED -> QUEUED (явный повторный enqueue).
const (
	JobStateQueued    = "QUEUED"
	JobStateBooking   = "BOOKING"
	JobStateBooked    = "BOOKED"
	JobStateFetching  = "FETCHING"
	JobStateMerged    = "MERGED"
	JobStateReporting = "REPORTING"
	JobStateDone      = "DONE"
	JobStateFailed    = "FAILED"
)

type Job struct {
	ID             uint64
	OrderID        string
	State          string
	AttemptCount   int32
	PayloadJSON    string
	TrackingNumber *string
	LabelRef       *string
	LastError      *string
	NextAttemptAt  time.Time
	BookedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasLabelRef reports whether a booking already produced a label for this job.
func (j *Job) HasLabelRef() bool {
	return j.LabelRef != nil && *j.LabelRef != ""
}

// OrderPayload — каноническая запись заказа от шага инжеста.
// Хранится как есть в момент создания джобы и больше не перезаписывается.
type OrderPayload struct {
	OrderID     string     `json:"order_id"`
	OrderNumber string     `json:"order_number,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Recipient   Recipient  `json:"recipient"`
	Address     Address    `json:"address"`
	LineItems   []LineItem `json:"line_items,omitempty"`
}

type Recipient struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Address struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
}

type LineItem struct {
	SKU      string `json:"sku,omitempty"`
	Title    string `json:"title,omitempty"`
	Quantity int    `json:"quantity"`
	Grams    int    `json:"grams"`
}
