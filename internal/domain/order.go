package domain

import "time"

// OrderStatus enumerates payment states.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

// Order gates generation and download for a single job.
type Order struct {
	ID              string
	JobID           string
	Status          OrderStatus
	AmountCents     int
	Currency        string
	ProviderOrderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *Order) Paid() bool {
	return o != nil && o.Status == OrderStatusPaid
}
