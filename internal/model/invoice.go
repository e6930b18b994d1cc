package model

import "time"

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusPaymentFailed InvoiceStatus = "payment_failed"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

func (s InvoiceStatus) String() string { return string(s) }

// Invoice is the slice of the platform's invoice row that webhook handlers touch.
type Invoice struct {
	ID        string        `db:"id"`
	Status    InvoiceStatus `db:"status"`
	PaidAt    *time.Time    `db:"paid_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}
