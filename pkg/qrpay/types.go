package qrpay

import "strings"

// OrderStatus is the closed set of order lifecycle states reported by the
// backend. Any server value outside pending/completed/failed parses to
// StatusUnknown, which is deliberately non-terminal: an unrecognized status
// keeps the poller alive instead of silently ending confirmation.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
	StatusUnknown   OrderStatus = "unknown"
)

// ParseOrderStatus normalizes a raw backend status string.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusPending):
		return StatusPending
	case string(StatusCompleted):
		return StatusCompleted
	case string(StatusFailed):
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends polling.
func (status OrderStatus) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed
}

// String returns the normalized status value.
func (status OrderStatus) String() string {
	return string(status)
}

// PaymentOrder is a single requested credit purchase awaiting bank-transfer
// confirmation. All fields except Status are fixed at creation time; Status
// only changes by applying server-reported values.
type PaymentOrder struct {
	TransactionID   string
	Coins           int64
	AmountVND       int64
	QRImageURL      string
	TransferContent string
	BankName        string
	AccountNumber   string
	Status          OrderStatus
}

// StatusSnapshot is one observed point of an order's confirmation progress.
// RawStatus keeps the untranslated server value for observability when the
// parsed status is StatusUnknown.
type StatusSnapshot struct {
	TransactionID string
	Status        OrderStatus
	RawStatus     string
	AmountVND     int64
	Coins         int64
	Credits       *int64
}
