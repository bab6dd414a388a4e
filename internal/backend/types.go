package backend

import "context"

// PaymentState is the stored payment lifecycle value. The status endpoint
// lowercases it on the way out; storage keeps the original uppercase form.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "PENDING"
	PaymentStateCompleted PaymentState = "COMPLETED"
	PaymentStateFailed    PaymentState = "FAILED"
)

// String returns the stored status value.
func (state PaymentState) String() string {
	return string(state)
}

// User is an account holder. Credits live here as the source of truth.
type User struct {
	ID       string
	Email    string
	Name     string
	Picture  string
	GoogleID string
	Credits  int64
	IsAdmin  bool
}

// Payment is one bank-transfer QR order.
type Payment struct {
	ID              string
	UserID          string
	TransactionID   string
	Status          PaymentState
	PaymentMethod   string
	Coins           int64
	AmountVND       int64
	BankName        string
	AccountNumber   string
	TransferContent string
	QRCodeURL       string
	RawWebhook      []byte
}

// CreditTransaction is one journal line of a credit balance change.
type CreditTransaction struct {
	ID                   string
	UserID               string
	PaymentTransactionID string
	Type                 string
	Amount               int64
}

// Store is the persistence contract used by the backend services.
// (gormstore implements this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	CreatePayment(ctx context.Context, payment Payment) error
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (Payment, error)
	UpdatePayment(ctx context.Context, payment Payment) error
	InsertCreditTransaction(ctx context.Context, entry CreditTransaction) error
}
