package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserModel represents the users table.
type UserModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"not null;uniqueIndex:uniq_users_email"`
	Name      string
	Picture   *string
	GoogleID  *string
	Credits   int64     `gorm:"not null;default:0"`
	IsAdmin   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

func (user *UserModel) BeforeCreate(tx *gorm.DB) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

// PaymentModel represents the payments table.
type PaymentModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	UserID          string `gorm:"type:uuid;not null;index:idx_payments_user"`
	TransactionID   string `gorm:"not null;uniqueIndex:uniq_payments_transaction"`
	Status          string `gorm:"not null"`
	PaymentMethod   string `gorm:"not null"`
	Coins           int64  `gorm:"not null"`
	AmountVND       int64  `gorm:"not null"`
	BankName        string
	AccountNumber   string
	TransferContent string
	QRCodeURL       string
	RawWebhook      datatypes.JSON
	CreatedAt       time.Time `gorm:"not null;index:idx_payments_created"`
	UpdatedAt       time.Time
}

func (PaymentModel) TableName() string { return "payments" }

func (payment *PaymentModel) BeforeCreate(tx *gorm.DB) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	return nil
}

// CreditTransactionModel represents the credit_transactions journal table.
type CreditTransactionModel struct {
	ID                   string `gorm:"type:uuid;primaryKey"`
	UserID               string `gorm:"type:uuid;not null;index:idx_credit_tx_user"`
	PaymentTransactionID *string
	Type                 string    `gorm:"not null"`
	Amount               int64     `gorm:"not null"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (CreditTransactionModel) TableName() string { return "credit_transactions" }

func (entry *CreditTransactionModel) BeforeCreate(tx *gorm.DB) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table for schema migration.
func Models() []any {
	return []any{&UserModel{}, &PaymentModel{}, &CreditTransactionModel{}}
}
