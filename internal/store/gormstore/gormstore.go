package gormstore

import (
	"context"
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vutlhe160502tb/ToolAI-Render/internal/backend"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectUser      = "user"
	errorSubjectPayment   = "payment"
	errorSubjectCreditTx  = "credit_transaction"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeUpdate       = "update"
)

// Store implements backend.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore backend.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetUserByID(ctx context.Context, userID string) (backend.User, error) {
	var model UserModel
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backend.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, backend.ErrUserNotFound)
		}
		return backend.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model), nil
}

func (store *Store) GetUserByEmail(ctx context.Context, email string) (backend.User, error) {
	var model UserModel
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backend.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, backend.ErrUserNotFound)
		}
		return backend.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model), nil
}

func (store *Store) CreateUser(ctx context.Context, user backend.User) error {
	model := userModel(user)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, backend.ErrDuplicateEmail)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdateUser(ctx context.Context, user backend.User) error {
	model := userModel(user)
	result := store.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", user.ID).Updates(map[string]any{
		"name":     model.Name,
		"picture":  model.Picture,
		"credits":  model.Credits,
		"is_admin": model.IsAdmin,
	})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, backend.ErrUserNotFound)
	}
	return nil
}

func (store *Store) CreatePayment(ctx context.Context, payment backend.Payment) error {
	model := paymentModel(payment)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPaymentByTransactionID(ctx context.Context, transactionID string) (backend.Payment, error) {
	var model PaymentModel
	err := store.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backend.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, backend.ErrPaymentNotFound)
		}
		return backend.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	return mapPayment(model), nil
}

func (store *Store) UpdatePayment(ctx context.Context, payment backend.Payment) error {
	model := paymentModel(payment)
	result := store.db.WithContext(ctx).Model(&PaymentModel{}).Where("transaction_id = ?", payment.TransactionID).Updates(map[string]any{
		"status":      model.Status,
		"raw_webhook": model.RawWebhook,
	})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdate, backend.ErrPaymentNotFound)
	}
	return nil
}

func (store *Store) InsertCreditTransaction(ctx context.Context, entry backend.CreditTransaction) error {
	model := CreditTransactionModel{
		ID:     entry.ID,
		UserID: entry.UserID,
		Type:   entry.Type,
		Amount: entry.Amount,
	}
	if entry.PaymentTransactionID != "" {
		value := entry.PaymentTransactionID
		model.PaymentTransactionID = &value
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectCreditTx, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return backend.WrapError(errorOperationStore, subject, code, err)
}

func userModel(user backend.User) UserModel {
	model := UserModel{
		ID:      user.ID,
		Email:   user.Email,
		Name:    user.Name,
		Credits: user.Credits,
		IsAdmin: user.IsAdmin,
	}
	if user.Picture != "" {
		value := user.Picture
		model.Picture = &value
	}
	if user.GoogleID != "" {
		value := user.GoogleID
		model.GoogleID = &value
	}
	return model
}

func mapUser(model UserModel) backend.User {
	return backend.User{
		ID:       model.ID,
		Email:    model.Email,
		Name:     model.Name,
		Picture:  stringOrEmpty(model.Picture),
		GoogleID: stringOrEmpty(model.GoogleID),
		Credits:  model.Credits,
		IsAdmin:  model.IsAdmin,
	}
}

func paymentModel(payment backend.Payment) PaymentModel {
	model := PaymentModel{
		ID:              payment.ID,
		UserID:          payment.UserID,
		TransactionID:   payment.TransactionID,
		Status:          payment.Status.String(),
		PaymentMethod:   payment.PaymentMethod,
		Coins:           payment.Coins,
		AmountVND:       payment.AmountVND,
		BankName:        payment.BankName,
		AccountNumber:   payment.AccountNumber,
		TransferContent: payment.TransferContent,
		QRCodeURL:       payment.QRCodeURL,
	}
	if len(payment.RawWebhook) != 0 {
		model.RawWebhook = datatypes.JSON(payment.RawWebhook)
	}
	return model
}

func mapPayment(model PaymentModel) backend.Payment {
	return backend.Payment{
		ID:              model.ID,
		UserID:          model.UserID,
		TransactionID:   model.TransactionID,
		Status:          backend.PaymentState(model.Status),
		PaymentMethod:   model.PaymentMethod,
		Coins:           model.Coins,
		AmountVND:       model.AmountVND,
		BankName:        model.BankName,
		AccountNumber:   model.AccountNumber,
		TransferContent: model.TransferContent,
		QRCodeURL:       model.QRCodeURL,
		RawWebhook:      []byte(model.RawWebhook),
	}
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
