package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vutlhe160502tb/ToolAI-Render/pkg/qrpay"
	"go.uber.org/zap"
)

const (
	paymentMethodBankTransferQR = "BANK_TRANSFER_QR"
	transferContentPrefix       = "NAPCOIN"
	tempEmailFormat             = "temp_%s@temp.local"
	tempUserName                = "Temp User"
	creditTransactionAddition   = "ADDITION"
	vietQRImageFormat           = "https://img.vietqr.io/image/%s-%s-compact2.png?amount=%d&addInfo=%s&accountName=%s"

	// Reported amounts may arrive as floats; anything further than a
	// rounding hair from the order amount is a mismatch, not money to round.
	amountTolerance = 0.01
)

// BankSettings holds the receiving account details baked into every order.
type BankSettings struct {
	BankName      string
	BankID        string
	AccountNumber string
	AccountName   string
	WebhookSecret string
}

// PaymentService creates orders, reports their status, and settles them from
// webhook notifications.
type PaymentService struct {
	store  Store
	bank   BankSettings
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewPaymentService wires a PaymentService.
func NewPaymentService(store Store, bank BankSettings, now func() time.Time, logger *zap.Logger) (*PaymentService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{store: store, bank: bank, nowFn: now, logger: logger}, nil
}

// CreateOrderResult is the client-observable shape of a freshly created
// order.
type CreateOrderResult struct {
	TransactionID   string
	Status          PaymentState
	PaymentMethod   string
	Coins           int64
	AmountVND       int64
	QRCodeURL       string
	BankName        string
	AccountNumber   string
	TransferContent string
}

// StatusResult is the client-observable confirmation state of an order.
type StatusResult struct {
	TransactionID string
	Status        string
	Coins         int64
	AmountVND     int64
	UserID        string
	UserCredits   *int64
}

// CreateOrder validates the requested package, resolves (or fabricates) the
// ordering user, and persists a pending payment with its QR details. An
// unknown or absent user id yields a temp user so anonymous orders are
// accepted rather than rejected.
func (service *PaymentService) CreateOrder(ctx context.Context, userID string, coins int64, amountVND int64) (CreateOrderResult, error) {
	if !qrpay.ValidPackage(coins, amountVND) {
		return CreateOrderResult{}, fmt.Errorf("%w: coins=%d amount=%d", ErrInvalidPackage, coins, amountVND)
	}

	user, err := service.resolveOrderingUser(ctx, userID)
	if err != nil {
		return CreateOrderResult{}, err
	}

	transactionID := service.generateTransactionID()
	transferContent := transferContentPrefix + transactionID
	payment := Payment{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		TransactionID:   transactionID,
		Status:          PaymentStatePending,
		PaymentMethod:   paymentMethodBankTransferQR,
		Coins:           coins,
		AmountVND:       amountVND,
		BankName:        service.bank.BankName,
		AccountNumber:   service.bank.AccountNumber,
		TransferContent: transferContent,
		QRCodeURL:       service.buildVietQRURL(amountVND, transferContent),
	}
	if err := service.store.CreatePayment(ctx, payment); err != nil {
		return CreateOrderResult{}, err
	}

	service.logger.Info("payment order created",
		zap.String("transaction_id", transactionID),
		zap.String("user_id", user.ID),
		zap.Int64("coins", coins),
		zap.Int64("amount_vnd", amountVND))

	return CreateOrderResult{
		TransactionID:   payment.TransactionID,
		Status:          payment.Status,
		PaymentMethod:   payment.PaymentMethod,
		Coins:           payment.Coins,
		AmountVND:       payment.AmountVND,
		QRCodeURL:       payment.QRCodeURL,
		BankName:        payment.BankName,
		AccountNumber:   payment.AccountNumber,
		TransferContent: payment.TransferContent,
	}, nil
}

// Status looks up the confirmation state of a transaction, including the
// owner's current credits when the owner exists.
func (service *PaymentService) Status(ctx context.Context, transactionID string) (StatusResult, error) {
	payment, err := service.store.GetPaymentByTransactionID(ctx, transactionID)
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{
		TransactionID: payment.TransactionID,
		Status:        strings.ToLower(payment.Status.String()),
		Coins:         payment.Coins,
		AmountVND:     payment.AmountVND,
		UserID:        payment.UserID,
	}
	if payment.UserID != "" {
		user, err := service.store.GetUserByID(ctx, payment.UserID)
		if err == nil {
			credits := user.Credits
			result.UserCredits = &credits
		} else if !errors.Is(err, ErrUserNotFound) {
			return StatusResult{}, err
		}
	}
	return result, nil
}

// WebhookResult reports the settlement outcome of a webhook notification.
type WebhookResult struct {
	OK            bool
	Status        PaymentState
	TransactionID string
	UserID        string
	UserCredits   *int64
	Reason        string
}

// ProcessWebhook settles a payment from a bank notification. Already
// completed payments are acknowledged idempotently; an amount mismatch marks
// the payment failed; a success status completes it and grants the coins
// with a journal entry, all within one transaction.
func (service *PaymentService) ProcessWebhook(ctx context.Context, rawPayload []byte, signature string) (WebhookResult, error) {
	if service.bank.WebhookSecret != "" && signature != service.bank.WebhookSecret {
		return WebhookResult{}, ErrInvalidWebhookSignature
	}

	payload, err := parseWebhookPayload(rawPayload)
	if err != nil {
		return WebhookResult{}, err
	}

	var result WebhookResult
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		payment, err := txStore.GetPaymentByTransactionID(ctx, payload.transactionID)
		if err != nil {
			return err
		}

		if payment.Status == PaymentStateCompleted {
			result = WebhookResult{OK: true, Status: PaymentStateCompleted, TransactionID: payment.TransactionID}
			return nil
		}

		payment.RawWebhook = rawPayload

		if payload.amountVND != nil && math.Abs(*payload.amountVND-float64(payment.AmountVND)) > amountTolerance {
			payment.Status = PaymentStateFailed
			if err := txStore.UpdatePayment(ctx, payment); err != nil {
				return err
			}
			result = WebhookResult{OK: false, Status: PaymentStateFailed, TransactionID: payment.TransactionID, Reason: "amount mismatch"}
			return nil
		}

		if !isSuccessStatus(payload.status) {
			payment.Status = PaymentStateFailed
			if err := txStore.UpdatePayment(ctx, payment); err != nil {
				return err
			}
			result = WebhookResult{OK: true, Status: PaymentStateFailed, TransactionID: payment.TransactionID}
			return nil
		}

		payment.Status = PaymentStateCompleted
		if err := txStore.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		newCredits, err := addCredits(ctx, txStore, payment.UserID, payment.Coins, payment.TransactionID)
		if err != nil {
			return err
		}
		result = WebhookResult{
			OK:            true,
			Status:        PaymentStateCompleted,
			TransactionID: payment.TransactionID,
			UserID:        payment.UserID,
			UserCredits:   &newCredits,
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	service.logger.Info("webhook processed",
		zap.String("transaction_id", result.TransactionID),
		zap.String("status", result.Status.String()),
		zap.Bool("ok", result.OK))
	return result, nil
}

func (service *PaymentService) resolveOrderingUser(ctx context.Context, userID string) (User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed != "" {
		user, err := service.store.GetUserByID(ctx, trimmed)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return User{}, err
		}
	}

	tempID := uuid.NewString()
	tempUser := User{
		ID:    tempID,
		Email: fmt.Sprintf(tempEmailFormat, tempID),
		Name:  tempUserName,
	}
	if err := service.store.CreateUser(ctx, tempUser); err != nil {
		return User{}, err
	}
	return tempUser, nil
}

func (service *PaymentService) generateTransactionID() string {
	return fmt.Sprintf("TXN-%d-%d", service.nowFn().Unix(), 100000+rand.IntN(900000))
}

func (service *PaymentService) buildVietQRURL(amountVND int64, transferContent string) string {
	return fmt.Sprintf(vietQRImageFormat,
		service.bank.BankID,
		service.bank.AccountNumber,
		amountVND,
		url.QueryEscape(transferContent),
		url.QueryEscape(service.bank.AccountName))
}

// addCredits applies a balance change and records the journal line. Callers
// run it inside a store transaction.
func addCredits(ctx context.Context, txStore Store, userID string, coins int64, paymentTransactionID string) (int64, error) {
	user, err := txStore.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	user.Credits += coins
	if err := txStore.UpdateUser(ctx, user); err != nil {
		return 0, err
	}
	entry := CreditTransaction{
		ID:                   uuid.NewString(),
		UserID:               user.ID,
		PaymentTransactionID: paymentTransactionID,
		Type:                 creditTransactionAddition,
		Amount:               coins,
	}
	if err := txStore.InsertCreditTransaction(ctx, entry); err != nil {
		return 0, err
	}
	return user.Credits, nil
}

type webhookPayload struct {
	transactionID string
	status        string
	amountVND     *float64
}

// parseWebhookPayload accepts the minimal notification shape and tolerates
// the field-name variants seen from upstream gateways. Extra fields are
// ignored.
func parseWebhookPayload(raw []byte) (webhookPayload, error) {
	var decoded struct {
		TransactionID  string          `json:"transaction_id"`
		TransactionAlt string          `json:"transactionId"`
		TxnID          string          `json:"txn_id"`
		Status         string          `json:"status"`
		Amount         json.RawMessage `json:"amount"`
		AmountVND      json.RawMessage `json:"amount_vnd"`
		AmountVNDAlt   json.RawMessage `json:"amountVnd"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return webhookPayload{}, fmt.Errorf("%w: %v", ErrMissingTransactionID, err)
	}

	transactionID := decoded.TransactionID
	if transactionID == "" {
		transactionID = decoded.TransactionAlt
	}
	if transactionID == "" {
		transactionID = decoded.TxnID
	}
	if strings.TrimSpace(transactionID) == "" {
		return webhookPayload{}, ErrMissingTransactionID
	}

	payload := webhookPayload{transactionID: transactionID, status: decoded.Status}
	for _, rawAmount := range []json.RawMessage{decoded.Amount, decoded.AmountVND, decoded.AmountVNDAlt} {
		if amount, ok := parseAmount(rawAmount); ok {
			payload.amountVND = &amount
			break
		}
	}
	return payload, nil
}

// parseAmount keeps the reported amount as a float so the settlement check
// can compare it against the order amount with tolerance. A string that is
// not entirely a number is treated as no amount at all.
func parseAmount(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, true
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(asString), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func isSuccessStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "completed", "paid":
		return true
	default:
		return false
	}
}
