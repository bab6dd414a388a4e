package qrpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	createOrderPath   = "/payments/create-order"
	statusPathFormat  = "/payments/%s/status"
	defaultHTTPExpiry = 10 * time.Second
)

// OrderClient talks to the payment backend. It holds no state beyond the
// connection settings: retries, if any, belong to the caller.
type OrderClient struct {
	baseURL    string
	httpClient *http.Client
}

// OrderClientOption configures an OrderClient.
type OrderClientOption func(*OrderClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) OrderClientOption {
	return func(client *OrderClient) {
		client.httpClient = httpClient
	}
}

// NewOrderClient wires an OrderClient against the backend base URL.
func NewOrderClient(baseURL string, options ...OrderClientOption) (*OrderClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidClientConfig)
	}
	client := &OrderClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultHTTPExpiry},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type createOrderRequest struct {
	UserID string `json:"user_id,omitempty"`
	Coins  int64  `json:"coins"`
	Amount int64  `json:"amount"`
}

type createOrderResponse struct {
	TransactionID   string `json:"transaction_id"`
	QRCodeURL       string `json:"qr_code_url"`
	BankName        string `json:"bank_name"`
	AccountNumber   string `json:"account_number"`
	TransferContent string `json:"transfer_content"`
	QRContent       string `json:"qr_content"`
	Amount          int64  `json:"amount"`
	Coins           int64  `json:"coins"`
	Status          string `json:"status"`
}

type statusResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Coins         int64  `json:"coins"`
	Credits       *int64 `json:"credits"`
}

type backendFailureBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Create places a new payment order. An empty userID is accepted and yields
// an anonymous order that cannot later be reconciled to a session balance.
func (client *OrderClient) Create(ctx context.Context, userID string, coins int64, amountVND int64) (PaymentOrder, error) {
	if coins <= 0 {
		return PaymentOrder{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCoins)
	}
	if amountVND <= 0 {
		return PaymentOrder{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}

	payload, err := json.Marshal(createOrderRequest{
		UserID: strings.TrimSpace(userID),
		Coins:  coins,
		Amount: amountVND,
	})
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("%w: encode request: %v", ErrDecode, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+createOrderPath, bytes.NewReader(payload))
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	request.Header.Set("Content-Type", "application/json")

	body, err := client.do(request)
	if err != nil {
		return PaymentOrder{}, err
	}

	var decoded createOrderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return PaymentOrder{}, fmt.Errorf("%w: create order response: %v", ErrDecode, err)
	}
	if strings.TrimSpace(decoded.TransactionID) == "" {
		return PaymentOrder{}, fmt.Errorf("%w: create order response missing transaction id", ErrDecode)
	}

	transferContent := decoded.TransferContent
	if transferContent == "" {
		transferContent = decoded.QRContent
	}
	return PaymentOrder{
		TransactionID:   decoded.TransactionID,
		Coins:           decoded.Coins,
		AmountVND:       decoded.Amount,
		QRImageURL:      decoded.QRCodeURL,
		TransferContent: transferContent,
		BankName:        decoded.BankName,
		AccountNumber:   decoded.AccountNumber,
		Status:          ParseOrderStatus(decoded.Status),
	}, nil
}

// Status fetches the current confirmation state of a transaction.
func (client *OrderClient) Status(ctx context.Context, transactionID string) (StatusSnapshot, error) {
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return StatusSnapshot{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}

	statusURL := client.baseURL + fmt.Sprintf(statusPathFormat, url.PathEscape(trimmed))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}

	body, err := client.do(request)
	if err != nil {
		return StatusSnapshot{}, err
	}

	var decoded statusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return StatusSnapshot{}, fmt.Errorf("%w: status response: %v", ErrDecode, err)
	}
	return StatusSnapshot{
		TransactionID: decoded.TransactionID,
		Status:        ParseOrderStatus(decoded.Status),
		RawStatus:     decoded.Status,
		AmountVND:     decoded.Amount,
		Coins:         decoded.Coins,
		Credits:       decoded.Credits,
	}, nil
}

func (client *OrderClient) do(request *http.Request) ([]byte, error) {
	response, err := client.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &BackendError{
			StatusCode: response.StatusCode,
			Message:    backendFailureMessage(body),
		}
	}
	return body, nil
}

func backendFailureMessage(body []byte) string {
	var failure backendFailureBody
	if err := json.Unmarshal(body, &failure); err != nil {
		return ""
	}
	if failure.Message != "" {
		return failure.Message
	}
	return failure.Detail
}
