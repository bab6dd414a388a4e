package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	googleAuthPath    = "/auth/google"
	balancePathFormat = "/account/%s/balance"
	defaultHTTPExpiry = 10 * time.Second
)

// AccountClient is the HTTP implementation of AccountSyncer against the
// payment backend. It also serves as the post-completion balance-refresh
// target.
type AccountClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// AccountClientOption configures an AccountClient.
type AccountClientOption func(*AccountClient)

// WithAccountHTTPClient overrides the underlying http.Client.
func WithAccountHTTPClient(httpClient *http.Client) AccountClientOption {
	return func(client *AccountClient) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithAccountLogger wires a logger.
func WithAccountLogger(logger *zap.Logger) AccountClientOption {
	return func(client *AccountClient) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewAccountClient wires an AccountClient against the backend base URL.
func NewAccountClient(baseURL string, options ...AccountClientOption) (*AccountClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidPipelineConfig)
	}
	client := &AccountClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultHTTPExpiry},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type googleAuthRequest struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type googleAuthResponse struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
	IsAdmin bool   `json:"is_admin"`
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}

// SyncGoogleIdentity exchanges the Google ID token for backend account data.
func (client *AccountClient) SyncGoogleIdentity(ctx context.Context, identity Identity, providerToken string) (AccountRecord, error) {
	payload, err := json.Marshal(googleAuthRequest{
		Token:     providerToken,
		Email:     identity.Email,
		Name:      identity.DisplayName,
		AvatarURL: identity.AvatarURL,
	})
	if err != nil {
		return AccountRecord{}, fmt.Errorf("encode auth request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+googleAuthPath, bytes.NewReader(payload))
	if err != nil {
		return AccountRecord{}, fmt.Errorf("build auth request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	body, err := client.do(request)
	if err != nil {
		return AccountRecord{}, err
	}

	var decoded googleAuthResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return AccountRecord{}, fmt.Errorf("decode auth response: %w", err)
	}
	if strings.TrimSpace(decoded.UserID) == "" {
		return AccountRecord{}, fmt.Errorf("auth response missing user id")
	}
	return AccountRecord{
		InternalUserID: decoded.UserID,
		CreditBalance:  decoded.Credits,
		IsPrivileged:   decoded.IsAdmin,
	}, nil
}

// Balance fetches the current credit balance for a backend user.
func (client *AccountClient) Balance(ctx context.Context, internalUserID string) (int64, error) {
	trimmed := strings.TrimSpace(internalUserID)
	if trimmed == "" {
		return 0, fmt.Errorf("user id is required")
	}

	balanceURL := client.baseURL + fmt.Sprintf(balancePathFormat, url.PathEscape(trimmed))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, balanceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build balance request: %w", err)
	}

	body, err := client.do(request)
	if err != nil {
		return 0, err
	}

	var decoded balanceResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, fmt.Errorf("decode balance response: %w", err)
	}
	return decoded.Credits, nil
}

// RefreshBalance re-fetches the balance after a completed payment. Failures
// are logged only: the refresh is a best-effort UI signal, not part of the
// payment outcome.
func (client *AccountClient) RefreshBalance(ctx context.Context, internalUserID string) {
	credits, err := client.Balance(ctx, internalUserID)
	if err != nil {
		client.logger.Warn("balance refresh failed",
			zap.String("user_id", internalUserID),
			zap.Error(err))
		return
	}
	client.logger.Info("balance refreshed",
		zap.String("user_id", internalUserID),
		zap.Int64("credits", credits))
}

func (client *AccountClient) do(request *http.Request) ([]byte, error) {
	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("account backend call: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read account response: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("account backend status %d", response.StatusCode)
	}
	return body, nil
}
