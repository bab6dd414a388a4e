package qrpay

import (
	"errors"
	"fmt"
)

// Error values surfaced by the payment confirmation protocol.
var (
	ErrTransport            = errors.New("transport failure")
	ErrBackendRejected      = errors.New("backend rejected request")
	ErrDecode               = errors.New("malformed backend response")
	ErrCancelled            = errors.New("operation cancelled")
	ErrInvalidCoins         = errors.New("invalid coins")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidClientConfig  = errors.New("invalid client config")
	ErrInvalidMachineConfig = errors.New("invalid machine config")
)

// BackendError carries the structured message of a non-2xx backend reply.
type BackendError struct {
	StatusCode int
	Message    string
}

// Error returns the formatted error message.
func (backendError *BackendError) Error() string {
	if backendError.Message == "" {
		return fmt.Sprintf("backend rejected request: status %d", backendError.StatusCode)
	}
	return fmt.Sprintf("backend rejected request: status %d: %s", backendError.StatusCode, backendError.Message)
}

// Unwrap ties BackendError into the ErrBackendRejected sentinel.
func (backendError *BackendError) Unwrap() error {
	return ErrBackendRejected
}
