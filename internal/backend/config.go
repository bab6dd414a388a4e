package backend

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr    = ":8000"
	defaultBankName      = "VietinBank"
	defaultBankID        = "970415"
	defaultAccountNumber = "113366668888"
	defaultAccountName   = "RENDERTOOL"
	defaultAllowedOrigin = "http://localhost:3000"
)

// Config aggregates runtime settings for the payment backend.
type Config struct {
	ListenAddr     string
	DatabaseURL    string
	AllowedOrigins []string
	BankName       string
	BankID         string
	AccountNumber  string
	AccountName    string
	WebhookSecret  string
	GoogleClientID string
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.BankName = defaultIfEmpty(cfg.BankName, defaultBankName)
	cfg.BankID = defaultIfEmpty(cfg.BankID, defaultBankID)
	cfg.AccountNumber = defaultIfEmpty(cfg.AccountNumber, defaultAccountNumber)
	cfg.AccountName = defaultIfEmpty(cfg.AccountName, defaultAccountName)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	return nil
}

// Bank projects the bank-facing settings.
func (cfg *Config) Bank() BankSettings {
	return BankSettings{
		BankName:      cfg.BankName,
		BankID:        cfg.BankID,
		AccountNumber: cfg.AccountNumber,
		AccountName:   cfg.AccountName,
		WebhookSecret: cfg.WebhookSecret,
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
