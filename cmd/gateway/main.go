package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vutlhe160502tb/ToolAI-Render/internal/gateway"
)

const (
	flagListenAddr        = "listen-addr"
	flagBackendURL        = "backend-url"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie-name"
	flagSecureCookies     = "secure-cookies"
	envPrefix             = "GATEWAY"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := gateway.Config{}
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Session facade between the browser and the payment backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return gateway.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagBackendURL, "", "payment backend base URL")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "session JWT signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "session JWT issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().Bool(flagSecureCookies, false, "set Secure on session cookies")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *gateway.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagBackendURL, flagAllowedOrigins, flagSessionSigningKey, flagSessionIssuer, flagSessionCookie, flagSecureCookies} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	if !v.IsSet(flagSessionSigningKey) {
		return fmt.Errorf("%s is required", flagSessionSigningKey)
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.BackendBaseURL = strings.TrimSpace(v.GetString(flagBackendURL))
	cfg.AllowedOrigins = gateway.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookie))
	cfg.SecureCookies = v.GetBool(flagSecureCookies)

	return cfg.Validate()
}
