package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vutlhe160502tb/ToolAI-Render/pkg/qrpay"
	"github.com/vutlhe160502tb/ToolAI-Render/pkg/session"
	"go.uber.org/zap"
)

const (
	flagBackendURL = "backend-url"
	flagUserID     = "user-id"
	flagCoins      = "coins"
	flagAmount     = "amount"
	envPrefix      = "PAYWATCH"
)

type watchConfig struct {
	BackendURL string
	UserID     string
	Coins      int64
	AmountVND  int64
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "paywatch: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := watchConfig{}
	cmd := &cobra.Command{
		Use:           "paywatch",
		Short:         "Create a QR payment order and watch it until confirmation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cfg)
		},
	}

	cmd.Flags().String(flagBackendURL, "http://localhost:8000", "payment backend base URL")
	cmd.Flags().String(flagUserID, "", "backend user id to credit (empty creates an anonymous order)")
	cmd.Flags().Int64(flagCoins, 0, "coins to purchase (must match an offered package)")
	cmd.Flags().Int64(flagAmount, 0, "price in VND (must match an offered package)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *watchConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagBackendURL, flagUserID, flagCoins, flagAmount} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.BackendURL = strings.TrimSpace(v.GetString(flagBackendURL))
	cfg.UserID = strings.TrimSpace(v.GetString(flagUserID))
	cfg.Coins = v.GetInt64(flagCoins)
	cfg.AmountVND = v.GetInt64(flagAmount)

	if !qrpay.ValidPackage(cfg.Coins, cfg.AmountVND) {
		return fmt.Errorf("coins/amount must match an offered package: %s", formatPackages())
	}
	return nil
}

func formatPackages() string {
	descriptions := make([]string, 0, len(qrpay.Packages()))
	for _, creditPackage := range qrpay.Packages() {
		descriptions = append(descriptions, fmt.Sprintf("%d coins for %d VND", creditPackage.Coins, creditPackage.AmountVND))
	}
	return strings.Join(descriptions, ", ")
}

// refreshNotifier forwards the post-completion refresh to the backend and
// lets the command wait for it before exiting.
type refreshNotifier struct {
	client *session.AccountClient
	done   chan struct{}
}

func (notifier *refreshNotifier) RefreshBalance(ctx context.Context, userID string) {
	notifier.client.RefreshBalance(ctx, userID)
	close(notifier.done)
}

func watch(ctx context.Context, cfg watchConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	orders, err := qrpay.NewOrderClient(cfg.BackendURL)
	if err != nil {
		return err
	}
	accountClient, err := session.NewAccountClient(cfg.BackendURL, session.WithAccountLogger(logger))
	if err != nil {
		return err
	}
	notifier := &refreshNotifier{client: accountClient, done: make(chan struct{})}

	terminal := make(chan qrpay.MachineState, 1)
	machine, err := qrpay.NewConfirmationStateMachine(orders,
		qrpay.WithMachineLogger(logger),
		qrpay.WithBalanceRefresher(notifier),
		qrpay.WithPollErrorObserver(func(pollErr error) {
			fmt.Printf("network issue, still checking: %v\n", pollErr)
		}),
		qrpay.WithTransitionObserver(func(transition qrpay.Transition) {
			printTransition(transition)
			switch transition.To {
			case qrpay.StateCompleted, qrpay.StateFailed, qrpay.StateCreationError:
				terminal <- transition.To
			}
		}),
	)
	if err != nil {
		return err
	}

	machine.Start(context.Background(), cfg.UserID, cfg.Coins, cfg.AmountVND)

	select {
	case <-ctx.Done():
		machine.Cancel()
		fmt.Println("cancelled; the payment, if made, is no longer tracked")
		return nil
	case state := <-terminal:
		switch state {
		case qrpay.StateCompleted:
			if cfg.UserID != "" {
				select {
				case <-notifier.done:
				case <-time.After(10 * time.Second):
				}
			}
			fmt.Println("payment confirmed")
			return nil
		case qrpay.StateFailed:
			return fmt.Errorf("payment failed")
		default:
			return fmt.Errorf("order creation failed: %v", machine.Err())
		}
	}
}

func printTransition(transition qrpay.Transition) {
	switch transition.To {
	case qrpay.StateCreating:
		fmt.Println("creating payment order...")
	case qrpay.StateAwaitingPayment:
		order := transition.Order
		fmt.Printf("transaction %s awaiting payment\n", order.TransactionID)
		fmt.Printf("  bank:       %s\n", order.BankName)
		fmt.Printf("  account:    %s\n", order.AccountNumber)
		fmt.Printf("  amount:     %d VND\n", order.AmountVND)
		fmt.Printf("  memo:       %s\n", order.TransferContent)
		fmt.Printf("  qr image:   %s\n", order.QRImageURL)
	case qrpay.StateCompleted:
		fmt.Println("payment completed")
	case qrpay.StateFailed:
		fmt.Println("payment failed")
	case qrpay.StateCreationError:
		fmt.Printf("could not create order: %v\n", transition.Err)
	}
}
