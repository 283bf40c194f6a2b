package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/bus"
	"github.com/ew384/automaton-core/internal/config"
	"github.com/ew384/automaton-core/internal/login"
	"github.com/ew384/automaton-core/internal/plugin"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage platform accounts",
	}
	cmd.AddCommand(accountsLoginCmd())
	return cmd
}

func accountsLoginCmd() *cobra.Command {
	var platformName, userID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start an interactive QR login for one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if platformName == "" || userID == "" {
				form := huh.NewForm(huh.NewGroup(
					huh.NewSelect[string]().
						Title("Platform").
						Options(
							huh.NewOption("WeChat", "wechat"),
							huh.NewOption("Douyin", "douyin"),
							huh.NewOption("Xiaohongshu", "xiaohongshu"),
							huh.NewOption("Kuaishou", "kuaishou"),
						).
						Value(&platformName),
					huh.NewInput().
						Title("Account ID").
						Description("An identifier you'll use to refer to this account later").
						Value(&userID),
				))
				if err := form.Run(); err != nil {
					return fmt.Errorf("accounts login: %w", err)
				}
			}

			return runAccountsLogin(platformName, userID)
		},
	}
	cmd.Flags().StringVar(&platformName, "platform", "", "platform name (wechat, douyin, xiaohongshu, kuaishou)")
	cmd.Flags().StringVar(&userID, "account-id", "", "account identifier to assign on success")
	return cmd
}

func runAccountsLogin(platformName, userID string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	br, err := broker.NewRodBroker(broker.RodBrokerConfig{Headless: false, BinPath: cfg.Broker.ChromeBin})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	registry := plugin.NewRegistry()
	registerBridgePlugins(registry, cfg)

	if !registry.Supports(plugin.KindLogin, platformName) {
		return fmt.Errorf("no LOGIN plugin is registered for platform %q", platformName)
	}

	coord := login.New(br, registry)
	defer coord.Close()

	eventBus := bus.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := coord.StartLogin(ctx, platformName, userID)
	if err != nil {
		return fmt.Errorf("start login: %w", err)
	}
	if result.QRCodeURL != "" {
		fmt.Printf("Scan this QR code with the %s app:\n\n  %s\n\n", platformName, result.QRCodeURL)
		eventBus.Broadcast(bus.Event{Name: bus.EventLoginQR, Payload: bus.LoginQRPayload{UserID: userID, Platform: platformName, QRCodeURL: result.QRCodeURL}})
	}

	return pollLoginCompletion(ctx, coord, eventBus, platformName, userID)
}

// pollLoginCompletion mirrors the batch-login waiter's poll loop
// (login.Coordinator.WaitForBatchLoginComplete), trimmed to one account,
// and broadcasts the terminal login events on eventBus. runAccountsLogin
// passes a bus local to the command, which no gateway subscribes to.
func pollLoginCompletion(ctx context.Context, coord *login.Coordinator, eventBus bus.EventPublisher, platformName, userID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("login timed out waiting for QR scan")
			return ctx.Err()
		case <-ticker.C:
			rec, ok := coord.Get(userID)
			if !ok {
				continue
			}
			switch rec.Status {
			case login.StatusCompleted:
				eventBus.Broadcast(bus.Event{Name: bus.EventLoginCompleted, Payload: bus.LoginTerminalPayload{UserID: userID, Platform: platformName}})
				fmt.Printf("login complete — cookie saved to %s\n", rec.CookieFile)
				return nil
			case login.StatusFailed:
				eventBus.Broadcast(bus.Event{Name: bus.EventLoginFailed, Payload: bus.LoginTerminalPayload{UserID: userID, Platform: platformName, Error: "login failed"}})
				return fmt.Errorf("login failed")
			case login.StatusCancelled:
				return fmt.Errorf("login cancelled")
			}
		}
	}
}
