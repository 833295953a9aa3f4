package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wabridge/internal/config"
	"wabridge/internal/whatsapp"
)

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Link a WhatsApp account by scanning a QR code",
		Long: `Starts first-time device pairing. A QR code is rendered in the terminal;
scan it with WhatsApp on your phone (Settings > Linked Devices). The session
is stored locally, so this only needs to happen once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "error", err)
				cfg = config.Defaults()
				cfg.WhatsApp.DBPath = config.ExpandPath(cfg.WhatsApp.DBPath)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := whatsapp.NewSession(ctx, whatsapp.SessionConfig{
				DBPath: cfg.WhatsApp.DBPath,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer session.Disconnect()

			if err := session.PairQR(ctx); err != nil {
				return err
			}

			fmt.Println("Paired. Start the bridge with 'wabridge run'.")
			return nil
		},
	}
}
