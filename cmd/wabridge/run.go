package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/bridge"
	"wabridge/internal/config"
	"wabridge/internal/gateway"
	"wabridge/internal/httpapi"
	"wabridge/internal/whatsapp"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to WhatsApp and bridge messages until interrupted",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = loggerForLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiClient := bridge.NewClient(bridge.ClientConfig{
		BaseURL:      cfg.AI.APIBase,
		Timeout:      time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		PollInterval: time.Duration(cfg.AI.PollIntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(cfg.AI.PollTimeoutSeconds) * time.Second,
		Logger:       logger,
	})
	if err := aiClient.Health(ctx); err != nil {
		logger.Warn("ai api unreachable at startup, messages will fail until it comes up",
			"base", cfg.AI.APIBase, "error", err)
	} else {
		logger.Info("ai api healthy", "base", cfg.AI.APIBase)
	}

	session, err := whatsapp.NewSession(ctx, whatsapp.SessionConfig{
		DBPath: cfg.WhatsApp.DBPath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer session.Disconnect()

	pipeline := gateway.NewPipeline(gateway.PipelineConfig{
		Transport: session,
		Bridge:    aiClient,
		Rules: gateway.Rules{
			AutomatedSenders: cfg.WhatsApp.AutomatedSenders,
			ProactiveReplies: cfg.WhatsApp.ProactiveReplies,
		},
		Logger: logger,
	})
	session.OnMessage(pipeline.Handle)

	if err := session.Connect(ctx); err != nil {
		if errors.Is(err, whatsapp.ErrNotPaired) {
			return errors.New("no WhatsApp session found, run 'wabridge pair' first")
		}
		return err
	}

	var apiErr chan error
	if cfg.API.Enabled {
		server := httpapi.NewServer(httpapi.ServerConfig{
			Addr:   fmt.Sprintf(":%d", cfg.API.Port),
			APIKey: cfg.API.APIKey,
			Sender: session,
			Bridge: aiClient,
			Logger: logger,
		})
		apiErr = make(chan error, 1)
		go func() { apiErr <- server.Run(ctx) }()
	}

	logger.Info("bridge running", "version", version, "jid", session.Self().String())

	if apiErr != nil {
		select {
		case <-ctx.Done():
		case err := <-apiErr:
			if err != nil {
				return err
			}
			return errors.New("rest api stopped unexpectedly")
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")

	if apiErr != nil {
		select {
		case err := <-apiErr:
			if err != nil {
				logger.Warn("rest api shutdown", "error", err)
			}
		case <-time.After(10 * time.Second):
			logger.Warn("rest api shutdown timed out")
		}
	}
	return nil
}
