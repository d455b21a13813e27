package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/app"
)

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Run only the MQTT ingestion subscriber",
	Long:  `Subscribes to device telemetry topics and feeds readings into storage without serving HTTP.`,
	RunE:  runMQTT,
}

func init() {
	rootCmd.AddCommand(mqttCmd)
}

func runMQTT(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.MQTT.Enabled = true

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to init application", zap.Error(err))
		return err
	}
	defer application.Close()

	if err := application.RunSubscriber(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("subscriber stopped with error", zap.Error(err))
		return err
	}
	return nil
}
