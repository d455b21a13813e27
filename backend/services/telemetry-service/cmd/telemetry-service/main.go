package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voltlink/backend/libs/logging"
	"voltlink/backend/services/telemetry-service/internal/config"
)

const serviceName = "telemetry-service"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Ingest meter and vehicle telemetry and correlate energy efficiency",
	Long: `telemetry-service accepts meter and vehicle readings over HTTP and MQTT,
keeps the latest state per device alongside an append-only history, and answers
windowed statistics and meter/vehicle efficiency queries.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_FILE)")
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(cfgFile)
}

func newLogger() (*zap.Logger, error) {
	return logging.NewLogger(serviceName)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
