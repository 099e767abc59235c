package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "obloqd",
		Short:         "OBLOQ serial Wi-Fi/MQTT bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default $OBLOQ_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newRunCmd(opts),
		newPublishCmd(opts),
		newSimulateCmd(),
		newFramesCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath returns the flag value, then OBLOQ_CONFIG, then the
// default path.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv("OBLOQ_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and builds the logger it describes.
func (o *rootOptions) loadConfig() (*config.Config, *logging.Logger, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", path)
	return cfg, log, nil
}

// timingFrom converts the configured pauses for the driver.
func timingFrom(cfg *config.Config) obloq.Timing {
	return obloq.Timing{
		WifiSettle:       cfg.GetWifiSettle(),
		BrokerSettle:     cfg.GetBrokerSettle(),
		SubscribeSettle:  cfg.GetSubscribeSettle(),
		ReconnectPeriod:  cfg.GetReconnectPeriod(),
		HandshakeTimeout: cfg.GetHandshakeTimeout(),
	}
}

// connectionOptions builds driver options from the configuration.
func connectionOptions(cfg *config.Config, log *logging.Logger) obloq.Options {
	return obloq.Options{
		Host:   cfg.AIO.Host,
		Port:   cfg.AIO.Port,
		Timing: timingFrom(cfg),
		Logger: log,
	}
}
