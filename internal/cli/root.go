// Package cli implements the openmatrixctl commands
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/internal/logging"
	"github.com/koios/openmatrix/internal/mirror"
)

// app carries what every subcommand needs. It is built lazily in
// PersistentPreRunE so flags and the config file are already parsed.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand creates the openmatrixctl command tree
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:   "openmatrixctl",
		Short: "OpenMatrix LED matrix control tool",
		Long: `openmatrixctl controls an OpenMatrix LED matrix display over its HTTP API.

It can read and change the device state, manage the images stored on the
device, convert and upload new images, and run a bridge that mirrors the
device onto MQTT, Redis and AMQP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cfgFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.openmatrixctl.yaml)")
	flags.String("device", "", "device address, e.g. http://192.168.1.20 or openmatrix.local")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Duration("timeout", 0, "per-request timeout")
	flags.Int("retries", -1, "retries per request")

	_ = a.v.BindPFlag("device", flags.Lookup("device"))
	_ = a.v.BindPFlag("log-level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = a.v.BindPFlag("retries", flags.Lookup("retries"))

	root.AddCommand(
		a.newStateCommand(),
		a.newImagesCommand(),
		a.newPowerCommand(),
		a.newAutoBrightnessCommand(),
		a.newBrightnessCommand(),
		a.newModeCommand(),
		a.newEffectCommand(),
		a.newImageCommand(),
		a.newTextCommand(),
		a.newSettingsCommand(),
		a.newResetCommand(),
		a.newWatchCommand(),
		a.newBridgeCommand(),
		a.newQueueCommand(),
		a.newDiscoverCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads env configuration, then applies the config file and flags
func (a *app) setup(cfgFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := a.readConfigFile(cfgFile); err != nil {
		return err
	}
	applyOverrides(a.v, cfg)

	// The CLI is quiet unless asked otherwise
	level := cfg.LogLevel
	if !a.v.IsSet("log-level") && os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) readConfigFile(cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.SetConfigFile(filepath.Join(home, ".openmatrixctl.yaml"))
	}
	a.v.SetConfigType("yaml")

	if err := a.v.ReadInConfig(); err != nil {
		// Only the default file is optional
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("error reading config: %w", err)
	}
	return nil
}

// applyOverrides copies config file and flag values over env defaults
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if s := v.GetString("device"); s != "" {
		cfg.Device.BaseURL = normalizeURL(s)
	}
	if s := v.GetString("name"); s != "" {
		cfg.Device.Name = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if d := v.GetDuration("timeout"); d > 0 {
		cfg.Device.RequestTimeout = d
	}
	if v.IsSet("retries") && v.GetInt("retries") >= 0 {
		cfg.Device.Retries = v.GetInt("retries")
	}
	if d := v.GetDuration("poll-interval"); d > 0 {
		cfg.Device.PollInterval = d
	}
	if s := v.GetString("mqtt.broker"); s != "" {
		cfg.MQTT.Broker = s
	}
	if s := v.GetString("mqtt.topic-prefix"); s != "" {
		cfg.MQTT.TopicPrefix = s
	}
	if s := v.GetString("redis.addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("amqp.url"); s != "" {
		cfg.AMQP.URL = s
	}
	if p := v.GetInt("api.port"); p > 0 {
		cfg.API.Port = p
	}
}

// normalizeURL accepts a bare host and adds the http scheme
func normalizeURL(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}

// client creates a device client with a fresh mirror
func (a *app) client(opts ...device.Option) *device.Client {
	return device.New(a.cfg.Device, mirror.New(), a.logger, opts...)
}
