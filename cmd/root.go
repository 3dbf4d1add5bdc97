// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/observability"
)

// osExit is swapped out in tests.
var osExit = os.Exit

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Interface
	logger  *zap.Logger
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:     "scalpel-recorder",
		Short:   "Scalpel Recorder captures browser interactions as replayable, uniquely addressed actions.",
		Version: Version,
		// Errors are logged by Execute.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.v = viper.New()
			config.SetDefaults(a.v)
			if err := initializeConfig(cmd, a.v, a.cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-recorder"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(a.v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-recorder"})
				return err
			}
			a.cfg = cfg

			observability.InitializeLogger(cfg.Logger())
			a.logger = observability.GetLogger()
			a.logger.Debug("Starting Scalpel Recorder", zap.String("version", Version))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRecordCmd(a),
		newSelectorsCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand().ExecuteContext(ctx)
	defer observability.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		observability.Sync()
		osExit(1)
	}
}

// initializeConfig reads the config file, if any, and layers SCALPEL_* environment
// variables and command flags over it.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCALPEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return bindFlags(cmd, v)
}

// flagBindings maps command flags onto config keys.
var flagBindings = map[string]string{
	"headless":         "browser.headless",
	"output":           "recorder.output",
	"attr":             "recorder.identifier_attribute",
	"paused":           "recorder.start_recording",
	"max-selectors":    "selector.max_selectors",
	"descendant-depth": "selector.descendant_depth",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if name == "paused" {
			// --paused is the negation of start_recording.
			v.Set(key, flag.Value.String() != "true")
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}
