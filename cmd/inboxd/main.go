// Command inboxd runs the inbox daemon for one session.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/daemon"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagSession  string
	flagListen   string
	flagBroker   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "inboxd",
	Short:         "Run the inbox daemon",
	Long:          "inboxd keeps a session's conversations in a local store, ingests channel events and serves the HTTP API and event feed used by inboxctl.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := params()
		if err != nil {
			return err
		}
		app := fx.New(
			daemon.Module(p),
			fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
				return &fxevent.ZapLogger{Logger: l.Named("fx")}
			}),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := params()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# session %s, file %s\n", p.SessionName, session.ConfigPath())
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(p.Config)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := session.ConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg, err := config.Read(path)
		if err != nil {
			return err
		}
		cfg.DefaultSession = session.DefaultSessionName
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSession, "session", "", "session name (overrides config default)")
	pf.StringVar(&flagListen, "listen", "", "HTTP listen address (overrides config)")
	pf.StringVar(&flagBroker, "broker", "", "AMQP broker URL (overrides config)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(configCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// params resolves the session and config with flags taking precedence.
func params() (daemon.Params, error) {
	cfg, err := config.Read(session.ConfigPath())
	if err != nil {
		return daemon.Params{}, err
	}
	name := session.Resolve(flagSession, cfg)
	if err := session.ValidateName(name); err != nil {
		return daemon.Params{}, err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagBroker != "" {
		cfg.Broker.URL = flagBroker
	}
	level, err := zapcore.ParseLevel(flagLogLevel)
	if err != nil {
		return daemon.Params{}, err
	}
	return daemon.Params{SessionName: name, Config: *cfg, LogLevel: level}, nil
}
