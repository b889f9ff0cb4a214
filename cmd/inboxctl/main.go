// Command inboxctl operates a running inbox daemon from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/inbox/internal/client"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/lock"
	"github.com/matheus3301/inbox/internal/logging"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagSession string
	flagURL     string
	flagJSON    bool
	flagVerbose bool
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "inboxctl",
	Short:         "Work a multi-channel inbox from the terminal",
	Long:          "inboxctl talks to the inbox daemon of a session: list and filter conversations, read and send messages, act on conversations and follow live updates.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSession, "session", "", "session name (overrides config default)")
	pf.StringVar(&flagURL, "url", "", "daemon base URL (default: the session's running daemon, then config listen)")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")
	pf.DurationVar(&flagTimeout, "timeout", 15*time.Second, "request timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		return 3
	}
	return 1
}

// env is what every command needs: the resolved config and a daemon client.
type env struct {
	session string
	cfg     *config.Config
	client  *client.Client
	logger  *zap.Logger
}

func setup() (*env, error) {
	cfg, err := config.Read(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	name := session.Resolve(flagSession, cfg)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	level := zapcore.WarnLevel
	if flagVerbose {
		level = zapcore.DebugLevel
	}
	logger := logging.NewConsole(level).With(zap.String("session", name))

	return &env{
		session: name,
		cfg:     cfg,
		client:  client.New(daemonURL(name, cfg, logger)),
		logger:  logger,
	}, nil
}

// daemonURL prefers --url, then the address the session's daemon recorded
// in its lock file, then the configured listen address.
func daemonURL(name string, cfg *config.Config, logger *zap.Logger) string {
	if flagURL != "" {
		return flagURL
	}
	if h, err := lock.Inspect(session.LockPath(name)); err == nil && h.Addr != "" {
		logger.Debug("using running daemon", zap.Int("pid", h.PID), zap.String("addr", h.Addr))
		return (&config.Config{Listen: h.Addr}).DaemonURL()
	}
	return cfg.DaemonURL()
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}
