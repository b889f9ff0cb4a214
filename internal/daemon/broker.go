package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/inbox/internal/broker"
	"github.com/matheus3301/inbox/internal/status"
	"go.uber.org/zap"
)

// brokerLink keeps the broker consumers running and mirrors the
// connection into the daemon state. The API keeps serving from the local
// store while the broker is away; the daemon is Degraded meanwhile.
type brokerLink struct {
	client  *broker.Client
	machine *status.Machine
	logger  *zap.Logger
	specs   []broker.ConsumerSpec
	base    time.Duration
	capd    time.Duration
	done    chan struct{}
}

func newBrokerLink(client *broker.Client, cfg broker.Config, machine *status.Machine, logger *zap.Logger, specs ...broker.ConsumerSpec) *brokerLink {
	base, capd := cfg.Backoff()
	return &brokerLink{
		client:  client,
		machine: machine,
		logger:  logger,
		specs:   specs,
		base:    base,
		capd:    capd,
		done:    make(chan struct{}),
	}
}

// Start connects and supervises the consumers until ctx ends.
func (l *brokerLink) Start(ctx context.Context) {
	go l.run(ctx)
}

// Wait blocks until the link has stopped and closes the connection.
func (l *brokerLink) Wait() {
	<-l.done
	if err := l.client.Close(); err != nil {
		l.logger.Debug("broker close", zap.Error(err))
	}
}

func (l *brokerLink) run(ctx context.Context) {
	defer close(l.done)
	backoff := l.base
	for {
		transition(l.machine, status.Connecting, l.logger)
		err := l.client.Connect(ctx)
		if err == nil {
			transition(l.machine, status.Ready, l.logger)
			backoff = l.base
			err = l.client.Run(ctx, l.specs...)
		}
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("broker unavailable", zap.Error(err), zap.Duration("retry_in", backoff))
		transition(l.machine, status.Degraded, l.logger)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.capd)
	}
}

// connectionHook follows reconnects that happen inside broker.Client.Run.
func connectionHook(m *status.Machine, logger *zap.Logger) func(up bool) {
	return func(up bool) {
		if !up {
			transition(m, status.Reconnecting, logger)
			return
		}
		transition(m, status.Connecting, logger)
		transition(m, status.Ready, logger)
	}
}

func transition(m *status.Machine, to status.State, logger *zap.Logger) {
	from := m.Current()
	changed, err := m.Ensure(to)
	if err != nil {
		logger.Debug("skipping status change", zap.Error(err))
		return
	}
	if changed {
		logger.Info("daemon status changed", zap.String("from", string(from)), zap.String("to", string(to)))
	}
}
