package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
	"github.com/ZanzyTHEbar/moviemate/moviemate/chat/adapters"
	ports "github.com/ZanzyTHEbar/moviemate/moviemate/chat/ports"
	"github.com/ZanzyTHEbar/moviemate/moviemate/config"
	"github.com/ZanzyTHEbar/moviemate/moviemate/conversation"
	"github.com/ZanzyTHEbar/moviemate/moviemate/db"
	"github.com/ZanzyTHEbar/moviemate/moviemate/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const askLockFile = ".ask.lock"

// Factory creates and wires chat components from configuration.
type Factory struct {
	cfg       *config.Config
	sessionID string
	logger    zerolog.Logger
}

// NewFactory creates a new chat factory. Every factory gets its own session
// id, used for per-session slot directories.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		logger:    logger,
	}
}

// SessionID returns the id of the session this factory wires.
func (f *Factory) SessionID() string { return f.sessionID }

// Slots returns the slot pair the session uses.
func (f *Factory) Slots() channel.Slots {
	dir := f.cfg.Channel.Dir
	if f.cfg.Channel.PerSession {
		dir = filepath.Join(dir, f.sessionID)
	}
	return channel.Slots{
		Dir:      dir,
		Request:  f.cfg.Channel.RequestSlot,
		Response: f.cfg.Channel.ResponseSlot,
	}
}

// Policy returns the wait policy from config.
func (f *Factory) Policy() channel.Policy {
	return channel.Policy{
		MaxAttempts: f.cfg.Channel.MaxAttempts,
		Interval:    f.cfg.Channel.Interval,
		Backoff:     f.cfg.Channel.Backoff,
	}
}

// CreateStore opens the configured conversation store. The caller owns it.
func (f *Factory) CreateStore() (conversation.Store, error) {
	cc := f.cfg.Conversations
	logger := logging.Component(f.logger, "conversation")

	switch cc.Backend {
	case config.BackendFile, "":
		return conversation.NewFileStore(cc.Dir, cc.PointerFile, cc.DefaultName, logger), nil
	case config.BackendLibSQL:
		conn, err := db.ConnectToDB(cc.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		return conversation.NewSQLStore(conn, cc.DefaultName, logger), nil
	default:
		return nil, fmt.Errorf("unknown conversations backend %q", cc.Backend)
	}
}

// CreateTransport creates the channel transport for the configured framing.
func (f *Factory) CreateTransport(slots channel.Slots) (channel.Transport, error) {
	logger := logging.Component(f.logger, "channel")

	switch f.cfg.Channel.Framing {
	case config.FramingPlain, "":
		return channel.NewFileTransport(slots, logger)
	case config.FramingEnvelope:
		return channel.NewEnvelopeTransport(slots, logger)
	default:
		return nil, fmt.Errorf("unknown channel framing %q", f.cfg.Channel.Framing)
	}
}

// createNotifier returns nil when watching is disabled or unavailable; the
// waiter then relies on its schedule alone.
func (f *Factory) createNotifier(slots channel.Slots) *channel.Watcher {
	if !f.cfg.Channel.Watch {
		return nil
	}

	w, err := channel.NewWatcher(slots.ResponsePath(), logging.Component(f.logger, "watcher"))
	if err != nil {
		f.logger.Warn().Err(err).Msg("response watcher unavailable, falling back to polling")
		return nil
	}
	return w
}

func (f *Factory) createLocker(slots channel.Slots) ports.Locker {
	if !f.cfg.Channel.Lock {
		return noOpLocker{}
	}
	return adapters.NewFlockLocker(filepath.Join(slots.Dir, askLockFile), f.cfg.Channel.LockTimeout)
}

func (f *Factory) createTracer() ports.Tracer {
	return adapters.NewZerologTracer(logging.Component(f.logger, "trace"))
}

// CreateWaiter creates a waiter over slots with the configured policy and
// notifier. The returned func releases the notifier.
func (f *Factory) CreateWaiter(slots channel.Slots) (*channel.Waiter, func() error, error) {
	transport, err := f.CreateTransport(slots)
	if err != nil {
		return nil, nil, err
	}

	opts := []channel.WaiterOption{channel.WithStaleDiscard(f.cfg.Channel.DiscardStale)}
	closer := func() error { return nil }
	if w := f.createNotifier(slots); w != nil {
		opts = append(opts, channel.WithNotifier(w))
		closer = w.Close
	}

	waiter := channel.NewWaiter(transport, f.Policy(), logging.Component(f.logger, "waiter"), opts...)
	return waiter, closer, nil
}

// CreateOrchestrator creates a fully wired, started Orchestrator from config.
// The returned func releases everything the orchestrator holds.
func (f *Factory) CreateOrchestrator(ctx context.Context) (*Orchestrator, func() error, error) {
	slots := f.Slots()

	store, err := f.CreateStore()
	if err != nil {
		return nil, nil, err
	}

	waiter, closeWaiter, err := f.CreateWaiter(slots)
	if err != nil {
		return nil, nil, multierr.Append(err, store.Close())
	}

	orchestrator := NewOrchestrator(
		waiter,
		store,
		f.createLocker(slots),
		f.createTracer(),
		NewMetrics(),
		logging.Component(f.logger, "chat").With().Str("session", f.sessionID).Logger(),
	)

	// A store that cannot start is reported on every exchange, not here.
	_ = orchestrator.Start(ctx)

	closer := func() error {
		err := multierr.Combine(closeWaiter(), store.Close())
		if f.cfg.Channel.PerSession {
			err = multierr.Append(err, os.RemoveAll(slots.Dir))
		}
		return err
	}
	return orchestrator, closer, nil
}
