package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/moviemate/moviemate"
	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
	ports "github.com/ZanzyTHEbar/moviemate/moviemate/chat/ports"
	"github.com/rs/zerolog"
)

// ErrEmptyQuestion is returned by Ask for blank questions. Nothing is sent
// or recorded for them.
var ErrEmptyQuestion = errors.New("question is empty")

// Orchestrator runs one session: it asks questions through the responder,
// keeps the exchanges in session memory and appends every question to the
// current conversation log.
type Orchestrator struct {
	responder ports.Responder
	store     ports.QuestionLog
	locker    ports.Locker
	tracer    ports.Tracer
	metrics   *Metrics
	session   *SessionMemory
	logger    zerolog.Logger

	// mu is held for a whole ask, so at most one request is outstanding on
	// the channel per orchestrator.
	mu           sync.Mutex
	started      bool
	conversation string
	startErr     error
}

// NewOrchestrator creates an orchestrator. A nil locker, tracer or metrics
// is replaced by a no-op.
func NewOrchestrator(
	responder ports.Responder,
	store ports.QuestionLog,
	locker ports.Locker,
	tracer ports.Tracer,
	metrics *Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	if locker == nil {
		locker = noOpLocker{}
	}
	if tracer == nil {
		tracer = noOpTracer{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Orchestrator{
		responder: responder,
		store:     store,
		locker:    locker,
		tracer:    tracer,
		metrics:   metrics,
		session:   NewSessionMemory(),
		logger:    logger,
	}
}

// Start initializes the store and reads the current conversation name. The
// name is read once and used for the rest of the session.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startLocked(ctx)
}

func (o *Orchestrator) startLocked(ctx context.Context) error {
	if o.started {
		return o.startErr
	}

	name, err := o.resolveConversation(ctx)
	if err != nil && ctx.Err() != nil {
		// Leave the session unstarted so a later call can retry.
		return err
	}
	o.started = true
	o.conversation, o.startErr = name, err
	if err != nil {
		o.logger.Warn().Err(err).Msg("conversation store unavailable, questions will not be persisted")
		return err
	}
	o.logger.Info().Str("conversation", name).Msg("session started")
	return nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context) (string, error) {
	if err := o.store.EnsureInitialized(ctx); err != nil {
		return "", fmt.Errorf("initialize conversation store: %w", err)
	}
	name, err := o.store.CurrentConversationName(ctx)
	if err != nil {
		return "", fmt.Errorf("read current conversation: %w", err)
	}
	return name, nil
}

// Conversation returns the name of the log receiving this session's
// questions, or "" when the store could not be initialized.
func (o *Orchestrator) Conversation() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversation
}

// Ask sends question to the engine and blocks until an answer or the
// fallback is available. Channel and persistence failures are reported on
// the returned Exchange; the only error is ErrEmptyQuestion.
func (o *Orchestrator) Ask(ctx context.Context, question string) (Exchange, error) {
	if strings.TrimSpace(question) == "" {
		return Exchange{}, ErrEmptyQuestion
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// A start failure is reported as PersistErr below. Like the append, it
	// runs even if the caller gave up waiting.
	startErr := o.startLocked(context.WithoutCancel(ctx))

	ctx, finish := o.tracer.StartSpan(ctx, "ask", map[string]any{
		"conversation": o.conversation,
	})

	exchange := Exchange{
		Question:     question,
		Conversation: o.conversation,
		AskedAt:      time.Now(),
	}

	result := o.request(ctx, question)
	exchange.Answer = result.Answer
	exchange.Reason = result.Reason
	exchange.Attempts = result.Attempts
	exchange.Elapsed = result.Elapsed
	exchange.TransportErr = result.Err

	if result.Fallback() {
		o.tracer.Event(ctx, "fallback", map[string]any{
			"reason":   result.Reason.String(),
			"attempts": result.Attempts,
		})
		o.logger.Warn().Err(result.Err).Str("reason", result.Reason.String()).Int("attempts", result.Attempts).Msg("answering with fallback")
	}

	// The question is recorded even if the caller gave up waiting.
	if err := o.persist(context.WithoutCancel(ctx), question, startErr); err != nil {
		exchange.PersistErr = err
		o.tracer.Event(ctx, "persistence_error", map[string]any{
			"conversation": o.conversation,
			"error":        err.Error(),
		})
		o.logger.Warn().Err(err).Str("conversation", o.conversation).Msg("question not persisted")
	}

	o.session.Append(exchange)
	o.metrics.RecordAsk(exchange)
	finish(exchange.TransportErr)

	return exchange, nil
}

// request holds the ask lock around the responder call. A lock failure is a
// transport failure.
func (o *Orchestrator) request(ctx context.Context, question string) channel.Result {
	start := time.Now()
	unlock, err := o.locker.Lock(ctx)
	if err != nil {
		reason := channel.FallbackTransportError
		if ctx.Err() != nil {
			reason = channel.FallbackCanceled
		}
		return channel.Result{
			Answer:  internal.FallbackMessage,
			Reason:  reason,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
	defer unlock()

	return o.responder.Request(ctx, question)
}

func (o *Orchestrator) persist(ctx context.Context, question string, startErr error) error {
	if startErr != nil {
		return startErr
	}
	return o.store.AppendQuestion(ctx, o.conversation, question)
}

// History returns the session's exchanges, oldest first.
func (o *Orchestrator) History() []Exchange {
	return o.session.History()
}

// Metrics returns the orchestrator's metrics collector.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// noOpLocker implements Locker with no-op behavior.
type noOpLocker struct{}

func (noOpLocker) Lock(ctx context.Context) (func(), error) { return func() {}, nil }

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Locker = noOpLocker{}
	_ ports.Tracer = noOpTracer{}
)
