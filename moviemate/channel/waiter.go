package channel

import (
	"context"
	"fmt"
	"time"

	internal "github.com/ZanzyTHEbar/moviemate/moviemate"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
)

// FallbackReason explains why a Result carries the fallback message.
type FallbackReason int

const (
	FallbackNone FallbackReason = iota
	// FallbackTimeout: the retry budget ran out without a reply.
	FallbackTimeout
	// FallbackTransportError: the request could not be written, or every
	// receive attempt failed.
	FallbackTransportError
	// FallbackCanceled: the caller's context ended the wait.
	FallbackCanceled
)

func (r FallbackReason) String() string {
	switch r {
	case FallbackNone:
		return "none"
	case FallbackTimeout:
		return "timeout"
	case FallbackTransportError:
		return "transport_error"
	case FallbackCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("FallbackReason(%d)", int(r))
	}
}

// Result is the outcome of one request. Answer always holds text to show:
// the engine's reply or the fallback message.
type Result struct {
	Answer   string
	Reason   FallbackReason
	Err      error // set for FallbackTransportError and FallbackCanceled
	Attempts int
	Elapsed  time.Duration
}

// Fallback reports whether Answer is the fallback message.
func (r Result) Fallback() bool { return r.Reason != FallbackNone }

// Backoff schedules understood by Policy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
	BackoffFibonacci   = "fibonacci"
)

// Policy bounds the wait for a reply. Worst-case latency with the constant
// schedule is MaxAttempts × Interval.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Backoff     string
}

// DefaultPolicy polls three times, two seconds apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: internal.DefaultMaxAttempts,
		Interval:    internal.DefaultInterval,
		Backoff:     BackoffConstant,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Interval <= 0 {
		p.Interval = internal.DefaultInterval
	}
	return p
}

// schedule returns a fresh attempt schedule; backoffs are stateful.
func (p Policy) schedule() retry.Backoff {
	var b retry.Backoff
	switch p.Backoff {
	case BackoffExponential:
		b = retry.NewExponential(p.Interval)
	case BackoffFibonacci:
		b = retry.NewFibonacci(p.Interval)
	default:
		b = retry.NewConstant(p.Interval)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts), b)
}

// Waiter sends a request and polls for the reply within a bounded budget.
type Waiter struct {
	transport    Transport
	notifier     Notifier
	policy       Policy
	discardStale bool
	logger       zerolog.Logger
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithNotifier lets the waiter read the slot as soon as it changes instead of
// only at the scheduled attempts.
func WithNotifier(n Notifier) WaiterOption {
	return func(w *Waiter) { w.notifier = n }
}

// WithStaleDiscard drops a reply left over from an earlier, abandoned
// request before sending a new one.
func WithStaleDiscard(enabled bool) WaiterOption {
	return func(w *Waiter) { w.discardStale = enabled }
}

// NewWaiter creates a waiter over transport.
func NewWaiter(transport Transport, policy Policy, logger zerolog.Logger, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		transport: transport,
		policy:    policy.normalized(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Policy returns the waiter's default policy.
func (w *Waiter) Policy() Policy { return w.policy }

// Request runs payload through the channel with the default policy.
func (w *Waiter) Request(ctx context.Context, payload string) Result {
	return w.RequestWith(ctx, payload, w.policy.MaxAttempts, w.policy.Interval)
}

// RequestWith sends payload, then up to maxAttempts times waits interval and
// checks for a reply. It never blocks longer than the schedule allows.
func (w *Waiter) RequestWith(ctx context.Context, payload string, maxAttempts int, interval time.Duration) Result {
	policy := Policy{MaxAttempts: maxAttempts, Interval: interval, Backoff: w.policy.Backoff}.normalized()
	start := time.Now()

	if w.discardStale {
		w.drain()
	}

	if err := w.transport.Send(payload); err != nil {
		w.logger.Error().Err(err).Msg("could not send request")
		return fallback(FallbackTransportError, err, 0, start)
	}

	schedule := policy.schedule()
	var errs error
	attempts, failures := 0, 0

	for {
		delay, stop := schedule.Next()
		if stop {
			break
		}
		attempts++

		answer, ok, err := w.wait(ctx, delay)
		if err != nil {
			w.logger.Debug().Err(err).Int("attempt", attempts).Msg("wait canceled")
			return fallback(FallbackCanceled, err, attempts, start)
		}
		if ok {
			return answered(answer, attempts, start)
		}

		answer, ok, err = w.transport.TryReceive()
		if err != nil {
			failures++
			errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", attempts, err))
			w.logger.Warn().Err(err).Int("attempt", attempts).Int("max_attempts", policy.MaxAttempts).Msg("could not read response")
			continue
		}
		if ok {
			return answered(answer, attempts, start)
		}
		w.logger.Debug().Int("attempt", attempts).Int("max_attempts", policy.MaxAttempts).Msg("no response yet")
	}

	if failures == attempts {
		return fallback(FallbackTransportError, errs, attempts, start)
	}
	if errs != nil {
		w.logger.Warn().Err(errs).Msg("some receive attempts failed before timing out")
	}
	return fallback(FallbackTimeout, nil, attempts, start)
}

// wait blocks for delay. Notifier signals trigger early reads that do not
// count as attempts, so the schedule's lower bound on elapsed time is kept
// whenever no reply arrives.
func (w *Waiter) wait(ctx context.Context, delay time.Duration) (string, bool, error) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var wake <-chan struct{}
	if w.notifier != nil {
		wake = w.notifier.C()
	}

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case <-wake:
			answer, ok, err := w.transport.TryReceive()
			if err != nil {
				w.logger.Debug().Err(err).Msg("early read failed")
				continue
			}
			if ok {
				return answer, true, nil
			}
		}
	}
}

// StaleDiscarder is implemented by transports that can clear the response
// slot without matching the reply against a request.
type StaleDiscarder interface {
	DiscardStale() (bool, error)
}

func (w *Waiter) drain() {
	if d, ok := w.transport.(StaleDiscarder); ok {
		dropped, err := d.DiscardStale()
		if err != nil {
			w.logger.Debug().Err(err).Msg("could not check for stale response")
			return
		}
		if dropped {
			w.logger.Warn().Msg("discarding stale response from an earlier request")
		}
		return
	}

	stale, ok, err := w.transport.TryReceive()
	if err != nil {
		w.logger.Debug().Err(err).Msg("could not check for stale response")
		return
	}
	if ok {
		w.logger.Warn().Int("bytes", len(stale)).Msg("discarding stale response from an earlier request")
	}
}

func answered(answer string, attempts int, start time.Time) Result {
	return Result{Answer: answer, Attempts: attempts, Elapsed: time.Since(start)}
}

func fallback(reason FallbackReason, err error, attempts int, start time.Time) Result {
	return Result{
		Answer:   internal.FallbackMessage,
		Reason:   reason,
		Err:      err,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}
