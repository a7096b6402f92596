package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ports "github.com/ZanzyTHEbar/moviemate/moviemate/chat/ports"
	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when another process holds the ask lock for
// longer than the configured timeout.
var ErrLockTimeout = errors.New("timed out waiting for ask lock")

const lockRetryDelay = 50 * time.Millisecond

// FlockLocker serializes asks across processes sharing a channel directory
// with an advisory file lock.
type FlockLocker struct {
	lock    *flock.Flock
	timeout time.Duration
}

// NewFlockLocker creates a locker on path. A zero timeout waits until ctx ends.
func NewFlockLocker(path string, timeout time.Duration) *FlockLocker {
	return &FlockLocker{lock: flock.New(path), timeout: timeout}
}

// Path returns the lock file path.
func (l *FlockLocker) Path() string { return l.lock.Path() }

func (l *FlockLocker) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		return nil, fmt.Errorf("could not create lock directory: %w", err)
	}

	lockCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	ok, err := l.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrLockTimeout, l.timeout, l.lock.Path())
		}
		return nil, fmt.Errorf("could not acquire ask lock %s: %w", l.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, l.lock.Path())
	}

	return func() { _ = l.lock.Unlock() }, nil
}

var _ ports.Locker = (*FlockLocker)(nil)
