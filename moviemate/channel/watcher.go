package channel

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Notifier signals that the response slot may have changed. Signals are
// hints; the waiter always re-reads the slot.
type Notifier interface {
	C() <-chan struct{}
}

// Watcher fires whenever the response slot is written or recreated.
type Watcher struct {
	fs     *fsnotify.Watcher
	name   string
	ch     chan struct{}
	wg     conc.WaitGroup
	logger zerolog.Logger
}

// NewWatcher watches the directory containing slotPath; watching the
// directory keeps working across the rename-based claim.
func NewWatcher(slotPath string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(slotPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		fs:     fw,
		name:   filepath.Base(slotPath),
		ch:     make(chan struct{}, 1),
		logger: logger,
	}
	w.wg.Go(w.loop)
	return w, nil
}

func (w *Watcher) C() <-chan struct{} { return w.ch }

// Close stops the watcher and waits for its event loop to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.signal()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Str("slot", w.name).Msg("watcher error")
		}
	}
}

// signal never blocks; one pending signal is enough to trigger a re-read.
func (w *Watcher) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

var _ Notifier = (*Watcher)(nil)
