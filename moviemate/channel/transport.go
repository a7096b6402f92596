// Package channel implements the file-mediated request/response handoff with
// the out-of-process answering engine: the slot transports, the response-slot
// watcher and the bounded poll loop that waits for an answer.
package channel

import (
	"strings"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Transport moves one payload to the engine and picks up its reply.
// At most one request may be outstanding per transport.
type Transport interface {
	// Send overwrites the request slot with payload.
	Send(payload string) error
	// TryReceive returns the pending reply, if any, and clears the slot.
	// ok is false when no reply has been written yet.
	TryReceive() (answer string, ok bool, err error)
}

// FileTransport exchanges plain text through the slot pair. An empty response
// slot means "no message yet".
type FileTransport struct {
	slots  Slots
	claim  *flock.Flock
	logger zerolog.Logger
}

// NewFileTransport creates the slot files if needed and returns a transport
// over them.
func NewFileTransport(slots Slots, logger zerolog.Logger) (*FileTransport, error) {
	if err := slots.Ensure(); err != nil {
		return nil, err
	}
	return &FileTransport{
		slots:  slots,
		claim:  flock.New(slots.lockPath()),
		logger: logger,
	}, nil
}

// Slots returns the slot pair backing this transport.
func (t *FileTransport) Slots() Slots { return t.slots }

// Send writes payload followed by a newline to the request slot.
func (t *FileTransport) Send(payload string) error {
	path := t.slots.RequestPath()
	if err := writeSlot(path, payload+"\n"); err != nil {
		return &TransportWriteError{Slot: path, Err: err}
	}
	t.logger.Debug().Str("slot", path).Int("bytes", len(payload)+1).Msg("request written")
	return nil
}

// TryReceive returns the trimmed reply and clears the slot. A second call
// right after a successful read observes an empty slot.
func (t *FileTransport) TryReceive() (string, bool, error) {
	path := t.slots.ResponsePath()

	peek, err := readSlot(path)
	if err != nil {
		return "", false, readError(path, err)
	}
	if strings.TrimSpace(peek) == "" {
		return "", false, nil
	}

	raw, err := t.claimLocked(path)
	if err != nil {
		return "", false, readError(path, err)
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		// Another reader claimed it between our peek and the claim.
		return "", false, nil
	}

	t.logger.Debug().Str("slot", path).Int("bytes", len(raw)).Msg("response consumed")
	return answer, true, nil
}

func (t *FileTransport) claimLocked(path string) (string, error) {
	if err := t.claim.Lock(); err != nil {
		return "", err
	}
	defer t.claim.Unlock()
	return claimSlot(path)
}

var _ Transport = (*FileTransport)(nil)
