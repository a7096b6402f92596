package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportWrite matches any failure to write the request slot.
	ErrTransportWrite = errors.New("transport write failed")
	// ErrTransportRead matches any failure to read or clear the response slot.
	ErrTransportRead = errors.New("transport read failed")
	// ErrMalformedResponse is returned for an envelope that fails validation.
	ErrMalformedResponse = errors.New("malformed response envelope")
)

// TransportWriteError reports that the request slot could not be written.
type TransportWriteError struct {
	Slot string
	Err  error
}

func (e *TransportWriteError) Error() string {
	return fmt.Sprintf("write request slot %s: %v", e.Slot, e.Err)
}

func (e *TransportWriteError) Unwrap() error { return e.Err }

func (e *TransportWriteError) Is(target error) bool { return target == ErrTransportWrite }

func readError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransportRead, path, err)
}
