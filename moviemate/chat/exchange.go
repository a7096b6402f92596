// Package chat runs the question/answer loop: every question goes through
// the file channel, the exchange is kept in session memory and the question
// is appended to the current conversation log.
package chat

import (
	"time"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
)

// Exchange is one question and the answer shown for it.
type Exchange struct {
	Question     string
	Answer       string
	Reason       channel.FallbackReason
	Conversation string
	AskedAt      time.Time
	Attempts     int
	Elapsed      time.Duration

	// TransportErr is set when the answer is the fallback because the
	// channel failed.
	TransportErr error
	// PersistErr is set when the question could not be appended to the
	// conversation log. The exchange itself is still valid.
	PersistErr error
}

// Fallback reports whether Answer is the fallback message.
func (e Exchange) Fallback() bool { return e.Reason != channel.FallbackNone }
