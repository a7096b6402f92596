package chatports

import (
	"context"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
)

// Responder turns a question into an answer or a fallback. channel.Waiter
// implements it.
type Responder interface {
	Request(ctx context.Context, payload string) channel.Result
}

// QuestionLog is the slice of the conversation store the orchestrator needs.
type QuestionLog interface {
	EnsureInitialized(ctx context.Context) error
	CurrentConversationName(ctx context.Context) (string, error)
	AppendQuestion(ctx context.Context, name, question string) error
}

// Locker serializes asks. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Tracer emits spans/metrics for observability.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
