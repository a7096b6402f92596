// Package conversation persists named, append-only conversation logs and the
// pointer naming the log that currently receives questions.
//
// Two backends exist: FileStore keeps one text file per conversation next to
// a pointer file, SQLStore keeps the same model in an embedded libsql
// database. Only the wiring layer decides which one is used.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Store owns the conversation logs and the current-conversation pointer.
// Nothing else writes them.
type Store interface {
	// EnsureInitialized creates the store area, the pointer and the default
	// log when they are missing. Safe to call on every startup.
	EnsureInitialized(ctx context.Context) error
	// CurrentConversationName returns the pointer's value.
	CurrentConversationName(ctx context.Context) (string, error)
	// AppendQuestion appends one question line to the named log.
	AppendQuestion(ctx context.Context, name, question string) error
	// ListConversations returns every log name, sorted.
	ListConversations(ctx context.Context) ([]string, error)
	// Questions returns the named log's lines in order.
	Questions(ctx context.Context, name string) ([]string, error)
	Close() error
}

var (
	// ErrPersistence matches every failed write to a conversation log.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidName is returned for names that cannot identify a log.
	ErrInvalidName = errors.New("invalid conversation name")
	// ErrNotInitialized is returned when the pointer has not been created yet.
	ErrNotInitialized = errors.New("conversation store not initialized")
	// ErrNotFound is returned when reading a log that does not exist.
	ErrNotFound = errors.New("conversation not found")
)

// PersistenceError reports a failed append. It does not invalidate the
// in-memory exchange that triggered it.
type PersistenceError struct {
	Conversation string
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("append to conversation %s: %v", e.Conversation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ValidateName rejects names that are empty, hidden, or escape the store.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case filepath.Base(name) != name || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	return nil
}

// normalizeQuestion keeps one question per line.
func normalizeQuestion(question string) string {
	question = strings.ReplaceAll(question, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(question)
}
