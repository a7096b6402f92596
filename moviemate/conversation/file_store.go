package conversation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

const (
	storeLockFile  = ".store.lock"
	lockRetryDelay = 10 * time.Millisecond
)

// FileStore keeps each conversation as a text file, one question per line,
// and the current-conversation pointer as a separate file in the same
// directory.
type FileStore struct {
	dir         string
	pointerFile string
	defaultName string
	lock        *flock.Flock
	logger      zerolog.Logger
}

// NewFileStore creates a store rooted at dir. Nothing is touched on disk
// until EnsureInitialized or AppendQuestion runs.
func NewFileStore(dir, pointerFile, defaultName string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:         dir,
		pointerFile: pointerFile,
		defaultName: defaultName,
		lock:        flock.New(filepath.Join(dir, storeLockFile)),
		logger:      logger,
	}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) pointerPath() string { return filepath.Join(s.dir, s.pointerFile) }

func (s *FileStore) logPath(name string) string { return filepath.Join(s.dir, name) }

// EnsureInitialized creates the directory, the pointer (naming the default
// conversation) and, when no log exists at all, an empty default log.
func (s *FileStore) EnsureInitialized(ctx context.Context) error {
	if err := ValidateName(s.defaultName); err != nil {
		return err
	}
	if s.defaultName == s.pointerFile {
		return fmt.Errorf("%w: default conversation cannot be the pointer file %q", ErrInvalidName, s.pointerFile)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("could not create conversations directory %s: %w", s.dir, err)
	}

	return s.withLock(ctx, func() error {
		created, err := createWithContent(s.pointerPath(), s.defaultName)
		if err != nil {
			return fmt.Errorf("could not create conversation pointer: %w", err)
		}
		if created {
			s.logger.Info().Str("pointer", s.pointerPath()).Str("conversation", s.defaultName).Msg("conversation pointer created")
		}

		names, err := s.listLocked()
		if err != nil {
			return err
		}
		if len(names) > 0 {
			return nil
		}

		if _, err := createWithContent(s.logPath(s.defaultName), ""); err != nil {
			return fmt.Errorf("could not create default conversation: %w", err)
		}
		s.logger.Info().Str("conversation", s.defaultName).Msg("default conversation created")
		return nil
	})
}

// CurrentConversationName returns the first line of the pointer file.
func (s *FileStore) CurrentConversationName(ctx context.Context) (string, error) {
	f, err := os.Open(s.pointerPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no pointer at %s", ErrNotInitialized, s.pointerPath())
		}
		return "", fmt.Errorf("could not read conversation pointer: %w", err)
	}
	defer f.Close()

	var name string
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		name = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("could not read conversation pointer: %w", err)
	}

	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("conversation pointer %s: %w", s.pointerPath(), err)
	}
	return name, nil
}

// AppendQuestion appends question and a newline to the named log, creating
// the log if needed. Existing lines are never rewritten.
func (s *FileStore) AppendQuestion(ctx context.Context, name, question string) error {
	if err := s.validateLogName(name); err != nil {
		return &PersistenceError{Conversation: name, Err: err}
	}

	err := s.withLock(ctx, func() error {
		f, err := os.OpenFile(s.logPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(normalizeQuestion(question) + "\n"); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return &PersistenceError{Conversation: name, Err: err}
	}

	s.logger.Debug().Str("conversation", name).Msg("question appended")
	return nil
}

// ListConversations returns the log file names, skipping the pointer and
// any hidden bookkeeping files.
func (s *FileStore) ListConversations(ctx context.Context) ([]string, error) {
	return s.listLocked()
}

// Questions returns the named log's lines.
func (s *FileStore) Questions(ctx context.Context, name string) ([]string, error) {
	if err := s.validateLogName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.logPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("could not read conversation %s: %w", name, err)
	}

	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return []string{}, nil
	}
	return strings.Split(content, "\n"), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) validateLogName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == s.pointerFile {
		return fmt.Errorf("%w: %q is the conversation pointer", ErrInvalidName, name)
	}
	return nil
}

func (s *FileStore) listLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("could not list conversations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || name == s.pointerFile || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// withLock runs fn holding the store's advisory lock.
func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("could not lock conversation store: %w", err)
	}
	if !ok {
		return fmt.Errorf("could not lock conversation store %s", s.lock.Path())
	}
	defer s.lock.Unlock()
	return fn()
}

// createWithContent creates path holding content unless it already exists.
func createWithContent(path, content string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return true, err
	}
	return true, f.Close()
}

var _ Store = (*FileStore)(nil)
