package conversation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// SQLStore keeps conversations in a libsql database. Triggers installed by
// the migrations reject UPDATE and DELETE on questions.
type SQLStore struct {
	db          *sql.DB
	defaultName string
	logger      zerolog.Logger
}

// NewSQLStore wraps an open database. The schema is created by
// EnsureInitialized.
func NewSQLStore(db *sql.DB, defaultName string, logger zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, defaultName: defaultName, logger: logger}
}

// EnsureInitialized migrates the schema, creates the pointer row and, when
// no conversation exists, the default conversation.
func (s *SQLStore) EnsureInitialized(ctx context.Context) error {
	if err := ValidateName(s.defaultName); err != nil {
		return err
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin init transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO current_conversation (id, name) VALUES (1, ?)`, s.defaultName)
	if err != nil {
		return fmt.Errorf("failed to create conversation pointer: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info().Str("conversation", s.defaultName).Msg("conversation pointer created")
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count conversations: %w", err)
	}
	if count == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (name, created_at) VALUES (?, ?)`, s.defaultName, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to create default conversation: %w", err)
		}
		s.logger.Info().Str("conversation", s.defaultName).Msg("default conversation created")
	}

	return tx.Commit()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug().Int64("version", r.Source.Version).Dur("duration", r.Duration).Msg("migration applied")
	}
	return nil
}

func (s *SQLStore) CurrentConversationName(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM current_conversation WHERE id = 1`).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotInitialized
		}
		return "", fmt.Errorf("failed to read conversation pointer: %w", err)
	}
	return name, nil
}

// AppendQuestion inserts one question row, creating the conversation if it
// does not exist yet.
func (s *SQLStore) AppendQuestion(ctx context.Context, name, question string) error {
	if err := ValidateName(name); err != nil {
		return &PersistenceError{Conversation: name, Err: err}
	}

	if err := s.append(ctx, name, normalizeQuestion(question)); err != nil {
		return &PersistenceError{Conversation: name, Err: err}
	}

	s.logger.Debug().Str("conversation", name).Msg("question appended")
	return nil
}

func (s *SQLStore) append(ctx context.Context, name, question string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO conversations (name, created_at) VALUES (?, ?)`, name, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_questions (conversation, question, asked_at) VALUES (?, ?, ?)`,
		name, question, now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM conversations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return names, nil
}

func (s *SQLStore) Questions(ctx context.Context, name string) ([]string, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE name = ?`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT question FROM conversation_questions WHERE conversation = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	questions := []string{}
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var _ Store = (*SQLStore)(nil)
