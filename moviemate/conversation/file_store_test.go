package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// FileStoreTestSuite exercises the file-backed conversation store.
type FileStoreTestSuite struct {
	suite.Suite
	dir   string
	store *FileStore
	ctx   context.Context
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreTestSuite))
}

func (suite *FileStoreTestSuite) SetupTest() {
	suite.dir = filepath.Join(suite.T().TempDir(), "conversations")
	suite.store = NewFileStore(suite.dir, "currentchat.txt", "chathistory_0.txt", zerolog.Nop())
	suite.ctx = context.Background()
}

func (suite *FileStoreTestSuite) read(name string) string {
	data, err := os.ReadFile(filepath.Join(suite.dir, name))
	require.NoError(suite.T(), err)
	return string(data)
}

func (suite *FileStoreTestSuite) TestEnsureInitializedFromScratch() {
	_, err := os.Stat(suite.dir)
	require.True(suite.T(), os.IsNotExist(err))

	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	assert.DirExists(suite.T(), suite.dir)
	assert.Equal(suite.T(), "chathistory_0.txt", suite.read("currentchat.txt"))
	assert.Empty(suite.T(), suite.read("chathistory_0.txt"))

	name, err := suite.store.CurrentConversationName(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "chathistory_0.txt", name)

	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, name, "What is Inception?"))
	assert.Equal(suite.T(), "What is Inception?\n", suite.read(name))
}

func (suite *FileStoreTestSuite) TestEnsureInitializedIsIdempotent() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))
	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_0.txt", "Who directed Jaws?"))

	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	name, err := suite.store.CurrentConversationName(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "chathistory_0.txt", name)

	// Default log neither truncated nor duplicated
	assert.Equal(suite.T(), "Who directed Jaws?\n", suite.read("chathistory_0.txt"))
	names, err := suite.store.ListConversations(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"chathistory_0.txt"}, names)
}

func (suite *FileStoreTestSuite) TestEnsureInitializedKeepsExistingPointer() {
	require.NoError(suite.T(), os.MkdirAll(suite.dir, 0o755))
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.dir, "currentchat.txt"), []byte("chathistory_3.txt\n"), 0o644))
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.dir, "chathistory_3.txt"), []byte("old question\n"), 0o644))

	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	name, err := suite.store.CurrentConversationName(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "chathistory_3.txt", name)

	// A log already exists, so no default log is created
	names, err := suite.store.ListConversations(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"chathistory_3.txt"}, names)
}

func (suite *FileStoreTestSuite) TestAppendPreservesPriorLines() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	questions := []string{"What is Inception?", "Who directed Jaws?", "Recommend a thriller"}
	for _, q := range questions {
		before := suite.read("chathistory_0.txt")
		require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_0.txt", q))
		after := suite.read("chathistory_0.txt")

		assert.True(suite.T(), strings.HasPrefix(after, before))
		assert.Greater(suite.T(), len(after), len(before))
	}

	got, err := suite.store.Questions(suite.ctx, "chathistory_0.txt")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), questions, got)
}

func (suite *FileStoreTestSuite) TestAppendFlattensNewlines() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))
	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_0.txt", "line one\nline two\r\nthree"))

	assert.Equal(suite.T(), "line one line two three\n", suite.read("chathistory_0.txt"))
}

func (suite *FileStoreTestSuite) TestAppendCreatesMissingLog() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))
	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_1.txt", "first"))

	names, err := suite.store.ListConversations(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"chathistory_0.txt", "chathistory_1.txt"}, names)
}

func (suite *FileStoreTestSuite) TestAppendFailureIsPersistenceError() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))
	// A directory where the log should be makes the open fail
	require.NoError(suite.T(), os.MkdirAll(filepath.Join(suite.dir, "broken.txt"), 0o755))

	err := suite.store.AppendQuestion(suite.ctx, "broken.txt", "lost?")
	require.Error(suite.T(), err)
	assert.True(suite.T(), errors.Is(err, ErrPersistence))

	var perr *PersistenceError
	require.True(suite.T(), errors.As(err, &perr))
	assert.Equal(suite.T(), "broken.txt", perr.Conversation)
}

func (suite *FileStoreTestSuite) TestAppendRejectsInvalidNames() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	for _, name := range []string{"", "../escape.txt", "sub/dir.txt", ".hidden", "currentchat.txt"} {
		err := suite.store.AppendQuestion(suite.ctx, name, "question")
		assert.True(suite.T(), errors.Is(err, ErrPersistence), "name %q", name)
		assert.True(suite.T(), errors.Is(err, ErrInvalidName), "name %q", name)
	}
}

func (suite *FileStoreTestSuite) TestListSkipsBookkeepingFiles() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))
	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_0.txt", "q"))

	names, err := suite.store.ListConversations(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"chathistory_0.txt"}, names)
	assert.FileExists(suite.T(), filepath.Join(suite.dir, storeLockFile))
}

func (suite *FileStoreTestSuite) TestCurrentConversationBeforeInit() {
	_, err := suite.store.CurrentConversationName(suite.ctx)
	assert.True(suite.T(), errors.Is(err, ErrNotInitialized))
}

func (suite *FileStoreTestSuite) TestQuestionsNotFound() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	_, err := suite.store.Questions(suite.ctx, "chathistory_9.txt")
	assert.True(suite.T(), errors.Is(err, ErrNotFound))
}

func (suite *FileStoreTestSuite) TestQuestionsOfEmptyLog() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	got, err := suite.store.Questions(suite.ctx, "chathistory_0.txt")
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), got)
}

func (suite *FileStoreTestSuite) TestAppendWaitsForLockWithinContext() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	holder := flock.New(filepath.Join(suite.dir, storeLockFile))
	locked, err := holder.TryLock()
	require.NoError(suite.T(), err)
	require.True(suite.T(), locked)

	ctx, cancel := context.WithTimeout(suite.ctx, 50*time.Millisecond)
	defer cancel()
	err = suite.store.AppendQuestion(ctx, "chathistory_0.txt", "blocked")
	assert.ErrorIs(suite.T(), err, ErrPersistence)
	assert.ErrorIs(suite.T(), err, context.DeadlineExceeded)

	require.NoError(suite.T(), holder.Unlock())
	require.NoError(suite.T(), suite.store.AppendQuestion(suite.ctx, "chathistory_0.txt", "unblocked"))
	assert.Equal(suite.T(), "unblocked\n", suite.read("chathistory_0.txt"))
}

func (suite *FileStoreTestSuite) TestAppendWithCanceledContext() {
	require.NoError(suite.T(), suite.store.EnsureInitialized(suite.ctx))

	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()
	err := suite.store.AppendQuestion(ctx, "chathistory_0.txt", "never written")
	assert.ErrorIs(suite.T(), err, context.Canceled)
	assert.Empty(suite.T(), suite.read("chathistory_0.txt"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("chathistory_0.txt"))
	assert.NoError(t, ValidateName("movie night"))

	for _, name := range []string{"", "  ", ".", "..", "a/b", `a\b`, ".store.lock"} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "name %q", name)
	}
}

func TestEnsureInitializedRejectsBadDefault(t *testing.T) {
	dir := t.TempDir()

	store := NewFileStore(dir, "currentchat.txt", "currentchat.txt", zerolog.Nop())
	assert.ErrorIs(t, store.EnsureInitialized(context.Background()), ErrInvalidName)

	store = NewFileStore(dir, "currentchat.txt", "../outside.txt", zerolog.Nop())
	assert.ErrorIs(t, store.EnsureInitialized(context.Background()), ErrInvalidName)
}
