package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/moviemate/moviemate"
	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioInterval = 50 * time.Millisecond

// newScenario wires a real waiter over temp slots and a file store.
func newScenario(t *testing.T) (*Orchestrator, channel.Slots, string) {
	t.Helper()
	root := t.TempDir()

	slots := channel.Slots{Dir: filepath.Join(root, "connection"), Request: "request.txt", Response: "response.txt"}
	transport, err := channel.NewFileTransport(slots, zerolog.Nop())
	require.NoError(t, err)

	policy := channel.Policy{MaxAttempts: 3, Interval: scenarioInterval, Backoff: channel.BackoffConstant}
	waiter := channel.NewWaiter(transport, policy, zerolog.Nop(), channel.WithStaleDiscard(true))

	convDir := filepath.Join(root, "conversations")
	store, _ := newFileStoreAt(convDir)
	return NewOrchestrator(waiter, store, nil, nil, nil, zerolog.Nop()), slots, convDir
}

func TestScenario_EngineAnswers(t *testing.T) {
	o, slots, convDir := newScenario(t)
	startEngine(t, slots, plainReply("Inception (2010) is a sci-fi thriller."))

	ex, err := o.Ask(context.Background(), "What is Inception?")
	require.NoError(t, err)

	assert.Equal(t, "Inception (2010) is a sci-fi thriller.", ex.Answer)
	assert.False(t, ex.Fallback())
	assert.Len(t, o.History(), 1)

	data, err := os.ReadFile(filepath.Join(convDir, "chathistory_0.txt"))
	require.NoError(t, err)
	assert.Equal(t, "What is Inception?\n", string(data))

	// The reply was consumed
	data, err = os.ReadFile(slots.ResponsePath())
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestScenario_EngineSilent(t *testing.T) {
	o, slots, convDir := newScenario(t)
	startEngine(t, slots, silent)

	start := time.Now()
	ex, err := o.Ask(context.Background(), "Who directed Jaws?")
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, internal.FallbackMessage, ex.Answer)
	assert.Equal(t, channel.FallbackTimeout, ex.Reason)
	assert.Equal(t, 3, ex.Attempts)
	assert.GreaterOrEqual(t, elapsed, 3*scenarioInterval)

	data, err := os.ReadFile(filepath.Join(convDir, "chathistory_0.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Who directed Jaws?\n", string(data))
}

func TestScenario_StoreCreatedOnFirstSession(t *testing.T) {
	o, slots, convDir := newScenario(t)
	startEngine(t, slots, plainReply("ok"))

	_, err := os.Stat(convDir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, o.Start(context.Background()))

	pointer, err := os.ReadFile(filepath.Join(convDir, "currentchat.txt"))
	require.NoError(t, err)
	assert.Equal(t, "chathistory_0.txt", string(pointer))
	assert.FileExists(t, filepath.Join(convDir, "chathistory_0.txt"))

	ex, err := o.Ask(context.Background(), "Recommend a thriller")
	require.NoError(t, err)
	assert.NoError(t, ex.PersistErr)
}

func TestScenario_CancelledAsk(t *testing.T) {
	o, slots, convDir := newScenario(t)
	startEngine(t, slots, silent)

	ctx, cancel := context.WithTimeout(context.Background(), scenarioInterval/2)
	defer cancel()

	ex, err := o.Ask(ctx, "Who directed Jaws?")
	require.NoError(t, err)
	assert.Equal(t, channel.FallbackCanceled, ex.Reason)
	assert.Equal(t, internal.FallbackMessage, ex.Answer)

	// Recorded even though the wait was abandoned
	data, err := os.ReadFile(filepath.Join(convDir, "chathistory_0.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Who directed Jaws?\n", string(data))
}
