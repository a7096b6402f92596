package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
)

// startEngine runs a stand-in answering engine over slots until the test
// ends. reply returning false leaves the request unanswered.
func startEngine(t *testing.T, slots channel.Slots, reply func(request string) (string, bool)) {
	t.Helper()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			data, err := os.ReadFile(slots.RequestPath())
			request := strings.TrimSpace(string(data))
			if err != nil || request == "" {
				continue
			}
			_ = os.WriteFile(slots.RequestPath(), nil, 0o644)

			answer, ok := reply(request)
			if !ok {
				continue
			}
			tmp := filepath.Join(slots.Dir, ".engine.tmp")
			if os.WriteFile(tmp, []byte(answer+"\n"), 0o644) == nil {
				_ = os.Rename(tmp, slots.ResponsePath())
			}
		}
	}()

	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}

// plainReply answers every request with answer.
func plainReply(answer string) func(string) (string, bool) {
	return func(string) (string, bool) { return answer, true }
}

// envelopeReply answers every envelope request with answer under the
// request's id.
func envelopeReply(answer string) func(string) (string, bool) {
	return func(request string) (string, bool) {
		var env channel.Envelope
		if err := json.Unmarshal([]byte(request), &env); err != nil {
			return "", false
		}
		out, err := json.Marshal(channel.Envelope{ID: env.ID, Seq: env.Seq, Body: answer})
		if err != nil {
			return "", false
		}
		return string(out), true
	}
}

// silent never answers.
func silent(string) (string, bool) { return "", false }
