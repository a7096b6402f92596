//go:build integration
// +build integration

package scripts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"
	"github.com/ZanzyTHEbar/moviemate/moviemate/chat"
	"github.com/ZanzyTHEbar/moviemate/moviemate/config"
	"github.com/rs/zerolog"
)

// runEchoEngine answers every request on slots with "echo: <body>" until
// ctx ends. Envelope requests get an envelope reply under the same id.
func runEchoEngine(ctx context.Context, slots channel.Slots) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, err := os.ReadFile(slots.RequestPath())
		request := strings.TrimSpace(string(data))
		if err != nil || request == "" {
			continue
		}
		_ = os.WriteFile(slots.RequestPath(), nil, 0o644)
		_ = os.WriteFile(slots.ResponsePath(), []byte(echo(request)+"\n"), 0o644)
	}
}

func echo(request string) string {
	var env channel.Envelope
	if err := json.Unmarshal([]byte(request), &env); err != nil || env.ID == "" {
		return "echo: " + request
	}
	out, err := json.Marshal(channel.Envelope{ID: env.ID, Seq: env.Seq, Body: "echo: " + env.Body})
	if err != nil {
		return ""
	}
	return string(out)
}

// RunSmokeChannel runs a short session against an in-process echo engine,
// once per framing.
func RunSmokeChannel() {
	for _, framing := range []string{config.FramingPlain, config.FramingEnvelope} {
		fmt.Printf("Smoke test: channel (%s framing)\n", framing)
		runSmokeSession(framing)
	}
	fmt.Println("Smoke checks completed.")
}

func runSmokeSession(framing string) {
	dir, err := os.MkdirTemp("", "moviemate-channel-")
	must(err, "temp dir")
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Channel.Dir = filepath.Join(dir, "connection")
	cfg.Channel.Framing = framing
	cfg.Channel.Interval = 100 * time.Millisecond
	cfg.Conversations.Dir = filepath.Join(dir, "conversations")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	factory := chat.NewFactory(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runEchoEngine(ctx, factory.Slots())

	o, closer, err := factory.CreateOrchestrator(ctx)
	must(err, "create orchestrator")
	defer closer()

	for _, q := range []string{"What is Inception?", "Who directed Jaws?", "Recommend a thriller"} {
		ex, err := o.Ask(ctx, q)
		must(err, "ask")
		fmt.Printf("  %q -> %q (attempts=%d, elapsed=%s, fallback=%v)\n", q, ex.Answer, ex.Attempts, ex.Elapsed, ex.Fallback())
		if ex.PersistErr != nil {
			log.Fatalf("question not persisted: %v", ex.PersistErr)
		}
		if ex.Answer != "echo: "+q {
			log.Fatalf("unexpected answer %q", ex.Answer)
		}
	}

	snap := o.Metrics().Snapshot()
	fmt.Printf("OK: %d asks, %d answered, fallbacks %v\n", snap.Asks, snap.Answered, snap.Fallbacks)
}
