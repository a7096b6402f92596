//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/moviemate/moviemate/conversation"
	"github.com/ZanzyTHEbar/moviemate/moviemate/db"
	"github.com/rs/zerolog"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeLibSQL checks the embedded libsql features the conversation store
// depends on, then drives the store itself.
func RunSmokeLibSQL() {
	fmt.Println("Smoke test: LibSQL conversation store")
	dir, err := os.MkdirTemp("", "moviemate-smoke-")
	must(err, "temp dir")
	defer os.RemoveAll(dir)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	dbconn, err := db.ConnectToDB("file:"+filepath.Join(dir, "smoke.db"), logger)
	must(err, "connect")

	// Basic
	var v int
	err = dbconn.QueryRow("SELECT 1").Scan(&v)
	must(err, "basic SELECT")
	if v != 1 {
		log.Fatalf("basic SELECT returned %v", v)
	}
	fmt.Println("OK: basic SQL")

	// Triggers (append-only enforcement)
	_, err = dbconn.Exec(`CREATE TEMP TABLE _trigger_smoke (v TEXT)`)
	must(err, "create trigger table")
	_, err = dbconn.Exec(`CREATE TEMP TRIGGER _trigger_smoke_no_update BEFORE UPDATE ON _trigger_smoke
BEGIN SELECT RAISE(ABORT, 'append-only'); END`)
	must(err, "create trigger")
	_, err = dbconn.Exec(`INSERT INTO _trigger_smoke (v) VALUES ('a')`)
	must(err, "insert")
	if _, err := dbconn.Exec(`UPDATE _trigger_smoke SET v = 'b'`); err == nil {
		log.Fatalf("RAISE(ABORT) trigger did not fire")
	}
	fmt.Println("OK: RAISE(ABORT) triggers")

	// Store round trip
	ctx := context.Background()
	store := conversation.NewSQLStore(dbconn, "chathistory_0.txt", logger)
	defer store.Close()

	must(store.EnsureInitialized(ctx), "ensure initialized")
	must(store.EnsureInitialized(ctx), "ensure initialized twice")
	name, err := store.CurrentConversationName(ctx)
	must(err, "current conversation")

	for _, q := range []string{"What is Inception?", "Who directed Jaws?"} {
		must(store.AppendQuestion(ctx, name, q), "append question")
	}
	questions, err := store.Questions(ctx, name)
	must(err, "questions")
	if len(questions) != 2 {
		log.Fatalf("expected 2 questions, got %v", questions)
	}
	fmt.Printf("OK: store round trip (%s: %d questions)\n", name, len(questions))

	fmt.Println("Smoke checks completed.")
}
