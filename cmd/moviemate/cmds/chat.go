package cmds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/moviemate/moviemate/chat"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newChatCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Every line is sent as a question.
Commands: /history, /stats, /quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, closer, err := rt.factory().CreateOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := closer(); err != nil {
					rt.logger.Warn().Err(err).Msg("cleanup failed")
				}
			}()

			if name := o.Conversation(); name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "conversation %s, /quit to leave\n", name)
			}
			return runREPL(cmd.Context(), o, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// session is what the REPL needs from an orchestrator.
type session interface {
	Ask(ctx context.Context, question string) (chat.Exchange, error)
	History() []chat.Exchange
	Metrics() *chat.Metrics
}

// runREPL reads questions from in until EOF, /quit or ctx ends. Lines are
// read on their own goroutine so a signal ends the session mid-prompt.
func runREPL(ctx context.Context, s session, in io.Reader, out, errOut io.Writer) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines, scanErr := readLines(readCtx, in)
	for {
		fmt.Fprint(out, "> ")

		var raw string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-scanErr
			}
			raw = l
		}

		line := strings.TrimSpace(raw)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(out, s.History())
			continue
		case "/stats":
			printStats(out, s.Metrics().Snapshot())
			continue
		}

		ex, err := s.Ask(ctx, line)
		if errors.Is(err, chat.ErrEmptyQuestion) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ex.Answer)
		printWarnings(errOut, ex)
	}
}

// readLines scans in until EOF or ctx ends. The error channel receives the
// scanner's error once lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		defer close(lines)
		defer func() { scanErr <- scanner.Err() }()
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, scanErr
}

func printHistory(out io.Writer, history []chat.Exchange) {
	if len(history) == 0 {
		fmt.Fprintln(out, "no questions yet")
		return
	}
	for i, ex := range history {
		fmt.Fprintf(out, "%d. [%s] %s\n   %s\n", i+1, humanize.Time(ex.AskedAt), ex.Question, ex.Answer)
	}
}

func printStats(out io.Writer, snap chat.MetricsSnapshot) {
	fmt.Fprintf(out, "asks: %s  answered: %s  attempts: %s  persistence errors: %s\n",
		humanize.Comma(snap.Asks), humanize.Comma(snap.Answered),
		humanize.Comma(snap.Attempts), humanize.Comma(snap.PersistenceErrors))

	reasons := make([]string, 0, len(snap.Fallbacks))
	for reason := range snap.Fallbacks {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(out, "fallback %s: %s\n", reason, humanize.Comma(snap.Fallbacks[reason]))
	}

	if snap.Asks > 0 {
		fmt.Fprintf(out, "latency p50 %s  p95 %s  p99 %s\n", snap.Latency.P50, snap.Latency.P95, snap.Latency.P99)
	}
}

func printWarnings(errOut io.Writer, ex chat.Exchange) {
	if ex.TransportErr != nil {
		fmt.Fprintf(errOut, "warning: %s: %v\n", ex.Reason, ex.TransportErr)
	}
	if ex.PersistErr != nil {
		fmt.Fprintf(errOut, "warning: question not saved: %v\n", ex.PersistErr)
	}
}
