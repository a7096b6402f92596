// Package cmds holds the moviemate command tree.
package cmds

import (
	"os"

	"github.com/ZanzyTHEbar/moviemate/moviemate/chat"
	"github.com/ZanzyTHEbar/moviemate/moviemate/config"
	"github.com/ZanzyTHEbar/moviemate/moviemate/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// runtime is filled in by the root command before any subcommand runs.
type runtime struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger zerolog.Logger
}

func (rt *runtime) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(rt.configPath)
	if err != nil {
		return err
	}
	if rt.logLevel != "" {
		cfg.Logging.Level = rt.logLevel
	}
	if rt.logFormat != "" {
		cfg.Logging.Format = rt.logFormat
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	rt.cfg = cfg
	rt.logger = logger
	return nil
}

func (rt *runtime) factory() *chat.Factory {
	return chat.NewFactory(rt.cfg, rt.logger)
}

// NewRootCommand builds the moviemate command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:   "moviemate",
		Short: "Talk to a movie-answering engine over a file channel",
		Long: `moviemate sends each question to an answering engine through a pair of
slot files, waits a bounded time for the reply and keeps every question in
an append-only conversation log.`,
		SilenceUsage:      true,
		PersistentPreRunE: rt.load,
	}

	rootCmd.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rt.logFormat, "log-format", "", "Log format (console or json)")

	rootCmd.AddCommand(
		newInitCommand(rt),
		newAskCommand(rt),
		newChatCommand(rt),
		newConversationsCommand(rt),
	)
	return rootCmd
}
