package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
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

			ex, err := o.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ex.Answer)
			printWarnings(cmd.ErrOrStderr(), ex)
			return nil
		},
	}
}
