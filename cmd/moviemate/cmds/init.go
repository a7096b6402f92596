package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the channel slots and the conversation store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rt.factory()

			slots := f.Slots()
			if err := slots.Ensure(); err != nil {
				return err
			}

			store, err := f.CreateStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}
			name, err := store.CurrentConversationName(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "request slot:  %s\n", slots.RequestPath())
			fmt.Fprintf(out, "response slot: %s\n", slots.ResponsePath())
			fmt.Fprintf(out, "conversation:  %s (%s backend)\n", name, rt.cfg.Conversations.Backend)
			return nil
		},
	}
}
