package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConversationsCommand(rt *runtime) *cobra.Command {
	conversationsCmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect stored conversation logs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversation logs, marking the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.factory().CreateStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}
			current, err := store.CurrentConversationName(cmd.Context())
			if err != nil {
				return err
			}
			names, err := store.ListConversations(cmd.Context())
			if err != nil {
				return err
			}

			for _, name := range names {
				marker := " "
				if name == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Print the questions of a conversation (default: the current one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.factory().CreateStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}

			var name string
			if len(args) == 1 {
				name = args[0]
			} else if name, err = store.CurrentConversationName(cmd.Context()); err != nil {
				return err
			}

			questions, err := store.Questions(cmd.Context(), name)
			if err != nil {
				return err
			}
			for i, q := range questions {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, q)
			}
			return nil
		},
	}

	conversationsCmd.AddCommand(listCmd, showCmd)
	return conversationsCmd
}
