package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	var user string
	askCmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask Gent a question through the full tool loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := app.Cleaner.Clean(strings.Join(args, " "))
			ans, err := app.Chat.Ask(cmd.Context(), user, question)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			fmt.Fprintln(out)
			fmt.Fprintln(out, ans.UsageLine())
			return nil
		},
	}
	askCmd.Flags().StringVarP(&user, "user", "u", "gentctl", "Conversation key")
	rootCmd.AddCommand(askCmd)
}
