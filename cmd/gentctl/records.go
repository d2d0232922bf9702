package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	var limit int
	transcriptsCmd := &cobra.Command{
		Use:   "transcripts USER_ID",
		Short: "Show archived exchanges of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Transcripts == nil {
				return fmt.Errorf("transcript archive is not configured (TRANSCRIPT_TABLE)")
			}
			convs, err := app.Transcripts.RecentConversations(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Timestamp.Format(time.RFC3339), c.Role, c.Model, c.Content)
			}
			return w.Flush()
		},
	}
	transcriptsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records")
	rootCmd.AddCommand(transcriptsCmd)

	var feedbackLimit int
	feedbackCmd := &cobra.Command{
		Use:   "feedback",
		Short: "List recent feedback submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Submissions == nil {
				return fmt.Errorf("feedback storage is not configured (POSTGRES_URL)")
			}
			subs, err := app.Submissions.Recent(cmd.Context(), feedbackLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Timestamp.Format(time.RFC3339), s.Name, s.Email, s.Rating, s.Feedback)
			}
			return w.Flush()
		},
	}
	feedbackCmd.Flags().IntVarP(&feedbackLimit, "limit", "n", 20, "Number of submissions")
	rootCmd.AddCommand(feedbackCmd)
}
