package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gent/services"
)

func init() {
	var (
		attendees []string
		minutes   int
		from, to  string
	)
	slotsCmd := &cobra.Command{
		Use:   "slots",
		Short: "Find common free time for attendees",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Finder == nil {
				return fmt.Errorf("microsoft graph is not configured (AZURE_CLIENT_ID)")
			}
			loc := app.Config.Location()
			start := services.StartOfDay(time.Now(), loc)
			if from != "" {
				var err error
				if start, err = services.ParseDate(from, loc); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			end := start
			if to != "" {
				var err error
				if end, err = services.ParseDate(to, loc); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			slots, err := app.Finder.FindAvailableSlots(cmd.Context(), attendees, time.Duration(minutes)*time.Minute, start, end)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(out, "no free slots")
				return nil
			}
			for _, s := range slots {
				fmt.Fprintf(out, "%s - %s\n", s.Start.In(loc).Format("2006-01-02 15:04"), s.End.In(loc).Format("15:04"))
			}
			return nil
		},
	}
	slotsCmd.Flags().StringSliceVarP(&attendees, "attendees", "a", nil, "Attendee names or emails (required)")
	slotsCmd.Flags().IntVarP(&minutes, "duration", "d", 30, "Meeting length in minutes")
	slotsCmd.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD, default today)")
	slotsCmd.Flags().StringVar(&to, "to", "", "Last day (YYYY-MM-DD, default --from)")
	_ = slotsCmd.MarkFlagRequired("attendees")
	rootCmd.AddCommand(slotsCmd)
}
