// gentctl runs Gent's services from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gent/config"
	"gent/services"
)

var (
	app     *services.App
	rootCmd = &cobra.Command{
		Use:           "gentctl",
		Short:         "Operate the Gent assistant without Teams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := config.NewLogger(cfg).Output(os.Stderr)
			app, err = services.NewApp(cmd.Context(), cfg, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app == nil {
				return nil
			}
			return app.Close()
		},
	}
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
