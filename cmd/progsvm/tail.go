package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fortiblox/progsvm/pkg/console"
)

func (a *app) tailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <addr>",
		Short: "Follow the console of a running program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := console.Dial(args[0])
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			timestamps := a.v.GetBool("timestamps")
			return client.Tail(ctx, a.v.GetInt("buffer"), func(l console.Line) {
				if timestamps {
					fmt.Fprintf(out, "%s %s\n", dim(l.Time.Format("15:04:05.000")), l.Text)
					return
				}
				fmt.Fprintln(out, l.Text)
			})
		},
	}
	cmd.Flags().Int("buffer", 256, "lines queued on the server for this reader")
	cmd.Flags().Bool("timestamps", false, "prefix lines with their time")
	return cmd
}
