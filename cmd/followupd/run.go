package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	runOwner string
	runAt    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one run cycle for an owner and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		loc, err := time.LoadLocation(a.cfg.Timezone)
		if err != nil {
			return err
		}
		ts, err := parseTime(runAt, loc)
		if err != nil {
			return err
		}

		next, err := a.svc.RunAt(cmd.Context(), runOwner, ts)
		if err != nil {
			return err
		}
		if next == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "next run: none")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "next run: %s\n", next.Format(timeLayout))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOwner, "owner", "", "owner id")
	runCmd.Flags().StringVar(&runAt, "at", "", "run as of this time (RFC 3339), default now")
	_ = runCmd.MarkFlagRequired("owner")
}
