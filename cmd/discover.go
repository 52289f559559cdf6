package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/mdns"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find pocketagent hosts advertising on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			hosts, err := mdns.Discover(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "No hosts found. Hosts advertise only when started with --mdns.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tVERSION\tFINGERPRINT")
			for _, h := range hosts {
				fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\n", h.Name, h.Host, h.Port, h.HostVersion, h.Fingerprint)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to listen for advertisements")
	return cmd
}
