package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/server"
)

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running host's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			api, err := newHostAPI(cfg)
			if err != nil {
				return err
			}

			var st server.StatusResponse
			if err := api.do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
				return fmt.Errorf("%w\n\nIs the host running? Start it with: pocketagent start", err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printStatus(w io.Writer, st server.StatusResponse) {
	fmt.Fprintf(w, "Host:           %s (%s)\n", st.HostName, st.Version)
	fmt.Fprintf(w, "Listening:      %s\n", st.ListeningAddress)
	fmt.Fprintf(w, "Uptime:         %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	fmt.Fprintf(w, "Connections:    %d (%d authenticated)\n", st.ConnectedClients, st.AuthenticatedClients)
	fmt.Fprintf(w, "Paired devices: %d (%d with push)\n", st.PairedDevices, st.PushDevices)
	if st.DevicesUpdatedAt != nil {
		fmt.Fprintf(w, "Devices saved:  %s\n", st.DevicesUpdatedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "TLS:            %s\n", onOff(st.TLSEnabled))
	fmt.Fprintf(w, "mDNS:           %s\n", onOff(st.MdnsEnabled))
	if st.PairingCodeActive && st.PairingCodeExpiry != nil {
		fmt.Fprintf(w, "Pairing code:   active until %s\n", st.PairingCodeExpiry.Local().Format("15:04:05"))
	} else {
		fmt.Fprintln(w, "Pairing code:   none")
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
