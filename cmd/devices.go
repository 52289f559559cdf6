package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/storage"
)

// deviceView is the listing shape; it never carries the token itself.
type deviceView struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	PairedAt   string `json:"pairedAt"`
	Token      string `json:"tokenFingerprint"`
	Push       bool   `json:"push"`
}

func newDevicesCmd() *cobra.Command {
	devices := &cobra.Command{
		Use:   "devices",
		Short: "Manage paired devices",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List paired devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			credentials := auth.NewCredentialStore(store)
			credentials.Load()

			views := make([]deviceView, 0, credentials.Len())
			for _, c := range credentials.List() {
				views = append(views, deviceView{
					DeviceID:   c.DeviceID,
					DeviceName: c.DeviceName,
					PairedAt:   c.PairedAt.Local().Format("2006-01-02 15:04"),
					Token:      auth.TokenFingerprint(c.Token),
					Push:       c.PushToken != "",
				})
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			if len(views) == 0 {
				fmt.Fprintln(out, "No paired devices. Run 'pocketagent pair' to add one.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDEVICE ID\tPAIRED\tTOKEN\tPUSH")
			for _, v := range views {
				push := "no"
				if v.Push {
					push = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.DeviceName, v.DeviceID, v.PairedAt, v.Token, push)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	devices.AddCommand(list)
	return devices
}
