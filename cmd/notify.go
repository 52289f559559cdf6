package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/server"
)

func newNotifyCmd() *cobra.Command {
	var req server.NotifyRequest
	var data map[string]string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a push notification to every paired device",
		Long: `Send a push notification through the running host.

Delivery is best effort: the host accepts the request and sends it in the
background. Devices without a registered push token are skipped.`,
		Example: `  pocketagent notify --title "Build finished" --body "All tests passed"
  pocketagent notify --body "Reminder" --data sessionId=default`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Title == "" && req.Body == "" {
				return errors.New("--title or --body is required")
			}
			if len(data) > 0 {
				req.Data = make(map[string]any, len(data))
				for k, v := range data {
					req.Data[k] = v
				}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			api, err := newHostAPI(cfg)
			if err != nil {
				return err
			}
			if err := api.do(cmd.Context(), http.MethodPost, "/api/notify", req, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Notification queued.")
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "Notification title")
	cmd.Flags().StringVar(&req.Body, "body", "", "Notification body (truncated to 200 characters)")
	cmd.Flags().StringToStringVar(&data, "data", nil, "Extra payload as key=value pairs")
	return cmd
}
