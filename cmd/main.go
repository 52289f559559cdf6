package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/config"
	hostErrors "github.com/pocketagent/host/internal/errors"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		printNextAction(os.Stderr, err)
		os.Exit(1)
	}
}

// printNextAction prints the recovery hint for a coded error, if it has one.
func printNextAction(w io.Writer, err error) {
	if hint := hostErrors.GetNextAction(hostErrors.GetCode(err)); hint != "" {
		fmt.Fprintf(w, "Next: %s\n", hint)
	}
}

// newRootCmd builds the command tree. Output goes to stdout and stderr so
// tests can capture it.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "pocketagent",
		Short: "Host for the pocketagent companion app",
		Long: `pocketagent runs the host the companion app connects to over the LAN.

Start the host, pair a phone with a one-time code, then chat with the
agent, watch its status and receive push notifications from anywhere.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("config", "", "Path to config file (default: ~/.pocketagent/config.toml)")

	root.AddCommand(
		newStartCmd(),
		newPairCmd(),
		newDevicesCmd(),
		newNotifyCmd(),
		newStatusCmd(),
		newDiscoverCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pocketagent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pocketagent %s\n", Version)
		},
	}
}

// loadConfig reads the file named by --config (or the default location)
// and fills in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}
