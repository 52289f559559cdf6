package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/config"
	"github.com/pocketagent/host/internal/ipc"
	"github.com/pocketagent/host/internal/mdns"
	"github.com/pocketagent/host/internal/push"
	"github.com/pocketagent/host/internal/server"
	"github.com/pocketagent/host/internal/status"
	"github.com/pocketagent/host/internal/storage"
	hostTLS "github.com/pocketagent/host/internal/tls"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the host",
		Long: `Start the host and accept companion app connections.

On first run a config file with LAN-ready defaults is written to
~/.pocketagent/config.toml. Flags override values from the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path == "" {
				if defaultPath, err := config.DefaultConfigPath(); err == nil {
					if err := config.WriteDefault(defaultPath); err != nil {
						return err
					}
				}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyStartFlags(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("addr", config.DefaultAddr, "Address to listen on")
	f.String("data-dir", "", "Directory for the database, certificates and logs (default: ~/.pocketagent)")
	f.Bool("tls", false, "Serve wss:// with a self-signed certificate")
	f.Bool("mdns", false, "Advertise the host on the local network")
	f.Bool("pair", false, "Print a pairing code on startup")
	f.Bool("qr", false, "Show the startup pairing code as a QR code (implies --pair)")
	f.String("log-file", "", "Write logs to this file instead of stderr")
	return cmd
}

// applyStartFlags copies explicitly set flags over file values.
func applyStartFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	if f.Changed("addr") {
		cfg.Addr, err = f.GetString("addr")
	}
	if err == nil && f.Changed("data-dir") {
		var dir string
		dir, err = f.GetString("data-dir")
		cfg.DataDir = dir
		cfg.DBPath, cfg.TLSCert, cfg.TLSKey = "", "", ""
	}
	if err == nil && f.Changed("tls") {
		cfg.TLS, err = f.GetBool("tls")
	}
	if err == nil && f.Changed("mdns") {
		cfg.MdnsEnabled, err = f.GetBool("mdns")
	}
	if err == nil && f.Changed("pair") {
		cfg.Pair, err = f.GetBool("pair")
	}
	if err == nil && f.Changed("qr") {
		cfg.QR, err = f.GetBool("qr")
	}
	if err == nil && f.Changed("log-file") {
		cfg.LogFile, err = f.GetString("log-file")
	}
	if err != nil {
		return err
	}
	if cfg.QR {
		cfg.Pair = true
	}
	// Paths derived from a new data dir are recomputed.
	return cfg.ApplyDefaults()
}

// runHost wires the host together and serves until ctx is done.
func runHost(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.SetOutput(logFile)
		defer func() {
			log.SetOutput(os.Stderr)
			logFile.Close()
		}()
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	credentials := auth.NewCredentialStore(store)
	log.Printf("host: %d paired device(s)", credentials.Load())

	pairing := auth.NewPairingRegistry(auth.PairingConfig{})
	defer pairing.Close()

	var pushOpts []push.ExpoClientOption
	if cfg.PushURL != "" {
		pushOpts = append(pushOpts, push.WithExpoURL(cfg.PushURL))
	}
	if cfg.PushAccessToken != "" {
		pushOpts = append(pushOpts, push.WithAccessToken(cfg.PushAccessToken))
	}

	var fingerprint string
	if cfg.TLS {
		cert, err := hostTLS.EnsureCertificate(hostTLS.CertConfig{CertPath: cfg.TLSCert, KeyPath: cfg.TLSKey})
		if err != nil {
			return err
		}
		if cert.Generated {
			log.Printf("host: generated TLS certificate at %s", cert.CertPath)
		}
		fingerprint = cert.Fingerprint
	}

	srv := server.NewServer(server.Config{
		Addr:        cfg.Addr,
		Pairing:     pairing,
		Credentials: credentials,
		Status:      status.NewBroadcaster(),
		Notifier:    push.NewNotifier(credentials, push.NewExpoClient(pushOpts...)),
		Settings:    store,
		HostName:    cfg.HostName,
		Version:     Version,
		TLSEnabled:  cfg.TLS,
		MdnsEnabled: cfg.MdnsEnabled,
	})

	var started <-chan error
	if cfg.TLS {
		started = srv.StartAsyncTLS(server.TLSConfig{CertPath: cfg.TLSCert, KeyPath: cfg.TLSKey})
	} else {
		started = srv.StartAsync()
	}
	if err := <-started; err != nil {
		return err
	}
	defer srv.Stop()

	control := ipc.NewControlSocket(ipc.SocketPath(cfg.DataDir), srv.LocalHandler())
	if err := control.Start(); err != nil {
		log.Printf("host: control socket disabled, CLI will use %s: %v", loopbackAddr(cfg.Addr), err)
	} else {
		defer control.Stop()
	}

	if cfg.MdnsEnabled {
		advertiser := mdns.NewAdvertiser(mdns.Config{
			Port:        listenPort(cfg.Addr),
			Fingerprint: fingerprint,
			Name:        cfg.HostName,
			HostVersion: Version,
		})
		if err := advertiser.Start(); err != nil {
			log.Printf("host: mdns disabled: %v", err)
		} else {
			defer advertiser.Stop()
		}
	}

	printBanner(stdout, cfg, fingerprint)

	if cfg.Pair {
		code, expiry, err := pairing.GenerateCode()
		if err != nil {
			return err
		}
		info := pairingInfo{Code: code, Expiry: expiry, Addr: displayAddr(cfg.Addr), Fingerprint: fingerprint}
		if cfg.QR {
			DisplayQRCode(stdout, info)
		} else {
			DisplayPairingCode(stdout, info)
		}
	}

	<-ctx.Done()
	log.Printf("host: shutting down")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config, fingerprint string) {
	scheme := "ws"
	if cfg.TLS {
		scheme = "wss"
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  pocketagent host %s\n", Version)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Address:  %s://%s/ws\n", scheme, cfg.Addr)
	fmt.Fprintf(w, "  Data:     %s\n", cfg.DataDir)
	if fingerprint != "" {
		fmt.Fprintf(w, "  TLS:      %s\n", fingerprint)
	}
	if cfg.MdnsEnabled {
		fmt.Fprintf(w, "  mDNS:     %s\n", mdns.ServiceType)
	}
	fmt.Fprintln(w, "  Pairing:  run 'pocketagent pair' to connect a phone")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return config.DefaultPort
}
