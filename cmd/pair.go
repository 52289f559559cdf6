package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/config"
	hostErrors "github.com/pocketagent/host/internal/errors"
)

// pairingInfo is everything the phone needs to pair.
type pairingInfo struct {
	Code        string
	Expiry      time.Time
	Addr        string
	Fingerprint string
}

func newPairCmd() *cobra.Command {
	var (
		addr string
		qr   bool
	)

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Generate a pairing code for the companion app",
		Long: `Ask the running host for a fresh pairing code.

The code is valid for 5 minutes and can only be used once. Generating a
new code invalidates the previous one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			api, err := newHostAPI(cfg)
			if err != nil {
				return err
			}

			var resp auth.CodeResponse
			if err := api.do(cmd.Context(), http.MethodPost, "/pair/generate", nil, &resp); err != nil {
				// The host answered but refused; starting it again would not help.
				if hostErrors.IsCode(err, hostErrors.CodeAuthGenerateForbidden) {
					return err
				}
				return fmt.Errorf("%w\n\nThe host must be running to generate a pairing code. Start it with: pocketagent start", err)
			}

			if addr == "" {
				addr = displayAddr(cfg.Addr)
			}
			info := pairingInfo{Code: resp.Code, Expiry: resp.Expiry, Addr: addr, Fingerprint: api.fingerprint}
			if qr {
				DisplayQRCode(cmd.OutOrStdout(), info)
			} else {
				DisplayPairingCode(cmd.OutOrStdout(), info)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address shown to the phone (default: Tailscale or LAN IP)")
	cmd.Flags().BoolVar(&qr, "qr", false, "Display pairing information as a QR code")
	return cmd
}

// DisplayPairingCode prints the code for manual entry.
func DisplayPairingCode(w io.Writer, info pairingInfo) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(info.Code))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Expires: %s\n", info.Expiry.Local().Format("15:04:05"))
	fmt.Fprintf(w, "  Host:    %s\n", info.Addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the app to pair.")
	fmt.Fprintln(w, "  The code can only be used once.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRCode prints a scannable pocketagent://pair link followed by a
// plain-text fallback.
func DisplayQRCode(w io.Writer, info pairingInfo) {
	qr, err := qrcode.New(pairingURL(info), qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n\n", err)
		DisplayPairingCode(w, info)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  Code:        %s\n", FormatCodeWithSpaces(info.Code))
	fmt.Fprintf(w, "  Host:        %s\n", info.Addr)
	if info.Fingerprint != "" {
		fmt.Fprintf(w, "  Fingerprint: %s\n", info.Fingerprint)
	}
	fmt.Fprintf(w, "  Expires:     %s\n", info.Expiry.Local().Format("15:04:05"))
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// pairingURL encodes info as pocketagent://pair?host=...&code=...[&fp=...].
func pairingURL(info pairingInfo) string {
	q := url.Values{}
	q.Set("host", info.Addr)
	q.Set("code", info.Code)
	if info.Fingerprint != "" {
		q.Set("fp", info.Fingerprint)
	}
	return "pocketagent://pair?" + q.Encode()
}

// FormatCodeWithSpaces turns "123456" into "1 2 3 4 5 6".
func FormatCodeWithSpaces(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}

// displayAddr is the address a phone should dial. An explicit listen host
// is used as is; a wildcard listener is shown as the Tailscale IP, then the
// LAN IP, then loopback.
func displayAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		host, port = "", strconv.Itoa(config.DefaultPort)
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return net.JoinHostPort(host, port)
	}

	if ip := tailscaleIP(); ip != "" {
		return net.JoinHostPort(ip, port)
	}
	if ip := outboundIP(); ip != "" {
		return net.JoinHostPort(ip, port)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

// outboundIP returns the local address the OS would route public traffic
// from. Dialing UDP sends no packets.
func outboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// tailscaleNet is the CGNAT range Tailscale assigns from.
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

func tailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok {
				if ip := ipNet.IP.To4(); ip != nil && tailscaleNet.Contains(ip) {
					return ip.String()
				}
			}
		}
	}
	return ""
}
