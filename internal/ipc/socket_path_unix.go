//go:build unix

package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxSocketPath is sun_path minus the terminating NUL.
const maxSocketPath = len(unix.RawSockaddrUnix{}.Path) - 1

func validateSocketPath(path string) error {
	if path == "" {
		return fmt.Errorf("control socket path is empty")
	}
	if len(path) > maxSocketPath {
		return fmt.Errorf("control socket path exceeds %d bytes: %s", maxSocketPath, path)
	}
	return nil
}
