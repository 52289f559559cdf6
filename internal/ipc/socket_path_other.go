//go:build !unix

package ipc

import "fmt"

func validateSocketPath(path string) error {
	if path == "" {
		return fmt.Errorf("control socket path is empty")
	}
	return nil
}
