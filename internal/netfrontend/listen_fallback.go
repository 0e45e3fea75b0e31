//go:build !linux

package netfrontend

import (
	"fmt"
	"net"
)

// listenTCP falls back to the plain net package on non-Linux platforms.
// SO_REUSEADDR is already the default net package behavior on these
// platforms and the OS-chosen backlog is used in place of an explicit one.
func listenTCP(port int, _ int) (net.Listener, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return ln, nil
}
