package net

import (
	"fmt"
	"net"
)

// GetEphemeralTCPPort asks the OS for a free loopback port. Another process may take it before it is used,
// so callers should pick a fresh one on every start attempt.
func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// ResolvePort returns port, or a free ephemeral port if it is 0.
func ResolvePort(port int) (int, error) {
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d", port)
	}
	if port != 0 {
		return port, nil
	}
	return GetEphemeralTCPPort()
}
