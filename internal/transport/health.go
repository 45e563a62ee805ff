package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// ReachabilityChecker dials the VTN's TCP address to confirm something
// is listening before the registration handshake is attempted. The
// context deadline controls the timeout.
type ReachabilityChecker struct {
	addr string // host:port to dial
	name string // human-readable peer name for error messages
}

// NewReachabilityChecker creates a checker for the given address.
// The addr can be a URL (https://vtn.example.com:8443/OpenADR2/Simple/2.0b)
// or a raw host:port.
func NewReachabilityChecker(addr, name string) *ReachabilityChecker {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "https":
				host = net.JoinHostPort(u.Hostname(), "443")
			case "http":
				host = net.JoinHostPort(u.Hostname(), "80")
			}
		}
		addr = host
	}
	return &ReachabilityChecker{addr: addr, name: name}
}

// Check attempts a TCP connection to the peer. Returns nil if reachable.
func (h *ReachabilityChecker) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", h.name, err)
	}
	conn.Close()
	return nil
}
