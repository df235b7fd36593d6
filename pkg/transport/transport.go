// Package transport opens the raw socket to a DSP. It carries no protocol
// knowledge: both socket kinds are consumed through the same net.Conn read
// path, so stream and datagram traffic share one framing code path upstream.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind identifies the socket type used to reach the device.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp", "":
		return KindTCP, nil
	case "udp":
		return KindUDP, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// Network returns the net package network name for the kind.
func (k Kind) Network() string {
	if k == KindUDP {
		return "udp"
	}
	return "tcp"
}

// Address joins a host and port into a dialable address string.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial opens a connection of the given kind. Cancellation and dial timeout
// come from ctx. For KindUDP the returned conn is a connected datagram
// socket; each Read yields one packet.
func Dial(ctx context.Context, kind Kind, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, kind.Network(), address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", kind, address, err)
	}
	return conn, nil
}
