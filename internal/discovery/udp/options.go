package udp

import (
	"net"
	"strconv"
	"time"
)

// Default socket settings.
const (
	// DefaultReceiveTimeout bounds each Receive call.
	DefaultReceiveTimeout = 10 * time.Second

	// defaultBindTimeout bounds a single bind attempt.
	defaultBindTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single Send.
	defaultWriteTimeout = 2 * time.Second

	// maxDatagramSize is the largest UDP payload; reading into a smaller
	// buffer would silently truncate oversized frames.
	maxDatagramSize = 65535
)

// Options configures a Channel.
type Options struct {
	// Address is the local IPv4 address to bind.
	// Default: "0.0.0.0"
	Address string

	// Port is the local UDP port. Zero picks an ephemeral port.
	Port int

	// Broadcast enables SO_BROADCAST so probes can target broadcast addresses.
	Broadcast bool

	// ReuseAddress enables SO_REUSEADDR so other listeners can share the port.
	ReuseAddress bool

	// ReceiveTimeout bounds each Receive call and drives housekeeping.
	// Default: 10s
	ReceiveTimeout time.Duration

	// MulticastGroup is an optional IPv4 group to join (e.g. "224.0.23.12").
	MulticastGroup string

	// Interface names the NIC used for multicast membership.
	// Default: system choice
	Interface string

	// ReadBufferSize sets SO_RCVBUF when positive.
	ReadBufferSize int
}

func (o *Options) applyDefaults() {
	if o.Address == "" {
		o.Address = "0.0.0.0"
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
}

func (o Options) address() string {
	return net.JoinHostPort(o.Address, strconv.Itoa(o.Port))
}
