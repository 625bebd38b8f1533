// Package mdns implements the mDNS (multicast DNS) transport: one socket
// listening on the multicast group, one lazily bound socket for sending, and
// an event stream of decoded queries and responses.
package mdns

import (
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	ipv4mdns = "224.0.0.251"
	ipv6mdns = "ff02::fb"
	mdnsPort = 5353

	// defaultTTL is the default multicast TTL (hop limit) of outbound packets.
	defaultTTL = 255

	TypeANY = dnsmessage.Type(255)
)

const (
	inboundBufferSize = 9000
)

// fqdn returns name with a trailing dot, the form dnsmessage packs.
func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
