package mdns

import (
	"net"
	"os"
	"strconv"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// AddressFamily selects the IP version of both sockets.
type AddressFamily int

const (
	IPv4 AddressFamily = iota
	IPv6
)

func (f AddressFamily) String() string {
	if f == IPv6 {
		return "udp6"
	}
	return "udp4"
}

// ParseAddressFamily accepts "udp4", "ipv4", "4", "udp6", "ipv6" and "6".
func ParseAddressFamily(s string) (AddressFamily, error) {
	switch s {
	case "", "udp4", "ipv4", "4":
		return IPv4, nil
	case "udp6", "ipv6", "6":
		return IPv6, nil
	}
	return IPv4, errors.Errorf("unknown address family %q", s)
}

// Config is used to configure a Transport. The zero value listens on
// 224.0.0.251:5353 over IPv4.
type Config struct {
	// Port is both the listening port and the destination port, default 5353.
	Port int

	// Network selects udp4 or udp6.
	Network AddressFamily

	// IP overrides the multicast group. Required for IPv6.
	IP string

	// Interface is the name or address of the interface on which the group
	// is joined. Required for IPv6.
	Interface string

	// DisableMulticast skips group membership, TTL and loopback setup.
	DisableMulticast bool

	// TTL of outbound multicast packets, default 255.
	TTL int

	DisableLoopback  bool
	DisableReuseAddr bool

	// Codec encodes and decodes packets, default DNSMessageCodec.
	Codec Codec

	Logger log.Interface
}

// Validate reports configuration errors that would make New fail.
func (c *Config) Validate() error {
	_, err := c.resolve()
	return err
}

// settings is the immutable form of Config a Transport runs with.
type settings struct {
	port       int
	network    AddressFamily
	group      net.IP
	iface      string
	multicast  bool
	ttl        int
	loopback   bool
	reuseAddr  bool
	codec      Codec
	log        log.Interface
	dstAddr    *net.UDPAddr
	listenAddr string
	sendAddr   string
}

func (c *Config) resolve() (*settings, error) {
	if c == nil {
		c = &Config{}
	}

	ip := c.IP
	if ip == "" && c.Network == IPv4 {
		ip = ipv4mdns
	}
	if c.Network == IPv6 && (ip == "" || c.Interface == "") {
		return nil, &ConfigError{Field: "IP/Interface", Err: ErrIPv6Config}
	}

	group := net.ParseIP(ip)
	if group == nil {
		return nil, &ConfigError{Field: "IP", Err: errors.Errorf("%q is not an IP address", ip)}
	}
	if (c.Network == IPv4) != (group.To4() != nil) {
		return nil, &ConfigError{Field: "IP", Err: errors.Errorf("%s does not match network %s", group, c.Network)}
	}

	port := c.Port
	if port == 0 {
		port = mdnsPort
	}
	if port < 0 || port > 65535 {
		return nil, &ConfigError{Field: "Port", Err: errors.Errorf("%d out of range", port)}
	}

	ttl := c.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	if ttl < 0 || ttl > 255 {
		return nil, &ConfigError{Field: "TTL", Err: errors.Errorf("%d out of range", ttl)}
	}

	codec := c.Codec
	if codec == nil {
		codec = DNSMessageCodec{}
	}

	logger := c.Logger
	if logger == nil {
		logger = &log.Logger{
			Handler: cli.New(os.Stderr),
			Level:   log.InfoLevel,
		}
	}

	s := &settings{
		port:      port,
		network:   c.Network,
		group:     group,
		iface:     c.Interface,
		multicast: !c.DisableMulticast,
		ttl:       ttl,
		loopback:  !c.DisableLoopback,
		reuseAddr: !c.DisableReuseAddr,
		codec:     codec,
		log:       logger,
		dstAddr:   &net.UDPAddr{IP: group, Port: port},
	}

	unspecified := "0.0.0.0"
	if c.Network == IPv6 {
		unspecified = "::"
		if group.IsLinkLocalMulticast() || group.IsInterfaceLocalMulticast() {
			s.dstAddr.Zone = zoneOf(c.Interface)
		}
	}
	s.listenAddr = net.JoinHostPort(unspecified, strconv.Itoa(port))
	s.sendAddr = net.JoinHostPort(unspecified, "0")
	return s, nil
}

// zoneOf returns the zone to use for a link-local destination. Interface
// may be given by name or by address; an address carries no zone.
func zoneOf(iface string) string {
	if net.ParseIP(iface) != nil {
		if ifi, err := interfaceByAddr(net.ParseIP(iface)); err == nil {
			return ifi.Name
		}
		return ""
	}
	return iface
}

// lookupInterface resolves Interface by name, then by one of its addresses.
func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	if ip := net.ParseIP(name); ip != nil {
		return interfaceByAddr(ip)
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "%s", name), errUnknownInterface)
	}
	return ifi, nil
}

func interfaceByAddr(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, errors.Wrap(errUnknownInterface, ip.String())
}
