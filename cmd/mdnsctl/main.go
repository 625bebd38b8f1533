// Command mdnsctl sends and watches mDNS traffic through the transport.
package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	mdns "github.com/bino7/multicast-dns"
)

type transportFlags struct {
	port        int
	network     string
	ip          string
	iface       string
	noMulticast bool
	ttl         int
	noLoopback  bool
	noReuseAddr bool
	debug       bool
}

func (f *transportFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&f.port, "port", "p", 5353, "UDP port to listen on and send to")
	fs.StringVarP(&f.network, "type", "t", "udp4", "address family, udp4 or udp6")
	fs.StringVar(&f.ip, "ip", "", "multicast group (default 224.0.0.251 for udp4, required for udp6)")
	fs.StringVarP(&f.iface, "interface", "i", "", "interface name or address to join the group on (required for udp6)")
	fs.BoolVar(&f.noMulticast, "no-multicast", false, "do not join the group or set multicast options")
	fs.IntVar(&f.ttl, "ttl", 255, "multicast TTL of outbound packets")
	fs.BoolVar(&f.noLoopback, "no-loopback", false, "do not receive our own multicast packets")
	fs.BoolVar(&f.noReuseAddr, "no-reuse-addr", false, "bind without SO_REUSEADDR")
	fs.BoolVarP(&f.debug, "debug", "d", false, "log transport internals")
}

func (f *transportFlags) config() (*mdns.Config, error) {
	network, err := mdns.ParseAddressFamily(f.network)
	if err != nil {
		return nil, err
	}

	logger := &log.Logger{
		Handler: cli.New(os.Stderr),
		Level:   log.InfoLevel,
	}
	if f.debug {
		logger.Level = log.DebugLevel
	}

	c := &mdns.Config{
		Port:             f.port,
		Network:          network,
		IP:               f.ip,
		Interface:        f.iface,
		DisableMulticast: f.noMulticast,
		TTL:              f.ttl,
		DisableLoopback:  f.noLoopback,
		DisableReuseAddr: f.noReuseAddr,
		Logger:           logger,
	}
	return c, c.Validate()
}

var flags transportFlags

var rootCmd = &cobra.Command{
	Use:          "mdnsctl",
	Short:        "Send and watch multicast DNS packets",
	SilenceUsage: true,
}

func init() {
	flags.register(rootCmd.PersistentFlags())
	rootCmd.AddCommand(listenCmd, queryCmd, respondCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
