package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mdns "github.com/bino7/multicast-dns"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print every query and response seen on the group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := flags.config()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tr, err := mdns.New(cfg, func(ev mdns.Event) {
			if ev.Kind != mdns.EventPacket {
				printEvent(out, ev)
			}
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		return tr.Close()
	},
}
