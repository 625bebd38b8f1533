package main

import (
	"github.com/spf13/cobra"

	mdns "github.com/bino7/multicast-dns"
)

var respondCmd = &cobra.Command{
	Use:   "respond RECORD...",
	Short: "Multicast an unsolicited response",
	Long: `Multicast an unsolicited response whose answers are the given records,
written in zone-file syntax:

  mdnsctl respond "printer.local. 120 IN A 192.168.1.40"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := parseAnswers(args)
		if err != nil {
			return err
		}

		cfg, err := flags.config()
		if err != nil {
			return err
		}

		out := cmd.ErrOrStderr()
		tr, err := mdns.New(cfg, func(ev mdns.Event) {
			if ev.Kind == mdns.EventWarning {
				printEvent(out, ev)
			}
		})
		if err != nil {
			return err
		}
		defer tr.Close()

		errc := make(chan error, 1)
		tr.RespondAnswers(answers, func(err error) { errc <- err })
		return <-errc
	},
}
