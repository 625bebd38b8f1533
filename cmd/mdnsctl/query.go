package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mdns "github.com/bino7/multicast-dns"
)

var queryWait time.Duration

var queryCmd = &cobra.Command{
	Use:   "query NAME [TYPE]",
	Short: "Send a query and print the responses that arrive",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var typ string
		if len(args) > 1 {
			typ = args[1]
		}
		qtype, err := parseType(typ)
		if err != nil {
			return err
		}

		cfg, err := flags.config()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tr, err := mdns.New(cfg, func(ev mdns.Event) {
			if ev.Kind == mdns.EventResponse || ev.Kind == mdns.EventWarning {
				printEvent(out, ev)
			}
		})
		if err != nil {
			return err
		}
		defer tr.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, queryWait)
		defer cancel()

		// Listen before asking so early answers are not missed.
		select {
		case <-tr.Ready():
		case <-ctx.Done():
			return nil
		}

		errc := make(chan error, 1)
		tr.QueryName(args[0], qtype, func(err error) { errc <- err })
		if err := <-errc; err != nil {
			return err
		}

		<-ctx.Done()
		return nil
	},
}

func init() {
	queryCmd.Flags().DurationVarP(&queryWait, "wait", "w", 2*time.Second, "how long to wait for responses")
}
