package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/miekg/dns"

	mdns "github.com/bino7/multicast-dns"
)

var (
	queryColor    = color.New(color.FgCyan, color.Bold)
	responseColor = color.New(color.FgGreen, color.Bold)
	warningColor  = color.New(color.FgYellow, color.Bold)
)

// printEvent writes one event. Packets are rendered from their raw bytes in
// dig style.
func printEvent(w io.Writer, ev mdns.Event) {
	switch ev.Kind {
	case mdns.EventReady:
		fmt.Fprintln(w, color.New(color.Faint).Sprint("ready"))
	case mdns.EventQuery:
		queryColor.Fprintf(w, "query from %s\n", ev.Addr)
		fmt.Fprintln(w, renderRaw(ev.Raw))
	case mdns.EventResponse:
		responseColor.Fprintf(w, "response from %s\n", ev.Addr)
		fmt.Fprintln(w, renderRaw(ev.Raw))
	case mdns.EventWarning:
		warningColor.Fprintf(w, "warning: %v\n", ev.Err)
	}
}

func renderRaw(raw []byte) string {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return fmt.Sprintf(";; unparsable packet: %v", err)
	}
	return strings.TrimRight(msg.String(), "\n")
}
