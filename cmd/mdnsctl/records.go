package main

import (
	"strings"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"golang.org/x/net/dns/dnsmessage"

	mdns "github.com/bino7/multicast-dns"
)

// parseType maps a record type mnemonic such as "PTR" to its code.
func parseType(s string) (dnsmessage.Type, error) {
	if s == "" {
		return mdns.TypeANY, nil
	}
	t, ok := dns.StringToType[strings.ToUpper(s)]
	if !ok {
		return 0, errors.Errorf("unknown record type %q", s)
	}
	return dnsmessage.Type(t), nil
}

// parseAnswers reads zone-file records, e.g. "foo.local. 120 IN A 10.0.0.2",
// and returns them as answer resources.
func parseAnswers(lines []string) ([]dnsmessage.Resource, error) {
	msg := new(dns.Msg)
	msg.Response = true
	for _, l := range lines {
		rr, err := dns.NewRR(l)
		if err != nil {
			return nil, errors.Wrapf(err, "parse record %q", l)
		}
		if rr == nil {
			continue
		}
		msg.Answer = append(msg.Answer, rr)
	}

	b, err := msg.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "pack records")
	}
	p, err := mdns.DNSMessageCodec{}.Decode(b)
	if err != nil {
		return nil, err
	}
	return p.Answers, nil
}
