package selfcheck

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSProbeTimeout bounds the single UDP exchange of the DNS check.
const DNSProbeTimeout = 3 * time.Second

// UDPProber resolves an A record over plain UDP port 53, the path the
// essential DNS exemption keeps open through the WiFi gateway.
type UDPProber struct {
	Timeout time.Duration
}

// Probe queries server for an A record of hostname. When local is set, the
// query is sourced from that address so it actually exercises the WiFi
// interface instead of whatever the routing table prefers.
func (p UDPProber) Probe(hostname, server string, local net.IP) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DNSProbeTimeout
	}

	client := &dns.Client{Net: "udp", Timeout: timeout}
	if local != nil {
		client.Dialer = &net.Dialer{
			Timeout:   timeout,
			LocalAddr: &net.UDPAddr{IP: local},
		}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)

	resp, _, err := client.Exchange(msg, server)
	if err != nil {
		return err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("server answered %s", dns.RcodeToString[resp.Rcode])
	}
	return nil
}
