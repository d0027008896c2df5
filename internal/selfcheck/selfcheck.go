// Package selfcheck verifies that active enforcement actually holds: the
// firewall chains carry the compiled rules, every cutout route is
// installed, the default route stayed off the WiFi interface and DNS
// through the WiFi gateway still resolves.
package selfcheck

import (
	"fmt"
	"net"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/routing"
)

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// NetInfo is the interface-state slice the checker needs. Implemented by
// routing.Netlink.
type NetInfo interface {
	LinkUp(iface string) (bool, error)
	InterfaceGateway(iface string) (net.IP, error)
	InterfaceAddr(iface string) (net.IP, error)
}

// RouteReader reads route state without mutating it. Implemented by
// routing.Netlink.
type RouteReader interface {
	DefaultRoute() (*routing.DefaultRoute, error)
	RouteExists(dst cidr.Block) (bool, error)
}

// DNSProber resolves a hostname against a specific server, optionally
// bound to a local source address.
type DNSProber interface {
	Probe(hostname, server string, local net.IP) error
}

// Options configures a Checker.
type Options struct {
	Interface  string
	Policy     *cidr.Policy
	Exemptions []*config.ExemptionRule
	// Hostname is resolved through the WiFi gateway as the end-to-end probe.
	Hostname string
}

// Checker runs the diagnostic suite for one interface.
type Checker struct {
	opts   Options
	fw     firewall.Backend
	net    NetInfo
	routes RouteReader
	prober DNSProber
}

// New creates a Checker. prober may be nil to skip the DNS probe.
func New(opts Options, fw firewall.Backend, netInfo NetInfo, routes RouteReader, prober DNSProber) *Checker {
	return &Checker{
		opts:   opts,
		fw:     fw,
		net:    netInfo,
		routes: routes,
		prober: prober,
	}
}

// Run executes every check and returns the results in a fixed order.
// Checks that depend on the gateway are skipped (reported not-OK) when the
// interface has none.
func (c *Checker) Run() []Result {
	var results []Result

	up := c.checkLink(&results)
	gateway := c.checkGateway(&results, up)

	c.checkFirewall(&results, gateway)
	c.checkRoutes(&results)
	c.checkDefaultRoute(&results)
	c.checkDNS(&results, gateway)

	return results
}

// Healthy reports whether every result passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

func (c *Checker) checkLink(results *[]Result) bool {
	up, err := c.net.LinkUp(c.opts.Interface)
	switch {
	case err != nil:
		*results = append(*results, Result{Name: "link", Detail: err.Error()})
	case !up:
		*results = append(*results, Result{Name: "link", Detail: fmt.Sprintf("interface %s is down", c.opts.Interface)})
	default:
		*results = append(*results, Result{Name: "link", OK: true})
	}
	return err == nil && up
}

func (c *Checker) checkGateway(results *[]Result, up bool) net.IP {
	if !up {
		*results = append(*results, Result{Name: "gateway", Detail: "skipped, link is down"})
		return nil
	}

	gateway, err := c.net.InterfaceGateway(c.opts.Interface)
	switch {
	case err != nil:
		*results = append(*results, Result{Name: "gateway", Detail: err.Error()})
		return nil
	case gateway == nil:
		*results = append(*results, Result{Name: "gateway", Detail: fmt.Sprintf("no gateway on %s", c.opts.Interface)})
		return nil
	}
	*results = append(*results, Result{Name: "gateway", OK: true, Detail: gateway.String()})
	return gateway
}

func (c *Checker) checkFirewall(results *[]Result, gateway net.IP) {
	rs, err := firewall.Compile(c.opts.Policy, c.opts.Interface, gateway, c.opts.Exemptions)
	if err != nil {
		*results = append(*results, Result{Name: "firewall", Detail: fmt.Sprintf("failed to compile rule set: %v", err)})
		return
	}

	ok, err := c.fw.Verify(rs)
	switch {
	case err != nil:
		*results = append(*results, Result{Name: "firewall", Detail: err.Error()})
	case !ok:
		*results = append(*results, Result{Name: "firewall", Detail: "installed chains do not match the compiled rule set"})
	default:
		*results = append(*results, Result{Name: "firewall", OK: true, Detail: fmt.Sprintf("%d rules verified", len(rs.Rules))})
	}
}

func (c *Checker) checkRoutes(results *[]Result) {
	expected := firewall.CompileRoutes(c.opts.Policy)

	missing := 0
	for _, dst := range expected {
		exists, err := c.routes.RouteExists(dst)
		if err != nil {
			*results = append(*results, Result{Name: "routes", Detail: err.Error()})
			return
		}
		if !exists {
			missing++
		}
	}

	if missing > 0 {
		*results = append(*results, Result{Name: "routes", Detail: fmt.Sprintf("%d of %d cutout routes missing", missing, len(expected))})
		return
	}
	*results = append(*results, Result{Name: "routes", OK: true, Detail: fmt.Sprintf("%d cutout routes present", len(expected))})
}

// checkDefaultRoute verifies the default route never points at the WiFi
// interface. A missing default route is fine: the system may not have had
// one to begin with.
func (c *Checker) checkDefaultRoute(results *[]Result) {
	def, err := c.routes.DefaultRoute()
	switch {
	case err != nil:
		*results = append(*results, Result{Name: "default_route", Detail: err.Error()})
	case def != nil && def.Interface == c.opts.Interface:
		*results = append(*results, Result{Name: "default_route", Detail: fmt.Sprintf("default route points at %s via %s", c.opts.Interface, def.Gateway)})
	case def == nil:
		*results = append(*results, Result{Name: "default_route", OK: true, Detail: "no default route installed"})
	default:
		*results = append(*results, Result{Name: "default_route", OK: true, Detail: fmt.Sprintf("via %s on %s", def.Gateway, def.Interface)})
	}
}

func (c *Checker) checkDNS(results *[]Result, gateway net.IP) {
	if c.prober == nil || c.opts.Hostname == "" {
		return
	}
	if gateway == nil {
		*results = append(*results, Result{Name: "dns", Detail: "skipped, no gateway"})
		return
	}

	local, err := c.net.InterfaceAddr(c.opts.Interface)
	if err != nil {
		*results = append(*results, Result{Name: "dns", Detail: err.Error()})
		return
	}

	server := net.JoinHostPort(gateway.String(), "53")
	if err := c.prober.Probe(c.opts.Hostname, server, local); err != nil {
		*results = append(*results, Result{Name: "dns", Detail: fmt.Sprintf("failed to resolve %s via %s: %v", c.opts.Hostname, server, err)})
		return
	}
	*results = append(*results, Result{Name: "dns", OK: true, Detail: fmt.Sprintf("%s resolved via %s", c.opts.Hostname, server)})
}
