// Package routing abstracts the OS route table for the enforcement
// orchestrator. The production implementation drives rtnetlink through
// github.com/vishvananda/netlink; tests substitute a fake.
package routing

import (
	"fmt"
	"net"

	"github.com/netfence/wifisplit/internal/cidr"
)

// DefaultRoute describes the system default route.
type DefaultRoute struct {
	Gateway   net.IP
	Interface string
}

func (d *DefaultRoute) String() string {
	return fmt.Sprintf("default via %s dev %s", d.Gateway, d.Interface)
}

// Backend abstracts route-table mutation. All operations are idempotent:
// adding an existing route or deleting a missing one succeeds.
type Backend interface {
	// DefaultRoute returns the current default route, or nil when the
	// system has none.
	DefaultRoute() (*DefaultRoute, error)

	// AddDefaultRoute installs a default route via the gateway on the
	// interface.
	AddDefaultRoute(gw net.IP, iface string) error

	// DeleteDefaultRoute removes any default route scoped to the
	// interface. Default routes on other interfaces are left alone.
	DeleteDefaultRoute(iface string) error

	// AddRoute installs a route to dst via the gateway on the interface.
	AddRoute(dst cidr.Block, gw net.IP, iface string) error

	// DeleteRoute removes the route to dst.
	DeleteRoute(dst cidr.Block) error
}
