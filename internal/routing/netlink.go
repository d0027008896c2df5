package routing

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/log"
)

// Netlink is the production routing backend, manipulating the main route
// table through rtnetlink.
type Netlink struct{}

// NewNetlink creates the netlink-backed routing backend.
func NewNetlink() *Netlink {
	return &Netlink{}
}

// ipRoute wraps netlink.Route with a readable String for log lines.
type ipRoute struct {
	*netlink.Route
}

func (r *ipRoute) String() string {
	dst := "default"
	if r.Dst != nil && r.Dst.String() != "<nil>" {
		dst = r.Dst.String()
	}

	gw := "<none>"
	if r.Gw != nil {
		gw = r.Gw.String()
	}

	linkName := "<nil>"
	if r.LinkIndex > 0 {
		if link, err := netlink.LinkByIndex(r.LinkIndex); err != nil {
			linkName = "<err: " + err.Error() + ">"
		} else {
			linkName = link.Attrs().Name
		}
	}

	return fmt.Sprintf("dst=%s via %s dev %s (idx=%d)", dst, gw, linkName, r.LinkIndex)
}

func (r *ipRoute) isExists() (bool, error) {
	filters := uint64(netlink.RT_FILTER_TABLE | netlink.RT_FILTER_DST)
	filtered, err := netlink.RouteListFiltered(netlink.FAMILY_V4, r.Route, filters)
	if err != nil {
		log.Warnf("Checking if IP route exists [%v] failed: %v", r, err)
		return false, err
	}
	return len(filtered) > 0, nil
}

func (r *ipRoute) addIfNotExists() error {
	exists, err := r.isExists()
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("IP route [%v] already present", r)
		return nil
	}

	log.Debugf("Adding IP route [%v]", r)
	if err := netlink.RouteAdd(r.Route); err != nil {
		log.Warnf("Failed to add IP route [%v]: %v", r, err)
		return err
	}
	return nil
}

func (r *ipRoute) delIfExists() error {
	exists, err := r.isExists()
	if err != nil {
		return err
	}
	if !exists {
		log.Debugf("IP route [%v] already absent", r)
		return nil
	}

	log.Debugf("Deleting IP route [%v]", r)
	if err := netlink.RouteDel(r.Route); err != nil {
		log.Warnf("Failed to delete IP route [%v]: %v", r, err)
		return err
	}
	return nil
}

func defaultDst() *net.IPNet {
	return &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}
}

// DefaultRoute returns the current system default route, or nil when none
// is installed. With multiple default routes the lowest metric wins.
func (n *Netlink) DefaultRoute() (*DefaultRoute, error) {
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4,
		&netlink.Route{Table: unix.RT_TABLE_MAIN}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, errors.NewBackendUnavailable("failed to list routes", err)
	}

	var best *netlink.Route
	for i := range routes {
		route := &routes[i]
		if !isDefault(route) || route.Gw == nil {
			continue
		}
		if best == nil || route.Priority < best.Priority {
			best = route
		}
	}
	if best == nil {
		return nil, nil
	}

	link, err := netlink.LinkByIndex(best.LinkIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve link %d: %w", best.LinkIndex, err)
	}

	return &DefaultRoute{Gateway: best.Gw, Interface: link.Attrs().Name}, nil
}

// AddDefaultRoute installs a default route via gw on iface if it is not
// already present.
func (n *Netlink) AddDefaultRoute(gw net.IP, iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}

	route := &ipRoute{&netlink.Route{
		Table:     unix.RT_TABLE_MAIN,
		LinkIndex: link.Attrs().Index,
		Gw:        gw,
		Dst:       defaultDst(),
	}}
	return route.addIfNotExists()
}

// DeleteDefaultRoute removes every default route that goes out through
// iface, leaving default routes on other interfaces untouched.
func (n *Netlink) DeleteDefaultRoute(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}

	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4,
		&netlink.Route{Table: unix.RT_TABLE_MAIN, LinkIndex: link.Attrs().Index},
		netlink.RT_FILTER_TABLE|netlink.RT_FILTER_OIF)
	if err != nil {
		return errors.NewBackendUnavailable("failed to list routes", err)
	}

	for i := range routes {
		route := &routes[i]
		if !isDefault(route) {
			continue
		}
		wrapped := &ipRoute{route}
		log.Debugf("Deleting default route [%v] scoped to %s", wrapped, iface)
		if err := netlink.RouteDel(route); err != nil {
			return fmt.Errorf("failed to delete default route on %s: %w", iface, err)
		}
	}
	return nil
}

// AddRoute installs a route to dst via gw on iface if not already present.
func (n *Netlink) AddRoute(dst cidr.Block, gw net.IP, iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}

	route := &ipRoute{&netlink.Route{
		Table:     unix.RT_TABLE_MAIN,
		LinkIndex: link.Attrs().Index,
		Gw:        gw,
		Dst:       dst.IPNet(),
	}}
	return route.addIfNotExists()
}

// RouteExists reports whether a route to dst is present in the main table.
func (n *Netlink) RouteExists(dst cidr.Block) (bool, error) {
	route := &ipRoute{&netlink.Route{
		Table: unix.RT_TABLE_MAIN,
		Dst:   dst.IPNet(),
	}}
	return route.isExists()
}

// DeleteRoute removes the route to dst if present.
func (n *Netlink) DeleteRoute(dst cidr.Block) error {
	route := &ipRoute{&netlink.Route{
		Table: unix.RT_TABLE_MAIN,
		Dst:   dst.IPNet(),
	}}
	return route.delIfExists()
}

func isDefault(route *netlink.Route) bool {
	if route.Dst == nil {
		return true
	}
	ones, _ := route.Dst.Mask.Size()
	return ones == 0 && route.Dst.IP.Equal(net.IPv4zero)
}
