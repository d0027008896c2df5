package routing

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// InterfaceInfo is a summary of one network interface for listings and
// link-state checks.
type InterfaceInfo struct {
	Name  string
	Index int
	Up    bool
	Addrs []string
}

// ListInterfaces returns all network interfaces known to the system.
func ListInterfaces() ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	infos := make([]InterfaceInfo, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		info := InterfaceInfo{
			Name:  attrs.Name,
			Index: attrs.Index,
			Up:    attrs.Flags&net.FlagUp != 0,
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err == nil {
			for _, addr := range addrs {
				info.Addrs = append(info.Addrs, addr.IPNet.String())
			}
		}

		infos = append(infos, info)
	}
	return infos, nil
}

// LinkUp reports whether the named interface exists and is administratively
// and operationally up.
func (n *Netlink) LinkUp(iface string) (bool, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up interface %s: %w", iface, err)
	}
	return link.Attrs().Flags&net.FlagUp != 0, nil
}

// InterfaceGateway returns the gateway reachable through iface: the
// gateway of a default route scoped to the interface when one exists,
// otherwise the gateway of any other route through it. Returns nil when
// the interface has no gatewayed route (e.g. no DHCP lease yet).
func (n *Netlink) InterfaceGateway(iface string) (net.IP, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}

	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4,
		&netlink.Route{LinkIndex: link.Attrs().Index}, netlink.RT_FILTER_OIF)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes for %s: %w", iface, err)
	}

	var fallback net.IP
	for i := range routes {
		route := &routes[i]
		if route.Gw == nil {
			continue
		}
		if isDefault(route) {
			return route.Gw, nil
		}
		if fallback == nil {
			fallback = route.Gw
		}
	}
	return fallback, nil
}

// InterfaceAddr returns the first IPv4 address assigned to iface, or nil.
func (n *Netlink) InterfaceAddr(iface string) (net.IP, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses for %s: %w", iface, err)
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	return addrs[0].IP, nil
}
