package capture

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

// Interface describes a capture-capable network interface.
type Interface struct {
	Name         string   `json:"name"`
	Up           bool     `json:"up"`
	MTU          int      `json:"mtu"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Addrs        []string `json:"addrs,omitempty"`
}

// Lister enumerates network interfaces.
type Lister interface {
	Interfaces() ([]Interface, error)
}

// NetlinkLister lists interfaces through rtnetlink.
type NetlinkLister struct{}

func (NetlinkLister) Interfaces() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	out := make([]Interface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		iface := Interface{
			Name: attrs.Name,
			Up:   attrs.OperState == netlink.OperUp || attrs.Flags&net.FlagUp != 0,
			MTU:  attrs.MTU,
		}
		if len(attrs.HardwareAddr) > 0 {
			iface.HardwareAddr = attrs.HardwareAddr.String()
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err == nil {
			for _, a := range addrs {
				if a.IPNet != nil {
					iface.Addrs = append(iface.Addrs, a.IPNet.String())
				}
			}
		}
		out = append(out, iface)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Validate returns an error unless name is one of the listed interfaces.
func Validate(l Lister, name string) error {
	ifaces, err := l.Interfaces()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Name == name {
			return nil
		}
		names = append(names, iface.Name)
	}
	return fmt.Errorf("interface %q not found (available: %s)", name, strings.Join(names, ", "))
}

// ResolveInterface picks the capture interface: an explicit name wins,
// then the mapping for the connection type, then the fallback.
func ResolveInterface(explicit, connectionType string, byType map[string]string, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if name, ok := byType[strings.ToLower(connectionType)]; ok && name != "" {
		return name
	}
	return fallback
}
