package cgw

import (
	"fmt"
	"strconv"

	"github.com/vishvananda/netlink"
)

// ResolveIfIndex maps an interface name (or a decimal index) to its ifindex.
func ResolveIfIndex(name string) (uint32, error) {
	if n, err := strconv.ParseUint(name, 10, 32); err == nil && n > 0 {
		return uint32(n), nil
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("resolve interface %q: %w", name, err)
	}
	return uint32(link.Attrs().Index), nil
}
