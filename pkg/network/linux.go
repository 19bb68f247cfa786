package network

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

const netnsRunDir = "/run/netns"

// LinuxDriver implements Driver against the running kernel via netlink,
// netns and the ip/iptables binaries. All methods require root.
type LinuxDriver struct{}

var _ Driver = (*LinuxDriver)(nil)

func NewLinuxDriver() *LinuxDriver {
	return &LinuxDriver{}
}

// EnsureBridge creates the bridge if it doesn't exist and configures its
// address. This is idempotent - safe to call multiple times.
func (d *LinuxDriver) EnsureBridge(name, addrWithPrefix string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		la := netlink.NewLinkAttrs()
		la.Name = name
		bridge := &netlink.Bridge{LinkAttrs: la}
		if err := netlink.LinkAdd(bridge); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBridgeCreateFailed, name, err)
		}
		link = bridge
	} else if _, ok := link.(*netlink.Bridge); !ok {
		return fmt.Errorf("%w: device %s exists but is not a bridge", ErrBridgeCreateFailed, name)
	}

	addr, err := netlink.ParseAddr(addrWithPrefix)
	if err != nil {
		return fmt.Errorf("failed to parse bridge address %q: %w", addrWithPrefix, err)
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("failed to assign %s to bridge %s: %w", addrWithPrefix, name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring bridge %s up: %w", name, err)
	}
	return nil
}

func (d *LinuxDriver) DeleteBridge(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		// Already gone, nothing to do.
		return nil
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete bridge %s: %w", name, err)
	}
	return nil
}

func (d *LinuxDriver) BridgeExists(name string) bool {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return false
	}
	_, ok := link.(*netlink.Bridge)
	return ok
}

func (d *LinuxDriver) LinkExists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}

func (d *LinuxDriver) CreateVethPair(name, peer string) error {
	if d.LinkExists(name) || d.LinkExists(peer) {
		return fmt.Errorf("%w: %s/%s", ErrLinkNameExists, name, peer)
	}
	la := netlink.NewLinkAttrs()
	la.Name = name
	veth := &netlink.Veth{LinkAttrs: la, PeerName: peer}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrLinkCreateFailed, name, peer, err)
	}
	return nil
}

func (d *LinuxDriver) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete link %s: %w", name, err)
	}
	return nil
}

func (d *LinuxDriver) SetLinkUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, name)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", name, err)
	}
	return nil
}

func (d *LinuxDriver) AttachToBridge(linkName, bridgeName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkName)
	}
	bridge, err := netlink.LinkByName(bridgeName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBridgeNotFound, bridgeName)
	}
	if err := netlink.LinkSetMaster(link, bridge); err != nil {
		return fmt.Errorf("failed to attach %s to bridge %s: %w", linkName, bridgeName, err)
	}
	return nil
}

func (d *LinuxDriver) CreateNamespace(name string) error {
	if d.NamespaceExists(name) {
		return fmt.Errorf("%w: namespace %s already exists", ErrNamespaceCreateFailed, name)
	}
	// NewNamed switches the calling thread into the new namespace, so pin the
	// thread and switch back before returning.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return fmt.Errorf("%w: %s: cannot capture current namespace: %v", ErrNamespaceCreateFailed, name, err)
	}
	defer origin.Close()

	ns, err := netns.NewNamed(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNamespaceCreateFailed, name, err)
	}
	ns.Close()

	if err := netns.Set(origin); err != nil {
		return fmt.Errorf("failed to return to original namespace: %w", err)
	}
	return nil
}

func (d *LinuxDriver) DeleteNamespace(name string) error {
	if !d.NamespaceExists(name) {
		return nil
	}
	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}
	return nil
}

func (d *LinuxDriver) NamespaceExists(name string) bool {
	ns, err := netns.GetFromName(name)
	if err != nil {
		return false
	}
	ns.Close()
	return true
}

func (d *LinuxDriver) ListNamespaces() ([]string, error) {
	entries, err := os.ReadDir(netnsRunDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", netnsRunDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (d *LinuxDriver) MoveLinkToNamespace(linkName, nsName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkName)
	}
	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	defer ns.Close()
	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return fmt.Errorf("failed to move %s into namespace %s: %w", linkName, nsName, err)
	}
	return nil
}

// nsHandle opens a netlink handle scoped to the named namespace.
func nsHandle(nsName string) (*netlink.Handle, netns.NsHandle, error) {
	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, 0, fmt.Errorf("failed to open netlink handle in %s: %w", nsName, err)
	}
	return handle, ns, nil
}

func (d *LinuxDriver) ConfigureNamespaceLink(nsName, linkName, addrWithPrefix string) error {
	handle, ns, err := nsHandle(nsName)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer handle.Close()

	lo, err := handle.LinkByName("lo")
	if err == nil {
		if err := handle.LinkSetUp(lo); err != nil {
			return fmt.Errorf("failed to bring up loopback in %s: %w", nsName, err)
		}
	}

	link, err := handle.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("%w: %s in namespace %s", ErrLinkNotFound, linkName, nsName)
	}
	addr, err := netlink.ParseAddr(addrWithPrefix)
	if err != nil {
		return fmt.Errorf("failed to parse address %q: %w", addrWithPrefix, err)
	}
	if err := handle.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("failed to assign %s to %s in %s: %w", addrWithPrefix, linkName, nsName, err)
	}
	if err := handle.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up in %s: %w", linkName, nsName, err)
	}
	return nil
}

func parseRoute(dst, via string) (*netlink.Route, error) {
	route := &netlink.Route{}
	if dst != DefaultRouteDst {
		_, ipnet, err := net.ParseCIDR(dst)
		if err != nil {
			return nil, fmt.Errorf("bad route destination %q: %w", dst, err)
		}
		route.Dst = ipnet
	}
	if via != "" {
		gw := net.ParseIP(via)
		if gw == nil {
			return nil, fmt.Errorf("bad route gateway %q", via)
		}
		route.Gw = gw
		// Peering routes point at the peer bridge's gateway, which sits
		// outside the namespace's subnet. The bridges share one L2 domain
		// through the peering link, so mark the next hop onlink.
		route.Flags = int(netlink.FLAG_ONLINK)
	}
	return route, nil
}

func (d *LinuxDriver) AddNamespaceRoute(nsName, dst, via string) error {
	handle, ns, err := nsHandle(nsName)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer handle.Close()

	route, err := parseRoute(dst, via)
	if err != nil {
		return err
	}
	if err := handle.RouteReplace(route); err != nil {
		return fmt.Errorf("failed to add route %s via %s in %s: %w", dst, via, nsName, err)
	}
	return nil
}

func (d *LinuxDriver) DeleteNamespaceRoute(nsName, dst, via string) error {
	handle, ns, err := nsHandle(nsName)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer handle.Close()

	route, err := parseRoute(dst, via)
	if err != nil {
		return err
	}
	if err := handle.RouteDel(route); err != nil {
		return fmt.Errorf("failed to delete route %s in %s: %w", dst, nsName, err)
	}
	return nil
}

func (d *LinuxDriver) NamespaceRoutes(nsName string) ([]Route, error) {
	handle, ns, err := nsHandle(nsName)
	if err != nil {
		return nil, err
	}
	defer ns.Close()
	defer handle.Close()

	list, err := handle.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes in %s: %w", nsName, err)
	}
	routes := make([]Route, 0, len(list))
	for _, r := range list {
		entry := Route{Dst: DefaultRouteDst}
		if r.Dst != nil {
			entry.Dst = r.Dst.String()
		}
		if r.Gw != nil {
			entry.Via = r.Gw.String()
		}
		routes = append(routes, entry)
	}
	return routes, nil
}

func (d *LinuxDriver) NamespaceLinkAddr(nsName, linkName string) string {
	handle, ns, err := nsHandle(nsName)
	if err != nil {
		return ""
	}
	defer ns.Close()
	defer handle.Close()

	link, err := handle.LinkByName(linkName)
	if err != nil {
		return ""
	}
	addrs, err := handle.AddrList(link, netlink.FAMILY_V4)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].IPNet.String()
}

func (d *LinuxDriver) RunInNamespace(nsName string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no command given for namespace %s", nsName)
	}
	cmdArgs := append([]string{"netns", "exec", nsName}, args...)
	out, err := exec.Command("ip", cmdArgs...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("command %q in namespace %s failed: %w: %s",
			strings.Join(args, " "), nsName, err, output)
	}
	return output, nil
}

const ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

func (d *LinuxDriver) EnableIPForwarding() error {
	enabled, err := d.IPForwardingEnabled()
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}
	if err := os.WriteFile(ipForwardPath, []byte("1"), 0644); err != nil {
		return fmt.Errorf("%w: failed to write ip_forward: %v", ErrForwardingDisabled, err)
	}
	return nil
}

func (d *LinuxDriver) IPForwardingEnabled() (bool, error) {
	data, err := os.ReadFile(ipForwardPath)
	if err != nil {
		return false, fmt.Errorf("failed to read ip_forward: %w", err)
	}
	return len(data) > 0 && data[0] == '1', nil
}

func (d *LinuxDriver) DefaultEgressInterface() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("failed to list host routes: %w", err)
	}
	for _, r := range routes {
		if r.Dst != nil {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			continue
		}
		name := link.Attrs().Name
		// Skip our own bridges; the egress device is the one behind the
		// host's real default route.
		if strings.HasPrefix(name, "br-") {
			continue
		}
		return name, nil
	}
	return "", ErrNoDefaultRoute
}
