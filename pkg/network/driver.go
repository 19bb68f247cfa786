// Package network wraps the kernel's bridging, namespace, link and routing
// control surface behind the Driver interface. The topology managers never
// talk netlink directly; they drive this interface, which keeps them testable
// against the in-memory fake without touching real kernel objects.
package network

// Route is one entry of a namespace routing table.
type Route struct {
	// Dst is the destination CIDR, or "default" for the default route.
	Dst string
	// Via is the gateway address, empty for directly connected routes.
	Via string
}

// DefaultRouteDst marks the default route in Route.Dst.
const DefaultRouteDst = "default"

// Driver is the control surface over the kernel networking subsystem.
//
// Creation calls fail if the object exists unless documented otherwise;
// deletion calls treat an already-gone object as success, so teardown paths
// stay idempotent when objects were removed out of band.
type Driver interface {
	// Bridges and links.
	EnsureBridge(name, addrWithPrefix string) error
	DeleteBridge(name string) error
	BridgeExists(name string) bool
	LinkExists(name string) bool
	CreateVethPair(name, peer string) error
	DeleteLink(name string) error
	SetLinkUp(name string) error
	AttachToBridge(link, bridge string) error

	// Namespaces.
	CreateNamespace(name string) error
	DeleteNamespace(name string) error
	NamespaceExists(name string) bool
	ListNamespaces() ([]string, error)
	MoveLinkToNamespace(link, ns string) error

	// Operations inside a namespace.

	// ConfigureNamespaceLink brings up the loopback and the named link inside
	// ns and assigns addrWithPrefix to the link.
	ConfigureNamespaceLink(ns, link, addrWithPrefix string) error
	AddNamespaceRoute(ns, dst, via string) error
	DeleteNamespaceRoute(ns, dst, via string) error
	NamespaceRoutes(ns string) ([]Route, error)
	// NamespaceLinkAddr returns the link's IPv4 address in CIDR form, or ""
	// when the link or namespace is unreachable or has no address.
	NamespaceLinkAddr(ns, link string) string
	// RunInNamespace executes a command inside ns and returns its combined
	// output. Used for sysctl, iptables and probe commands that have no
	// netlink equivalent.
	RunInNamespace(ns string, args ...string) (string, error)

	// Host-wide state.
	EnableIPForwarding() error
	IPForwardingEnabled() (bool, error)
	// DefaultEgressInterface returns the device carrying the host's default
	// route, or ErrNoDefaultRoute.
	DefaultEgressInterface() (string, error)
}
