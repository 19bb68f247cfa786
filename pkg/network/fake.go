package network

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeLink is the fake's view of one end of a veth pair or a standalone link.
type FakeLink struct {
	Peer      string
	Master    string
	Namespace string // empty while the link is host-visible
	Up        bool
}

// FakeNamespace holds per-namespace link addresses and routes.
type FakeNamespace struct {
	Links  map[string]string // link name -> address in CIDR form ("" if unset)
	Routes []Route
}

// FakeDriver is an in-memory Driver used by the manager tests. It mimics the
// kernel semantics the managers rely on: veth ends disappear from the host
// view when moved into a namespace, deleting one end deletes both, deletes of
// missing objects succeed.
type FakeDriver struct {
	mu sync.Mutex

	Bridges    map[string]string // bridge name -> assigned address
	Links      map[string]*FakeLink
	Namespaces map[string]*FakeNamespace

	IPForward   bool
	EgressIface string

	// RunFunc, when set, answers RunInNamespace calls. Every call is recorded
	// in Commands as "ns: arg arg ..." regardless.
	RunFunc  func(ns string, args ...string) (string, error)
	Commands []string
}

var _ Driver = (*FakeDriver)(nil)

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Bridges:     map[string]string{},
		Links:       map[string]*FakeLink{},
		Namespaces:  map[string]*FakeNamespace{},
		EgressIface: "eth0",
	}
}

func (d *FakeDriver) EnsureBridge(name, addrWithPrefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Bridges[name] = addrWithPrefix
	return nil
}

func (d *FakeDriver) DeleteBridge(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Bridges, name)
	return nil
}

func (d *FakeDriver) BridgeExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.Bridges[name]
	return ok
}

func (d *FakeDriver) LinkExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.Links[name]
	return ok && link.Namespace == ""
}

func (d *FakeDriver) CreateVethPair(name, peer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Links[name]; ok {
		return fmt.Errorf("%w: %s", ErrLinkNameExists, name)
	}
	if _, ok := d.Links[peer]; ok {
		return fmt.Errorf("%w: %s", ErrLinkNameExists, peer)
	}
	d.Links[name] = &FakeLink{Peer: peer}
	d.Links[peer] = &FakeLink{Peer: name}
	return nil
}

func (d *FakeDriver) DeleteLink(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.Links[name]
	if !ok {
		return nil
	}
	delete(d.Links, name)
	if link.Peer != "" {
		delete(d.Links, link.Peer)
	}
	return nil
}

func (d *FakeDriver) SetLinkUp(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.Links[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, name)
	}
	link.Up = true
	return nil
}

func (d *FakeDriver) AttachToBridge(linkName, bridgeName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.Links[linkName]
	if !ok || link.Namespace != "" {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkName)
	}
	if _, ok := d.Bridges[bridgeName]; !ok {
		return fmt.Errorf("%w: %s", ErrBridgeNotFound, bridgeName)
	}
	link.Master = bridgeName
	return nil
}

func (d *FakeDriver) CreateNamespace(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Namespaces[name]; ok {
		return fmt.Errorf("%w: namespace %s already exists", ErrNamespaceCreateFailed, name)
	}
	d.Namespaces[name] = &FakeNamespace{Links: map[string]string{}}
	return nil
}

func (d *FakeDriver) DeleteNamespace(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[name]
	if !ok {
		return nil
	}
	// Links inside the namespace die with it, like in the kernel.
	for linkName := range ns.Links {
		if link, ok := d.Links[linkName]; ok {
			delete(d.Links, linkName)
			if link.Peer != "" {
				delete(d.Links, link.Peer)
			}
		}
	}
	delete(d.Namespaces, name)
	return nil
}

func (d *FakeDriver) NamespaceExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.Namespaces[name]
	return ok
}

func (d *FakeDriver) ListNamespaces() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.Namespaces))
	for name := range d.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *FakeDriver) MoveLinkToNamespace(linkName, nsName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.Links[linkName]
	if !ok || link.Namespace != "" {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkName)
	}
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	link.Namespace = nsName
	ns.Links[linkName] = ""
	return nil
}

func (d *FakeDriver) ConfigureNamespaceLink(nsName, linkName, addrWithPrefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	if _, ok := ns.Links[linkName]; !ok {
		return fmt.Errorf("%w: %s in namespace %s", ErrLinkNotFound, linkName, nsName)
	}
	ns.Links[linkName] = addrWithPrefix
	return nil
}

func (d *FakeDriver) AddNamespaceRoute(nsName, dst, via string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	for _, r := range ns.Routes {
		if r.Dst == dst && r.Via == via {
			return nil
		}
	}
	ns.Routes = append(ns.Routes, Route{Dst: dst, Via: via})
	return nil
}

func (d *FakeDriver) DeleteNamespaceRoute(nsName, dst, via string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	kept := ns.Routes[:0]
	found := false
	for _, r := range ns.Routes {
		if r.Dst == dst && (via == "" || r.Via == via) {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	ns.Routes = kept
	if !found {
		return fmt.Errorf("route %s not present in %s", dst, nsName)
	}
	return nil
}

func (d *FakeDriver) NamespaceRoutes(nsName string) ([]Route, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, nsName)
	}
	return append([]Route(nil), ns.Routes...), nil
}

func (d *FakeDriver) NamespaceLinkAddr(nsName, linkName string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.Namespaces[nsName]
	if !ok {
		return ""
	}
	return ns.Links[linkName]
}

func (d *FakeDriver) RunInNamespace(nsName string, args ...string) (string, error) {
	d.mu.Lock()
	d.Commands = append(d.Commands, nsName+": "+strings.Join(args, " "))
	fn := d.RunFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(nsName, args...)
	}
	return "", nil
}

func (d *FakeDriver) EnableIPForwarding() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IPForward = true
	return nil
}

func (d *FakeDriver) IPForwardingEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.IPForward, nil
}

func (d *FakeDriver) DefaultEgressInterface() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.EgressIface == "" {
		return "", ErrNoDefaultRoute
	}
	return d.EgressIface, nil
}
