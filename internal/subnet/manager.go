// Package subnet owns subnet lifecycle inside a VPC: one namespace per
// (VPC, type) pair, wired to the VPC bridge through a veth pair.
package subnet

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// Manager creates, deletes and enumerates subnets.
type Manager struct {
	vpcs   store.VPCRepository
	driver network.Driver
	locker lock.Locker
	log    *logrus.Logger
}

func NewManager(vpcs store.VPCRepository, driver network.Driver, locker lock.Locker, log *logrus.Logger) *Manager {
	return &Manager{vpcs: vpcs, driver: driver, locker: locker, log: log}
}

// Info describes one live subnet namespace.
type Info struct {
	Namespace string
	VPC       string
	Type      naming.SubnetType
	// Address is the namespace-side link address in CIDR form, empty when
	// unassigned or unreachable.
	Address string
	Gateway string
	Routes  []network.Route
}

// AddSubnet realizes a subnet: namespace, veth pair, bridge attachment,
// address assignment and default route. Creation is forward-only: on failure
// the error is returned with the completed steps left in place, and the
// caller issues DeleteSubnet to reach a clean state.
func (m *Manager) AddSubnet(ctx context.Context, vpcName, subnetType, cidr string) (Info, error) {
	typ, err := naming.ParseSubnetType(subnetType)
	if err != nil {
		return Info{}, err
	}
	gateway, gatewayPrefix, err := naming.Gateway(cidr)
	if err != nil {
		return Info{}, err
	}
	_, addrPrefix, err := naming.NamespaceAddr(cidr)
	if err != nil {
		return Info{}, err
	}

	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return Info{}, err
	}
	defer l.Release()

	rec, err := m.vpcs.Get(ctx, vpcName)
	if err != nil {
		return Info{}, err
	}
	if !m.driver.BridgeExists(rec.Bridge) {
		return Info{}, fmt.Errorf("%w: bridge %s of VPC %s is gone, recreate the VPC", errdefs.ErrResourceStale, rec.Bridge, vpcName)
	}

	ns := naming.Namespace(vpcName, typ)
	if m.driver.NamespaceExists(ns) {
		return Info{}, fmt.Errorf("%w: subnet %s/%s (namespace %s)", errdefs.ErrAlreadyExists, vpcName, typ, ns)
	}

	hostLink, nsLink := naming.SubnetLinks(vpcName, typ)
	if m.driver.LinkExists(hostLink) || m.driver.LinkExists(nsLink) {
		// The namespace is absent but a link under our derived name exists,
		// so the truncated name belongs to someone else.
		return Info{}, fmt.Errorf("%w: link %s/%s already in use", errdefs.ErrNameCollision, hostLink, nsLink)
	}

	if err := m.driver.CreateNamespace(ns); err != nil {
		return Info{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	if err := m.driver.CreateVethPair(hostLink, nsLink); err != nil {
		return Info{}, fmt.Errorf("%w: namespace %s created but link pair failed: %v", errdefs.ErrExternalSystem, ns, err)
	}
	if err := m.driver.MoveLinkToNamespace(nsLink, ns); err != nil {
		return Info{}, fmt.Errorf("%w: link pair created but move into %s failed: %v", errdefs.ErrExternalSystem, ns, err)
	}
	if err := m.driver.AttachToBridge(hostLink, rec.Bridge); err != nil {
		return Info{}, fmt.Errorf("%w: link attach to bridge %s failed: %v", errdefs.ErrExternalSystem, rec.Bridge, err)
	}
	if err := m.driver.SetLinkUp(hostLink); err != nil {
		return Info{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	// The subnet gateway (.1 of the subnet CIDR) lives on the VPC bridge
	// alongside the VPC gateway, so in-namespace traffic has a next hop.
	if err := m.driver.EnsureBridge(rec.Bridge, gatewayPrefix); err != nil {
		return Info{}, fmt.Errorf("%w: assigning subnet gateway to bridge: %v", errdefs.ErrExternalSystem, err)
	}
	if err := m.driver.ConfigureNamespaceLink(ns, nsLink, addrPrefix); err != nil {
		return Info{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	if err := m.driver.AddNamespaceRoute(ns, network.DefaultRouteDst, gateway); err != nil {
		return Info{}, fmt.Errorf("%w: default route via %s failed: %v", errdefs.ErrExternalSystem, gateway, err)
	}
	if typ == naming.SubnetPublic {
		if _, err := m.driver.RunInNamespace(ns, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
			return Info{}, fmt.Errorf("%w: enabling forwarding in %s: %v", errdefs.ErrExternalSystem, ns, err)
		}
	}

	m.log.WithFields(logrus.Fields{"vpc": vpcName, "type": typ, "namespace": ns, "address": addrPrefix, "gateway": gateway}).
		Info("subnet created")

	return Info{Namespace: ns, VPC: vpcName, Type: typ, Address: addrPrefix, Gateway: gateway}, nil
}

// DeleteSubnet removes a subnet's namespace and host-side link. Missing
// kernel objects are tolerated; a subnet that never existed is NotFound.
func (m *Manager) DeleteSubnet(ctx context.Context, vpcName, subnetType string) error {
	typ, err := naming.ParseSubnetType(subnetType)
	if err != nil {
		return err
	}

	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return err
	}
	defer l.Release()

	ns := naming.Namespace(vpcName, typ)
	hostLink, _ := naming.SubnetLinks(vpcName, typ)
	if !m.driver.NamespaceExists(ns) && !m.driver.LinkExists(hostLink) {
		return fmt.Errorf("%w: subnet %s/%s", errdefs.ErrNotFound, vpcName, typ)
	}

	if err := m.driver.DeleteNamespace(ns); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	if err := m.driver.DeleteLink(hostLink); err != nil {
		m.log.WithField("link", hostLink).Warnf("failed to delete host-side link: %v", err)
	}

	m.log.WithFields(logrus.Fields{"vpc": vpcName, "type": typ, "namespace": ns}).Info("subnet deleted")
	return nil
}

// ListSubnets enumerates every namespace following this system's naming
// convention, with its live address and routing table.
func (m *Manager) ListSubnets(ctx context.Context) ([]Info, error) {
	namespaces, err := m.driver.ListNamespaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	var infos []Info
	for _, ns := range namespaces {
		vpcName, typ, ok := naming.ParseNamespace(ns)
		if !ok {
			continue
		}
		info := Info{Namespace: ns, VPC: vpcName, Type: typ}
		_, nsLink := naming.SubnetLinks(vpcName, typ)
		info.Address = m.driver.NamespaceLinkAddr(ns, nsLink)
		if routes, err := m.driver.NamespaceRoutes(ns); err == nil {
			info.Routes = routes
			for _, r := range routes {
				if r.Dst == network.DefaultRouteDst {
					info.Gateway = r.Via
				}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetVPCNamespaces returns the namespaces of every live subnet belonging to
// the VPC, in public-before-private order when both exist.
func (m *Manager) GetVPCNamespaces(ctx context.Context, vpcName string) ([]string, error) {
	var namespaces []string
	for _, typ := range []naming.SubnetType{naming.SubnetPublic, naming.SubnetPrivate} {
		ns := naming.Namespace(vpcName, typ)
		if m.driver.NamespaceExists(ns) {
			namespaces = append(namespaces, ns)
		}
	}
	return namespaces, nil
}

// GetNamespaceAddress returns the namespace-side link address in CIDR form,
// or "" when the namespace does not follow the naming convention, is gone,
// or has no address.
func (m *Manager) GetNamespaceAddress(ns string) string {
	vpcName, typ, ok := naming.ParseNamespace(ns)
	if !ok {
		return ""
	}
	_, nsLink := naming.SubnetLinks(vpcName, typ)
	return m.driver.NamespaceLinkAddr(ns, nsLink)
}

// GetNamespaceIP returns the bare IP of GetNamespaceAddress, or "".
func (m *Manager) GetNamespaceIP(ns string) string {
	addr := m.GetNamespaceAddress(ns)
	if addr == "" {
		return ""
	}
	if ip, _, err := net.ParseCIDR(addr); err == nil {
		return ip.String()
	}
	return strings.SplitN(addr, "/", 2)[0]
}
