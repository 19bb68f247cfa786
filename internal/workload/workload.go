// Package workload starts throwaway test servers inside subnet namespaces so
// operators can exercise NAT, peering and firewall policy against a real
// listener. This is a convenience surface: it only needs a namespace's
// address from the subnet manager.
package workload

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// SubnetService resolves a namespace's assigned IP.
type SubnetService interface {
	GetNamespaceIP(ns string) string
}

// Manager deploys and describes test workloads.
type Manager struct {
	subnets SubnetService
	driver  network.Driver
	log     *logrus.Logger
}

func NewManager(subnets SubnetService, driver network.Driver, log *logrus.Logger) *Manager {
	return &Manager{subnets: subnets, driver: driver, log: log}
}

// Info describes a deployed (or describable) workload endpoint.
type Info struct {
	Namespace string
	IP        string
	Port      int
	URL       string
}

// Deploy starts a static HTTP listener on the given port inside the subnet's
// namespace. The listener serves /tmp and is backgrounded; it dies with the
// namespace.
func (m *Manager) Deploy(ctx context.Context, vpcName, subnetType string, port int) (Info, error) {
	typ, err := naming.ParseSubnetType(subnetType)
	if err != nil {
		return Info{}, err
	}
	if port < 1 || port > 65535 {
		return Info{}, fmt.Errorf("%w: port %d out of range", errdefs.ErrInvalidArgument, port)
	}

	ns := naming.Namespace(vpcName, typ)
	if !m.driver.NamespaceExists(ns) {
		return Info{}, fmt.Errorf("%w: subnet %s/%s", errdefs.ErrNotFound, vpcName, typ)
	}
	ip := m.subnets.GetNamespaceIP(ns)
	if ip == "" {
		return Info{}, fmt.Errorf("%w: namespace %s has no address", errdefs.ErrInsufficientState, ns)
	}

	cmd := fmt.Sprintf("nohup python3 -m http.server %d --directory /tmp >/tmp/%s-http.log 2>&1 &", port, ns)
	if _, err := m.driver.RunInNamespace(ns, "sh", "-c", cmd); err != nil {
		return Info{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	info := Info{Namespace: ns, IP: ip, Port: port, URL: fmt.Sprintf("http://%s:%d/", ip, port)}
	m.log.WithFields(logrus.Fields{"namespace": ns, "url": info.URL}).Info("workload deployed")
	return info, nil
}

// Describe reports the subnet's endpoint without deploying anything.
func (m *Manager) Describe(ctx context.Context, vpcName, subnetType string, port int) (Info, error) {
	typ, err := naming.ParseSubnetType(subnetType)
	if err != nil {
		return Info{}, err
	}
	ns := naming.Namespace(vpcName, typ)
	if !m.driver.NamespaceExists(ns) {
		return Info{}, fmt.Errorf("%w: subnet %s/%s", errdefs.ErrNotFound, vpcName, typ)
	}
	ip := m.subnets.GetNamespaceIP(ns)
	if ip == "" {
		return Info{}, fmt.Errorf("%w: namespace %s has no address", errdefs.ErrInsufficientState, ns)
	}
	return Info{Namespace: ns, IP: ip, Port: port, URL: fmt.Sprintf("http://%s:%d/", ip, port)}, nil
}
