// Package peering owns cross-VPC links: a veth pair bridging two VPCs plus
// routes injected into every subnet namespace on both sides. The persisted
// record and the live links are independent sources of truth, so every
// listing recomputes status from the kernel.
package peering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
	"github.com/Holladworld/vpc-project/pkg/probe"
)

// Peering status values, recomputed from live link state on every read.
const (
	StatusActive = "active"
	StatusBroken = "broken"
)

// SubnetService is the slice of the subnet manager the peering manager needs.
type SubnetService interface {
	GetVPCNamespaces(ctx context.Context, vpc string) ([]string, error)
	GetNamespaceIP(ns string) string
}

// Manager creates, deletes, lists and tests peerings.
type Manager struct {
	peerings store.PeeringRepository
	vpcs     store.VPCRepository
	subnets  SubnetService
	driver   network.Driver
	prober   probe.Prober
	locker   lock.Locker
	log      *logrus.Logger
}

func NewManager(peerings store.PeeringRepository, vpcs store.VPCRepository, subnets SubnetService,
	driver network.Driver, prober probe.Prober, locker lock.Locker, log *logrus.Logger) *Manager {
	return &Manager{
		peerings: peerings,
		vpcs:     vpcs,
		subnets:  subnets,
		driver:   driver,
		prober:   prober,
		locker:   locker,
		log:      log,
	}
}

// Result reports the per-target outcome of a peering mutation. Route
// injection failures for individual namespaces are warnings; the operation
// still counts as applied when the link pair is in place.
type Result struct {
	LinkA          string
	LinkB          string
	RoutesAdded    []string
	RoutesRemoved  []string
	Warnings       []string
	AlreadyExisted bool
}

func (m *Manager) lockPair(ctx context.Context, vpcA, vpcB string) (func(), error) {
	a, b := naming.NormalizePair(vpcA, vpcB)
	la, err := m.locker.AcquireLock(ctx, a)
	if err != nil {
		return nil, err
	}
	lb, err := m.locker.AcquireLock(ctx, b)
	if err != nil {
		la.Release()
		return nil, err
	}
	return func() {
		lb.Release()
		la.Release()
	}, nil
}

// CreatePeering links two VPCs' bridges and injects cross-CIDR routes into
// every subnet namespace on both sides. Creating an existing peering is a
// no-op success.
func (m *Manager) CreatePeering(ctx context.Context, vpcA, vpcB string) (Result, error) {
	if vpcA == vpcB {
		return Result{}, fmt.Errorf("%w: cannot peer VPC %s with itself", errdefs.ErrInvalidArgument, vpcA)
	}

	unlock, err := m.lockPair(ctx, vpcA, vpcB)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	a, b := naming.NormalizePair(vpcA, vpcB)
	recA, err := m.vpcs.Get(ctx, a)
	if err != nil {
		return Result{}, err
	}
	recB, err := m.vpcs.Get(ctx, b)
	if err != nil {
		return Result{}, err
	}

	if existing, err := m.peerings.Get(ctx, a, b); err == nil {
		m.log.WithFields(logrus.Fields{"vpcA": a, "vpcB": b}).Info("peering already exists, nothing to do")
		return Result{LinkA: existing.LinkA, LinkB: existing.LinkB, AlreadyExisted: true}, nil
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return Result{}, err
	}

	linkA, linkB := naming.PeeringLinks(a, b)
	if m.driver.LinkExists(linkA) || m.driver.LinkExists(linkB) {
		// No record but a live link under our derived name: the truncated
		// name belongs to someone else.
		return Result{}, fmt.Errorf("%w: link %s/%s already in use", errdefs.ErrNameCollision, linkA, linkB)
	}
	if err := m.driver.CreateVethPair(linkA, linkB); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	// Attach failure rolls the pair back; nothing else has happened yet, so
	// this keeps creation atomic up to the first route injection.
	if err := m.driver.AttachToBridge(linkA, recA.Bridge); err != nil {
		_ = m.driver.DeleteLink(linkA)
		return Result{}, fmt.Errorf("%w: attach %s to %s: %v", errdefs.ErrExternalSystem, linkA, recA.Bridge, err)
	}
	if err := m.driver.AttachToBridge(linkB, recB.Bridge); err != nil {
		_ = m.driver.DeleteLink(linkA)
		return Result{}, fmt.Errorf("%w: attach %s to %s: %v", errdefs.ErrExternalSystem, linkB, recB.Bridge, err)
	}
	for _, link := range []string{linkA, linkB} {
		if err := m.driver.SetLinkUp(link); err != nil {
			return Result{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
		}
	}

	if recA.CIDR == "" || recB.CIDR == "" {
		return Result{}, fmt.Errorf("%w: missing CIDR for %s or %s", errdefs.ErrInsufficientState, a, b)
	}
	gwA, _, err := naming.Gateway(recA.CIDR)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errdefs.ErrInsufficientState, err)
	}
	gwB, _, err := naming.Gateway(recB.CIDR)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errdefs.ErrInsufficientState, err)
	}

	result := Result{LinkA: linkA, LinkB: linkB}
	m.injectRoutes(ctx, a, recB.CIDR, gwB, &result)
	m.injectRoutes(ctx, b, recA.CIDR, gwA, &result)

	rec := store.PeeringRecord{
		ID:        uuid.NewString(),
		VPCA:      a,
		VPCB:      b,
		LinkA:     linkA,
		LinkB:     linkB,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.peerings.Put(ctx, rec); err != nil {
		return result, err
	}

	m.log.WithFields(logrus.Fields{
		"vpcA": a, "vpcB": b, "linkA": linkA, "linkB": linkB,
		"routes": len(result.RoutesAdded), "warnings": len(result.Warnings),
	}).Info("peering created")
	return result, nil
}

// injectRoutes adds a route to peerCIDR via peerGW in every namespace of vpc,
// collecting failures as warnings.
func (m *Manager) injectRoutes(ctx context.Context, vpc, peerCIDR, peerGW string, result *Result) {
	namespaces, err := m.subnets.GetVPCNamespaces(ctx, vpc)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("list namespaces of %s: %v", vpc, err))
		return
	}
	for _, ns := range namespaces {
		if err := m.driver.AddNamespaceRoute(ns, peerCIDR, peerGW); err != nil {
			warning := fmt.Sprintf("route %s via %s in %s: %v", peerCIDR, peerGW, ns, err)
			result.Warnings = append(result.Warnings, warning)
			m.log.Warn(warning)
			continue
		}
		result.RoutesAdded = append(result.RoutesAdded, fmt.Sprintf("%s: %s via %s", ns, peerCIDR, peerGW))
	}
}

// DeletePeering removes both link ends, the injected routes and the record.
// Links or routes already gone are tolerated.
func (m *Manager) DeletePeering(ctx context.Context, vpcA, vpcB string) (Result, error) {
	unlock, err := m.lockPair(ctx, vpcA, vpcB)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	a, b := naming.NormalizePair(vpcA, vpcB)
	rec, err := m.peerings.Get(ctx, a, b)
	if err != nil {
		return Result{}, err
	}

	result := Result{LinkA: rec.LinkA, LinkB: rec.LinkB}
	for _, link := range []string{rec.LinkA, rec.LinkB} {
		if err := m.driver.DeleteLink(link); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("link %s: %v", link, err))
		}
	}

	m.removeRoutes(ctx, a, b, &result)
	m.removeRoutes(ctx, b, a, &result)

	if err := m.peerings.Delete(ctx, a, b); err != nil {
		return result, err
	}

	m.log.WithFields(logrus.Fields{"vpcA": a, "vpcB": b, "warnings": len(result.Warnings)}).
		Info("peering deleted")
	return result, nil
}

// removeRoutes deletes the injected route to peer's CIDR from every namespace
// of vpc. Missing routes or namespaces are not failures.
func (m *Manager) removeRoutes(ctx context.Context, vpc, peer string, result *Result) {
	peerRec, err := m.vpcs.Get(ctx, peer)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("lookup %s: %v", peer, err))
		return
	}
	namespaces, err := m.subnets.GetVPCNamespaces(ctx, vpc)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("list namespaces of %s: %v", vpc, err))
		return
	}
	for _, ns := range namespaces {
		if err := m.driver.DeleteNamespaceRoute(ns, peerRec.CIDR, ""); err != nil {
			m.log.WithField("namespace", ns).Debugf("route to %s already absent: %v", peerRec.CIDR, err)
			continue
		}
		result.RoutesRemoved = append(result.RoutesRemoved, fmt.Sprintf("%s: %s", ns, peerRec.CIDR))
	}
}

// StatusEntry is one row of ListPeerings.
type StatusEntry struct {
	Record store.PeeringRecord
	// Status is active when both link ends are observable in the kernel,
	// broken otherwise.
	Status string
}

// ListPeerings reconciles every persisted record against live link state.
func (m *Manager) ListPeerings(ctx context.Context) ([]StatusEntry, error) {
	records, err := m.peerings.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]StatusEntry, 0, len(records))
	for _, rec := range records {
		status := StatusBroken
		if m.driver.LinkExists(rec.LinkA) && m.driver.LinkExists(rec.LinkB) {
			status = StatusActive
		}
		entries = append(entries, StatusEntry{Record: rec, Status: status})
	}
	return entries, nil
}

// IsolationReport is the outcome of CheckIsolation: a live probe between one
// subnet of each VPC, interpreted against the presence of a peering record.
type IsolationReport struct {
	FromNamespace string
	ToNamespace   string
	TargetIP      string
	Reachable     bool
	PeeringExists bool
	// Healthy is true when the probe outcome matches the record: reachable
	// with a peering, isolated without one.
	Healthy bool
}

// CheckIsolation probes from a subnet of vpcA to a subnet of vpcB and reports
// whether the observed reachability matches the configured peering state.
func (m *Manager) CheckIsolation(ctx context.Context, vpcA, vpcB string) (IsolationReport, error) {
	if _, err := m.vpcs.Get(ctx, vpcA); err != nil {
		return IsolationReport{}, err
	}
	if _, err := m.vpcs.Get(ctx, vpcB); err != nil {
		return IsolationReport{}, err
	}

	nsA, err := m.firstNamespace(ctx, vpcA)
	if err != nil {
		return IsolationReport{}, err
	}
	nsB, err := m.firstNamespace(ctx, vpcB)
	if err != nil {
		return IsolationReport{}, err
	}

	// Both ends need an address: an unaddressed source would surface as an
	// ordinary probe failure and fake a healthy isolation verdict.
	if sourceIP := m.subnets.GetNamespaceIP(nsA); sourceIP == "" {
		return IsolationReport{}, fmt.Errorf("%w: namespace %s has no address", errdefs.ErrInsufficientState, nsA)
	}
	targetIP := m.subnets.GetNamespaceIP(nsB)
	if targetIP == "" {
		return IsolationReport{}, fmt.Errorf("%w: namespace %s has no address", errdefs.ErrInsufficientState, nsB)
	}

	report := IsolationReport{FromNamespace: nsA, ToNamespace: nsB, TargetIP: targetIP}
	report.Reachable = m.prober.Ping(ctx, nsA, targetIP) == nil
	if _, err := m.peerings.Get(ctx, vpcA, vpcB); err == nil {
		report.PeeringExists = true
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return report, err
	}
	report.Healthy = report.Reachable == report.PeeringExists
	return report, nil
}

func (m *Manager) firstNamespace(ctx context.Context, vpc string) (string, error) {
	namespaces, err := m.subnets.GetVPCNamespaces(ctx, vpc)
	if err != nil {
		return "", err
	}
	if len(namespaces) == 0 {
		return "", fmt.Errorf("%w: VPC %s has no subnets", errdefs.ErrInsufficientState, vpc)
	}
	return namespaces[0], nil
}
