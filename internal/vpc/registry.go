// Package vpc owns the VPC lifecycle: one bridge per VPC, a gateway address
// derived from the VPC CIDR, and a durable record tying them together.
package vpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// Registry creates, deletes and lists VPCs.
type Registry struct {
	vpcs     store.VPCRepository
	peerings store.PeeringRepository
	driver   network.Driver
	locker   lock.Locker
	log      *logrus.Logger
}

func NewRegistry(vpcs store.VPCRepository, peerings store.PeeringRepository, driver network.Driver, locker lock.Locker, log *logrus.Logger) *Registry {
	return &Registry{vpcs: vpcs, peerings: peerings, driver: driver, locker: locker, log: log}
}

// Summary is one row of ListVPCs: the persisted record plus the live bridge
// state probed at list time.
type Summary struct {
	Name      string
	CIDR      string
	Bridge    string
	Gateway   string
	CreatedAt time.Time
	// BridgeUp reports whether the bridge currently exists in the kernel. A
	// record with BridgeUp=false is stale: the bridge was removed out of band.
	BridgeUp bool
}

// TeardownResult reports the per-target outcome of DeleteVPC. Individual
// namespace or link failures are warnings, not fatal, so a partially broken
// VPC can still be torn down.
type TeardownResult struct {
	Removed  []string
	Warnings []string
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: VPC name must not be empty", errdefs.ErrInvalidArgument)
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			continue
		}
		return fmt.Errorf("%w: VPC name %q may only contain lowercase letters, digits and dashes", errdefs.ErrInvalidArgument, name)
	}
	return nil
}

// CreateVPC creates the bridge for the VPC, assigns the gateway address (the
// CIDR's network address with last octet 1), enables host IP forwarding and
// persists the record.
func (r *Registry) CreateVPC(ctx context.Context, name, cidr string) (store.VPCRecord, error) {
	if err := validateName(name); err != nil {
		return store.VPCRecord{}, err
	}
	gateway, gatewayPrefix, err := naming.Gateway(cidr)
	if err != nil {
		return store.VPCRecord{}, err
	}

	l, err := r.locker.AcquireLock(ctx, name)
	if err != nil {
		return store.VPCRecord{}, err
	}
	defer l.Release()

	if _, err := r.vpcs.Get(ctx, name); err == nil {
		return store.VPCRecord{}, fmt.Errorf("%w: VPC %s", errdefs.ErrAlreadyExists, name)
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return store.VPCRecord{}, err
	}

	bridge := naming.Bridge(name)
	if r.driver.BridgeExists(bridge) {
		// No record but a live bridge under our derived name: either a stale
		// leftover or a truncation collision with another VPC. Refuse rather
		// than adopt it.
		if owner, err := r.bridgeOwner(ctx, bridge); err == nil && owner != "" {
			return store.VPCRecord{}, fmt.Errorf("%w: bridge %s already derived for VPC %s", errdefs.ErrNameCollision, bridge, owner)
		}
		return store.VPCRecord{}, fmt.Errorf("%w: bridge %s", errdefs.ErrAlreadyExists, bridge)
	}

	if err := r.driver.EnsureBridge(bridge, gatewayPrefix); err != nil {
		return store.VPCRecord{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	if err := r.driver.EnableIPForwarding(); err != nil {
		return store.VPCRecord{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	rec := store.VPCRecord{
		Name:      name,
		CIDR:      cidr,
		Bridge:    bridge,
		Gateway:   gateway,
		Status:    store.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.vpcs.Put(ctx, rec); err != nil {
		return store.VPCRecord{}, err
	}

	r.log.WithFields(logrus.Fields{"vpc": name, "cidr": cidr, "bridge": bridge, "gateway": gateway}).
		Info("VPC created")
	return rec, nil
}

func (r *Registry) bridgeOwner(ctx context.Context, bridge string) (string, error) {
	records, err := r.vpcs.List(ctx)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.Bridge == bridge {
			return rec.Name, nil
		}
	}
	return "", nil
}

// DeleteVPC tears down the VPC's namespaces, peerings and bridge, then
// removes the record. Per-target failures become warnings so one stuck
// namespace cannot block the rest; calling it again on the same name fails
// with NotFound without touching kernel state.
func (r *Registry) DeleteVPC(ctx context.Context, name string) (TeardownResult, error) {
	l, err := r.locker.AcquireLock(ctx, name)
	if err != nil {
		return TeardownResult{}, err
	}
	defer l.Release()

	rec, err := r.vpcs.Get(ctx, name)
	if err != nil {
		return TeardownResult{}, err
	}

	var result TeardownResult
	for _, typ := range []naming.SubnetType{naming.SubnetPublic, naming.SubnetPrivate} {
		ns := naming.Namespace(name, typ)
		if !r.driver.NamespaceExists(ns) {
			continue
		}
		if err := r.driver.DeleteNamespace(ns); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("namespace %s: %v", ns, err))
			r.log.WithField("namespace", ns).Warnf("failed to delete namespace: %v", err)
			continue
		}
		// The host-side link dies with its in-namespace peer, but clean up
		// explicitly in case the pair was left half-built.
		hostLink, _ := naming.SubnetLinks(name, typ)
		if err := r.driver.DeleteLink(hostLink); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("link %s: %v", hostLink, err))
		}
		result.Removed = append(result.Removed, "namespace "+ns)
	}

	peerings, err := r.peerings.ListForVPC(ctx, name)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("list peerings: %v", err))
	}
	for _, p := range peerings {
		for _, link := range []string{p.LinkA, p.LinkB} {
			if err := r.driver.DeleteLink(link); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("peering link %s: %v", link, err))
			}
		}
		// The peer keeps its namespaces, so the routes injected toward this
		// VPC's CIDR go with the peering; left in place they would blackhole
		// traffic to a gateway that no longer exists.
		peer := p.VPCA
		if peer == name {
			peer = p.VPCB
		}
		for _, typ := range []naming.SubnetType{naming.SubnetPublic, naming.SubnetPrivate} {
			ns := naming.Namespace(peer, typ)
			if !r.driver.NamespaceExists(ns) {
				continue
			}
			if err := r.driver.DeleteNamespaceRoute(ns, rec.CIDR, ""); err != nil {
				r.log.WithField("namespace", ns).Debugf("route to %s already absent: %v", rec.CIDR, err)
				continue
			}
			result.Removed = append(result.Removed, fmt.Sprintf("route to %s in %s", rec.CIDR, ns))
		}
		if err := r.peerings.Delete(ctx, p.VPCA, p.VPCB); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("peering record %s<->%s: %v", p.VPCA, p.VPCB, err))
		} else {
			result.Removed = append(result.Removed, fmt.Sprintf("peering %s<->%s", p.VPCA, p.VPCB))
		}
	}

	if err := r.driver.DeleteBridge(rec.Bridge); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("bridge %s: %v", rec.Bridge, err))
		r.log.WithField("bridge", rec.Bridge).Warnf("failed to delete bridge: %v", err)
	} else {
		result.Removed = append(result.Removed, "bridge "+rec.Bridge)
	}

	if err := r.vpcs.Delete(ctx, name); err != nil {
		return result, err
	}

	r.log.WithFields(logrus.Fields{"vpc": name, "warnings": len(result.Warnings)}).Info("VPC deleted")
	return result, nil
}

// ListVPCs returns all persisted VPCs with their live bridge state. Order
// follows record-store iteration order.
func (r *Registry) ListVPCs(ctx context.Context) ([]Summary, error) {
	records, err := r.vpcs.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, Summary{
			Name:      rec.Name,
			CIDR:      rec.CIDR,
			Bridge:    rec.Bridge,
			Gateway:   rec.Gateway,
			CreatedAt: rec.CreatedAt,
			BridgeUp:  r.driver.BridgeExists(rec.Bridge),
		})
	}
	return summaries, nil
}

// GetCIDR returns the VPC's CIDR block.
func (r *Registry) GetCIDR(ctx context.Context, name string) (string, error) {
	rec, err := r.vpcs.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return rec.CIDR, nil
}
