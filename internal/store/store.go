// Package store defines the durable record stores for VPCs and peerings.
// The sqlite implementations are used in production; the in-memory ones back
// the manager tests. Records are the configuration view of the topology;
// live kernel state is reconciled against them by the managers, never here.
package store

import (
	"context"
	"time"
)

// VPC status values.
const (
	StatusActive = "active"
)

// VPCRecord is the persisted configuration of one VPC.
type VPCRecord struct {
	Name      string
	CIDR      string
	Bridge    string
	Gateway   string
	Status    string
	CreatedAt time.Time
}

// PeeringRecord is the persisted configuration of one peering. The VPC pair
// is stored in canonical order: VPCA < VPCB.
type PeeringRecord struct {
	ID        string
	VPCA      string
	VPCB      string
	LinkA     string
	LinkB     string
	CreatedAt time.Time
}

// VPCRepository persists VPC records, keyed by name.
type VPCRepository interface {
	Put(ctx context.Context, rec VPCRecord) error
	// Get returns errdefs.ErrNotFound for unknown names.
	Get(ctx context.Context, name string) (VPCRecord, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]VPCRecord, error)
}

// PeeringRepository persists peering records, keyed by the canonical VPC
// pair. Callers may pass the pair in either order.
type PeeringRepository interface {
	Put(ctx context.Context, rec PeeringRecord) error
	// Get returns errdefs.ErrNotFound for unknown pairs.
	Get(ctx context.Context, vpcA, vpcB string) (PeeringRecord, error)
	Delete(ctx context.Context, vpcA, vpcB string) error
	List(ctx context.Context) ([]PeeringRecord, error)
	// ListForVPC returns every peering referencing the given VPC.
	ListForVPC(ctx context.Context, vpc string) ([]PeeringRecord, error)
}
