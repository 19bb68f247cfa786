package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/pkg/naming"
)

// MemoryVPCs is an in-memory VPCRepository for tests.
type MemoryVPCs struct {
	mu      sync.Mutex
	records map[string]VPCRecord
}

var _ VPCRepository = (*MemoryVPCs)(nil)

func NewMemoryVPCs() *MemoryVPCs {
	return &MemoryVPCs{records: map[string]VPCRecord{}}
}

func (m *MemoryVPCs) Put(ctx context.Context, rec VPCRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = rec
	return nil
}

func (m *MemoryVPCs) Get(ctx context.Context, name string) (VPCRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return VPCRecord{}, fmt.Errorf("%w: VPC %s", errdefs.ErrNotFound, name)
	}
	return rec, nil
}

func (m *MemoryVPCs) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	return nil
}

func (m *MemoryVPCs) List(ctx context.Context) ([]VPCRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]VPCRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	return records, nil
}

// MemoryPeerings is an in-memory PeeringRepository for tests.
type MemoryPeerings struct {
	mu      sync.Mutex
	records map[string]PeeringRecord // key: "a|b" in canonical order
}

var _ PeeringRepository = (*MemoryPeerings)(nil)

func NewMemoryPeerings() *MemoryPeerings {
	return &MemoryPeerings{records: map[string]PeeringRecord{}}
}

func pairKey(a, b string) string {
	a, b = naming.NormalizePair(a, b)
	return a + "|" + b
}

func (m *MemoryPeerings) Put(ctx context.Context, rec PeeringRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.VPCA, rec.VPCB = naming.NormalizePair(rec.VPCA, rec.VPCB)
	m.records[pairKey(rec.VPCA, rec.VPCB)] = rec
	return nil
}

func (m *MemoryPeerings) Get(ctx context.Context, vpcA, vpcB string) (PeeringRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pairKey(vpcA, vpcB)]
	if !ok {
		a, b := naming.NormalizePair(vpcA, vpcB)
		return PeeringRecord{}, fmt.Errorf("%w: peering %s<->%s", errdefs.ErrNotFound, a, b)
	}
	return rec, nil
}

func (m *MemoryPeerings) Delete(ctx context.Context, vpcA, vpcB string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, pairKey(vpcA, vpcB))
	return nil
}

func (m *MemoryPeerings) List(ctx context.Context) ([]PeeringRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]PeeringRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	return records, nil
}

func (m *MemoryPeerings) ListForVPC(ctx context.Context, vpc string) ([]PeeringRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []PeeringRecord
	for _, rec := range m.records {
		if rec.VPCA == vpc || rec.VPCB == vpc {
			records = append(records, rec)
		}
	}
	return records, nil
}
