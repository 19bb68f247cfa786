package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/pkg/naming"
)

// SQLiteVPCs implements VPCRepository on the shared sqlite database.
type SQLiteVPCs struct {
	db *sql.DB
}

var _ VPCRepository = (*SQLiteVPCs)(nil)

func NewSQLiteVPCs(db *sql.DB) *SQLiteVPCs {
	return &SQLiteVPCs{db: db}
}

func (s *SQLiteVPCs) Put(ctx context.Context, rec VPCRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vpcs (name, cidr, bridge, gateway, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.CIDR, rec.Bridge, rec.Gateway, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store VPC %s: %w", rec.Name, err)
	}
	return nil
}

func (s *SQLiteVPCs) Get(ctx context.Context, name string) (VPCRecord, error) {
	var rec VPCRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT name, cidr, bridge, gateway, status, created_at FROM vpcs WHERE name = ?`,
		name).Scan(&rec.Name, &rec.CIDR, &rec.Bridge, &rec.Gateway, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VPCRecord{}, fmt.Errorf("%w: VPC %s", errdefs.ErrNotFound, name)
	}
	if err != nil {
		return VPCRecord{}, fmt.Errorf("failed to load VPC %s: %w", name, err)
	}
	return rec, nil
}

func (s *SQLiteVPCs) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vpcs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete VPC %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteVPCs) List(ctx context.Context) ([]VPCRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, cidr, bridge, gateway, status, created_at FROM vpcs`)
	if err != nil {
		return nil, fmt.Errorf("failed to list VPCs: %w", err)
	}
	defer rows.Close()

	var records []VPCRecord
	for rows.Next() {
		var rec VPCRecord
		if err := rows.Scan(&rec.Name, &rec.CIDR, &rec.Bridge, &rec.Gateway, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan VPC row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SQLitePeerings implements PeeringRepository on the shared sqlite database.
type SQLitePeerings struct {
	db *sql.DB
}

var _ PeeringRepository = (*SQLitePeerings)(nil)

func NewSQLitePeerings(db *sql.DB) *SQLitePeerings {
	return &SQLitePeerings{db: db}
}

func (s *SQLitePeerings) Put(ctx context.Context, rec PeeringRecord) error {
	rec.VPCA, rec.VPCB = naming.NormalizePair(rec.VPCA, rec.VPCB)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO peerings (id, vpc_a, vpc_b, link_a, link_b, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.VPCA, rec.VPCB, rec.LinkA, rec.LinkB, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store peering %s<->%s: %w", rec.VPCA, rec.VPCB, err)
	}
	return nil
}

func (s *SQLitePeerings) Get(ctx context.Context, vpcA, vpcB string) (PeeringRecord, error) {
	a, b := naming.NormalizePair(vpcA, vpcB)
	var rec PeeringRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vpc_a, vpc_b, link_a, link_b, created_at FROM peerings WHERE vpc_a = ? AND vpc_b = ?`,
		a, b).Scan(&rec.ID, &rec.VPCA, &rec.VPCB, &rec.LinkA, &rec.LinkB, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PeeringRecord{}, fmt.Errorf("%w: peering %s<->%s", errdefs.ErrNotFound, a, b)
	}
	if err != nil {
		return PeeringRecord{}, fmt.Errorf("failed to load peering %s<->%s: %w", a, b, err)
	}
	return rec, nil
}

func (s *SQLitePeerings) Delete(ctx context.Context, vpcA, vpcB string) error {
	a, b := naming.NormalizePair(vpcA, vpcB)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM peerings WHERE vpc_a = ? AND vpc_b = ?`, a, b); err != nil {
		return fmt.Errorf("failed to delete peering %s<->%s: %w", a, b, err)
	}
	return nil
}

func (s *SQLitePeerings) List(ctx context.Context) ([]PeeringRecord, error) {
	return s.query(ctx, `SELECT id, vpc_a, vpc_b, link_a, link_b, created_at FROM peerings`)
}

func (s *SQLitePeerings) ListForVPC(ctx context.Context, vpc string) ([]PeeringRecord, error) {
	return s.query(ctx,
		`SELECT id, vpc_a, vpc_b, link_a, link_b, created_at FROM peerings WHERE vpc_a = ? OR vpc_b = ?`,
		vpc, vpc)
}

func (s *SQLitePeerings) query(ctx context.Context, q string, args ...any) ([]PeeringRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list peerings: %w", err)
	}
	defer rows.Close()

	var records []PeeringRecord
	for rows.Next() {
		var rec PeeringRecord
		if err := rows.Scan(&rec.ID, &rec.VPCA, &rec.VPCB, &rec.LinkA, &rec.LinkB, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan peering row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
