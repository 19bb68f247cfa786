package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Holladworld/vpc-project/internal/db"
	"github.com/Holladworld/vpc-project/internal/errdefs"
)

func openTestDB(t *testing.T) (*SQLiteVPCs, *SQLitePeerings) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "vpc.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.InitSchema(context.Background(), database); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return NewSQLiteVPCs(database), NewSQLitePeerings(database)
}

func TestSQLiteVPCs(t *testing.T) {
	vpcs, _ := openTestDB(t)
	ctx := context.Background()

	rec := VPCRecord{
		Name: "web", CIDR: "10.0.0.0/16", Bridge: "br-web1234",
		Gateway: "10.0.0.1", Status: StatusActive, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := vpcs.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := vpcs.Get(ctx, "web")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CIDR != rec.CIDR || got.Bridge != rec.Bridge || got.Gateway != rec.Gateway || got.Status != rec.Status {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	if _, err := vpcs.Get(ctx, "ghost"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}

	// Put on an existing name replaces the record.
	rec.CIDR = "10.9.0.0/16"
	if err := vpcs.Put(ctx, rec); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	records, err := vpcs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].CIDR != "10.9.0.0/16" {
		t.Errorf("List = %+v, want single replaced record", records)
	}

	if err := vpcs.Delete(ctx, "web"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := vpcs.Get(ctx, "web"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleting a missing record is not an error.
	if err := vpcs.Delete(ctx, "web"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestSQLitePeerings(t *testing.T) {
	_, peerings := openTestDB(t)
	ctx := context.Background()

	rec := PeeringRecord{
		ID: "p1", VPCA: "web", VPCB: "app", LinkA: "pa-x", LinkB: "pb-x",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := peerings.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// The pair is stored canonically and readable in either order.
	for _, pair := range [][2]string{{"web", "app"}, {"app", "web"}} {
		got, err := peerings.Get(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("Get(%v): %v", pair, err)
		}
		if got.VPCA != "app" || got.VPCB != "web" {
			t.Errorf("Get(%v) pair = %s/%s, want app/web", pair, got.VPCA, got.VPCB)
		}
		if got.ID != "p1" || got.LinkA != "pa-x" || got.LinkB != "pb-x" {
			t.Errorf("Get(%v) = %+v", pair, got)
		}
	}

	if _, err := peerings.Get(ctx, "web", "ghost"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}

	other := PeeringRecord{ID: "p2", VPCA: "app", VPCB: "db", LinkA: "pa-y", LinkB: "pb-y", CreatedAt: time.Now().UTC()}
	if err := peerings.Put(ctx, other); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := peerings.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List = %d records, want 2", len(all))
	}

	forWeb, err := peerings.ListForVPC(ctx, "web")
	if err != nil {
		t.Fatalf("ListForVPC: %v", err)
	}
	if len(forWeb) != 1 || forWeb[0].ID != "p1" {
		t.Errorf("ListForVPC(web) = %+v, want just p1", forWeb)
	}

	if err := peerings.Delete(ctx, "app", "web"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := peerings.Get(ctx, "web", "app"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
