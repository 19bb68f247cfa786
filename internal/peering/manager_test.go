package peering

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/internal/subnet"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// fakeProber answers pings with a fixed outcome.
type fakeProber struct {
	pingErr error
}

func (p *fakeProber) Ping(ctx context.Context, fromNS, target string) error {
	return p.pingErr
}

func (p *fakeProber) TCPPort(ctx context.Context, fromNS, target string, port int) error {
	return p.pingErr
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	manager  *Manager
	driver   *network.FakeDriver
	vpcs     *store.MemoryVPCs
	peerings *store.MemoryPeerings
	prober   *fakeProber
}

// newFixture builds two VPCs ("app" 10.1.0.0/16, "web" 10.0.0.0/16), each with
// a public subnet, over one shared fake driver.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	driver := network.NewFakeDriver()
	vpcs := store.NewMemoryVPCs()
	peerings := store.NewMemoryPeerings()
	log := testLogger()

	for _, v := range []struct{ name, cidr, subnetCIDR string }{
		{"web", "10.0.0.0/16", "10.0.1.0/24"},
		{"app", "10.1.0.0/16", "10.1.1.0/24"},
	} {
		vpcs.Put(ctx, store.VPCRecord{Name: v.name, CIDR: v.cidr, Bridge: naming.Bridge(v.name)})
		driver.EnsureBridge(naming.Bridge(v.name), "")
		subnets := subnet.NewManager(vpcs, driver, lock.NewNoOpLocker(), log)
		if _, err := subnets.AddSubnet(ctx, v.name, "public", v.subnetCIDR); err != nil {
			t.Fatalf("AddSubnet %s: %v", v.name, err)
		}
	}

	subnets := subnet.NewManager(vpcs, driver, lock.NewNoOpLocker(), log)
	prober := &fakeProber{}
	manager := NewManager(peerings, vpcs, subnets, driver, prober, lock.NewNoOpLocker(), log)
	return &fixture{manager: manager, driver: driver, vpcs: vpcs, peerings: peerings, prober: prober}
}

func TestCreatePeering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.manager.CreatePeering(ctx, "web", "app")
	if err != nil {
		t.Fatalf("CreatePeering: %v", err)
	}

	linkA, linkB := naming.PeeringLinks("web", "app")
	if result.LinkA != linkA || result.LinkB != linkB {
		t.Errorf("links = %s/%s, want %s/%s", result.LinkA, result.LinkB, linkA, linkB)
	}
	if !f.driver.LinkExists(linkA) || !f.driver.LinkExists(linkB) {
		t.Fatal("peering links missing")
	}
	if f.driver.Links[linkA].Master != naming.Bridge("app") {
		t.Errorf("linkA master = %s, want bridge of app (canonical first)", f.driver.Links[linkA].Master)
	}
	if f.driver.Links[linkB].Master != naming.Bridge("web") {
		t.Errorf("linkB master = %s, want bridge of web", f.driver.Links[linkB].Master)
	}

	// Each side's namespace routes to the peer's whole CIDR via the peer gateway.
	webNS := naming.Namespace("web", naming.SubnetPublic)
	routes, err := f.driver.NamespaceRoutes(webNS)
	if err != nil {
		t.Fatalf("NamespaceRoutes: %v", err)
	}
	var found bool
	for _, r := range routes {
		if r.Dst == "10.1.0.0/16" && r.Via == "10.1.0.1" {
			found = true
		}
	}
	if !found {
		t.Errorf("routes in %s = %+v, want 10.1.0.0/16 via 10.1.0.1", webNS, routes)
	}
	if len(result.RoutesAdded) != 2 {
		t.Errorf("RoutesAdded = %v, want one per namespace", result.RoutesAdded)
	}

	rec, err := f.peerings.Get(ctx, "web", "app")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if rec.VPCA != "app" || rec.VPCB != "web" {
		t.Errorf("record pair = %s/%s, want canonical app/web", rec.VPCA, rec.VPCB)
	}
	if rec.ID == "" {
		t.Error("record has no ID")
	}
}

func TestCreatePeeringErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.CreatePeering(ctx, "web", "web"); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("self-peering = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.manager.CreatePeering(ctx, "web", "ghost"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("unknown VPC = %v, want ErrNotFound", err)
	}
}

func TestCreatePeeringLinkCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A foreign link squatting on the derived name is a collision, not reuse.
	linkA, _ := naming.PeeringLinks("web", "app")
	f.driver.CreateVethPair(linkA, "squatter0")
	if _, err := f.manager.CreatePeering(ctx, "web", "app"); !errors.Is(err, errdefs.ErrNameCollision) {
		t.Errorf("CreatePeering over squatted link = %v, want ErrNameCollision", err)
	}
}

func TestCreatePeeringIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.CreatePeering(ctx, "web", "app"); err != nil {
		t.Fatalf("CreatePeering: %v", err)
	}
	// Argument order must not matter.
	result, err := f.manager.CreatePeering(ctx, "app", "web")
	if err != nil {
		t.Fatalf("second CreatePeering: %v", err)
	}
	if !result.AlreadyExisted {
		t.Error("AlreadyExisted = false on repeat create")
	}
	records, _ := f.peerings.List(ctx)
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestDeletePeering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.CreatePeering(ctx, "web", "app"); err != nil {
		t.Fatalf("CreatePeering: %v", err)
	}
	result, err := f.manager.DeletePeering(ctx, "app", "web")
	if err != nil {
		t.Fatalf("DeletePeering: %v", err)
	}

	linkA, linkB := naming.PeeringLinks("web", "app")
	if f.driver.LinkExists(linkA) || f.driver.LinkExists(linkB) {
		t.Error("peering links still exist")
	}
	if len(result.RoutesRemoved) != 2 {
		t.Errorf("RoutesRemoved = %v, want one per namespace", result.RoutesRemoved)
	}
	webNS := naming.Namespace("web", naming.SubnetPublic)
	routes, _ := f.driver.NamespaceRoutes(webNS)
	for _, r := range routes {
		if r.Dst == "10.1.0.0/16" {
			t.Errorf("peer route still present in %s", webNS)
		}
	}
	if _, err := f.peerings.Get(ctx, "web", "app"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}

	if _, err := f.manager.DeletePeering(ctx, "web", "app"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("second DeletePeering = %v, want ErrNotFound", err)
	}
}

func TestListPeeringsReconcilesLinkState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.CreatePeering(ctx, "web", "app"); err != nil {
		t.Fatalf("CreatePeering: %v", err)
	}
	entries, err := f.manager.ListPeerings(ctx)
	if err != nil {
		t.Fatalf("ListPeerings: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != StatusActive {
		t.Fatalf("entries = %+v, want one active peering", entries)
	}

	// Losing a link end out of band flips the status to broken on the next list.
	linkA, _ := naming.PeeringLinks("web", "app")
	f.driver.DeleteLink(linkA)
	entries, err = f.manager.ListPeerings(ctx)
	if err != nil {
		t.Fatalf("ListPeerings: %v", err)
	}
	if entries[0].Status != StatusBroken {
		t.Errorf("status = %s, want %s", entries[0].Status, StatusBroken)
	}
}

func TestCheckIsolation(t *testing.T) {
	cases := []struct {
		name        string
		peered      bool
		reachable   bool
		wantHealthy bool
	}{
		{"isolated without peering", false, false, true},
		{"reachable with peering", true, true, true},
		{"reachable without peering", false, true, false},
		{"unreachable with peering", true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tc.peered {
				if _, err := f.manager.CreatePeering(ctx, "web", "app"); err != nil {
					t.Fatalf("CreatePeering: %v", err)
				}
			}
			if !tc.reachable {
				f.prober.pingErr = errors.New("no route to host")
			}

			report, err := f.manager.CheckIsolation(ctx, "web", "app")
			if err != nil {
				t.Fatalf("CheckIsolation: %v", err)
			}
			if report.Reachable != tc.reachable || report.PeeringExists != tc.peered {
				t.Errorf("report = %+v", report)
			}
			if report.Healthy != tc.wantHealthy {
				t.Errorf("Healthy = %v, want %v", report.Healthy, tc.wantHealthy)
			}
			if report.TargetIP != "10.1.1.2" {
				t.Errorf("TargetIP = %s, want 10.1.1.2", report.TargetIP)
			}
		})
	}
}

func TestCheckIsolationNeedsSubnets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.vpcs.Put(ctx, store.VPCRecord{Name: "bare", CIDR: "10.2.0.0/16", Bridge: naming.Bridge("bare")})
	if _, err := f.manager.CheckIsolation(ctx, "web", "bare"); !errors.Is(err, errdefs.ErrInsufficientState) {
		t.Errorf("CheckIsolation without subnets = %v, want ErrInsufficientState", err)
	}
}

func TestCheckIsolationNeedsAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "dark" has a namespace but no assigned address; probing from or to it
	// cannot produce a meaningful verdict.
	f.vpcs.Put(ctx, store.VPCRecord{Name: "dark", CIDR: "10.2.0.0/16", Bridge: naming.Bridge("dark")})
	f.driver.CreateNamespace(naming.Namespace("dark", naming.SubnetPublic))

	if _, err := f.manager.CheckIsolation(ctx, "dark", "app"); !errors.Is(err, errdefs.ErrInsufficientState) {
		t.Errorf("unaddressed source = %v, want ErrInsufficientState", err)
	}
	if _, err := f.manager.CheckIsolation(ctx, "web", "dark"); !errors.Is(err, errdefs.ErrInsufficientState) {
		t.Errorf("unaddressed target = %v, want ErrInsufficientState", err)
	}
}
