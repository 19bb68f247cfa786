package nat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/internal/subnet"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// fakeIptables records host-level rules in a set.
type fakeIptables struct {
	rules map[string]bool
}

func newFakeIptables() *fakeIptables {
	return &fakeIptables{rules: map[string]bool{}}
}

func key(table, chain string, spec ...string) string {
	return table + "|" + chain + "|" + strings.Join(spec, " ")
}

func (f *fakeIptables) Exists(table, chain string, spec ...string) (bool, error) {
	return f.rules[key(table, chain, spec...)], nil
}

func (f *fakeIptables) Append(table, chain string, spec ...string) error {
	f.rules[key(table, chain, spec...)] = true
	return nil
}

func (f *fakeIptables) Delete(table, chain string, spec ...string) error {
	delete(f.rules, key(table, chain, spec...))
	return nil
}

func (f *fakeIptables) List(table, chain string) ([]string, error) {
	var out []string
	for k := range f.rules {
		if strings.HasPrefix(k, table+"|"+chain+"|") {
			out = append(out, k)
		}
	}
	return out, nil
}

// fakeProber routes every ping through pingFunc.
type fakeProber struct {
	pingFunc func(fromNS, target string) error
}

func (p *fakeProber) Ping(ctx context.Context, fromNS, target string) error {
	if p.pingFunc == nil {
		return nil
	}
	return p.pingFunc(fromNS, target)
}

func (p *fakeProber) TCPPort(ctx context.Context, fromNS, target string, port int) error {
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	manager *Manager
	driver  *network.FakeDriver
	ipt     *fakeIptables
	prober  *fakeProber
	subnets *subnet.Manager
}

// newFixture seeds VPC "web" (10.0.0.0/16) with its bridge; subnets are added
// per test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	driver := network.NewFakeDriver()
	vpcs := store.NewMemoryVPCs()
	vpcs.Put(context.Background(), store.VPCRecord{
		Name: "web", CIDR: "10.0.0.0/16", Bridge: naming.Bridge("web"), Gateway: "10.0.0.1",
	})
	driver.EnsureBridge(naming.Bridge("web"), "10.0.0.1/16")

	log := testLogger()
	subnets := subnet.NewManager(vpcs, driver, lock.NewNoOpLocker(), log)
	ipt := newFakeIptables()
	prober := &fakeProber{}
	manager := NewManager(vpcs, subnets, ipt, driver, prober, lock.NewNoOpLocker(), log)
	return &fixture{manager: manager, driver: driver, ipt: ipt, prober: prober, subnets: subnets}
}

func (f *fixture) addSubnet(t *testing.T, typ, cidr string) {
	t.Helper()
	if _, err := f.subnets.AddSubnet(context.Background(), "web", typ, cidr); err != nil {
		t.Fatalf("AddSubnet %s: %v", typ, err)
	}
}

func TestEnableNAT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "public", "10.0.1.0/24")

	result, err := f.manager.EnableNAT(ctx, "web")
	if err != nil {
		t.Fatalf("EnableNAT: %v", err)
	}
	if result.EgressInterface != "eth0" {
		t.Errorf("egress = %s, want eth0", result.EgressInterface)
	}
	if len(result.PublicCIDRs) != 1 || result.PublicCIDRs[0] != "10.0.1.0/24" {
		t.Errorf("PublicCIDRs = %v, want [10.0.1.0/24]", result.PublicCIDRs)
	}
	// Three per-subnet rules plus the intra-VPC forward rule.
	if len(result.RulesAdded) != 4 {
		t.Errorf("RulesAdded = %v, want 4 rules", result.RulesAdded)
	}
	masq := key("nat", "POSTROUTING", "-s", "10.0.1.0/24", "-o", "eth0", "-j", "MASQUERADE")
	if !f.ipt.rules[masq] {
		t.Error("masquerade rule not installed")
	}
	if !f.driver.IPForward {
		t.Error("IP forwarding was not enabled")
	}
}

func TestEnableNATIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "public", "10.0.1.0/24")

	if _, err := f.manager.EnableNAT(ctx, "web"); err != nil {
		t.Fatalf("EnableNAT: %v", err)
	}
	result, err := f.manager.EnableNAT(ctx, "web")
	if err != nil {
		t.Fatalf("second EnableNAT: %v", err)
	}
	if len(result.RulesAdded) != 0 {
		t.Errorf("RulesAdded = %v on repeat enable, want none", result.RulesAdded)
	}
	if len(result.RulesPresent) != 4 {
		t.Errorf("RulesPresent = %v, want all 4", result.RulesPresent)
	}
	if len(f.ipt.rules) != 4 {
		t.Errorf("got %d host rules, want 4 (no duplicates)", len(f.ipt.rules))
	}
}

func TestEnableNATPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Only a private subnet: nothing to masquerade.
	f.addSubnet(t, "private", "10.0.2.0/24")
	if _, err := f.manager.EnableNAT(ctx, "web"); !errors.Is(err, errdefs.ErrInsufficientState) {
		t.Errorf("EnableNAT without public subnet = %v, want ErrInsufficientState", err)
	}

	f.addSubnet(t, "public", "10.0.1.0/24")
	f.driver.EgressIface = ""
	if _, err := f.manager.EnableNAT(ctx, "web"); !errors.Is(err, errdefs.ErrInsufficientState) {
		t.Errorf("EnableNAT without default route = %v, want ErrInsufficientState", err)
	}

	if _, err := f.manager.EnableNAT(ctx, "ghost"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("EnableNAT for unknown VPC = %v, want ErrNotFound", err)
	}
}

func TestDisableNAT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "public", "10.0.1.0/24")

	if _, err := f.manager.EnableNAT(ctx, "web"); err != nil {
		t.Fatalf("EnableNAT: %v", err)
	}
	if err := f.manager.DisableNAT(ctx, "web"); err != nil {
		t.Fatalf("DisableNAT: %v", err)
	}
	if len(f.ipt.rules) != 0 {
		t.Errorf("rules left after disable: %v", f.ipt.rules)
	}
	// Disabling again must not fail.
	if err := f.manager.DisableNAT(ctx, "web"); err != nil {
		t.Errorf("second DisableNAT: %v", err)
	}
}

func TestTestConnectivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "public", "10.0.1.0/24")
	f.addSubnet(t, "private", "10.0.2.0/24")

	privateNS := naming.Namespace("web", naming.SubnetPrivate)
	// Gateways always answer; the internet is only visible from the public
	// subnet, which is exactly the healthy NAT state.
	f.prober.pingFunc = func(fromNS, target string) error {
		if target == externalProbeAddr && fromNS == privateNS {
			return fmt.Errorf("no route to %s", target)
		}
		return nil
	}

	checks, err := f.manager.TestConnectivity(ctx, "web")
	if err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if len(checks) != 4 {
		t.Fatalf("got %d checks, want 4 (external+gateway per subnet)", len(checks))
	}
	for _, c := range checks {
		if !c.Pass {
			t.Errorf("check %s/%s failed: %+v", c.Namespace, c.Name, c)
		}
	}
}

func TestTestConnectivityDetectsLeak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "private", "10.0.2.0/24")

	// Everything reachable everywhere: the private subnet is leaking.
	checks, err := f.manager.TestConnectivity(ctx, "web")
	if err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	var leak bool
	for _, c := range checks {
		if c.Name == "external" && !c.Pass {
			leak = true
		}
	}
	if !leak {
		t.Errorf("external check passed for a reachable private subnet: %+v", checks)
	}
}

func TestVerifyNATSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSubnet(t, "public", "10.0.1.0/24")

	report, err := f.manager.VerifyNATSetup(ctx, "web")
	if err != nil {
		t.Fatalf("VerifyNATSetup: %v", err)
	}
	if len(report.RulesMissing) != 4 || len(report.RulesPresent) != 0 {
		t.Errorf("before enable: missing=%d present=%d, want 4/0", len(report.RulesMissing), len(report.RulesPresent))
	}

	if _, err := f.manager.EnableNAT(ctx, "web"); err != nil {
		t.Fatalf("EnableNAT: %v", err)
	}
	report, err = f.manager.VerifyNATSetup(ctx, "web")
	if err != nil {
		t.Fatalf("VerifyNATSetup: %v", err)
	}
	if len(report.RulesPresent) != 4 || len(report.RulesMissing) != 0 {
		t.Errorf("after enable: missing=%d present=%d, want 0/4", len(report.RulesMissing), len(report.RulesPresent))
	}
	if !report.ForwardingEnabled {
		t.Error("ForwardingEnabled = false after enable")
	}
}

func TestDiagnoseNATIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	findings, err := f.manager.DiagnoseNATIssues(ctx, "web")
	if err != nil {
		t.Fatalf("DiagnoseNATIssues: %v", err)
	}
	joined := strings.Join(findings, "\n")
	if !strings.Contains(joined, "forwarding is disabled") {
		t.Errorf("findings missing forwarding hint: %v", findings)
	}
	if !strings.Contains(joined, "no public subnets") {
		t.Errorf("findings missing public-subnet hint: %v", findings)
	}

	f.addSubnet(t, "public", "10.0.1.0/24")
	if _, err := f.manager.EnableNAT(ctx, "web"); err != nil {
		t.Fatalf("EnableNAT: %v", err)
	}
	findings, err = f.manager.DiagnoseNATIssues(ctx, "web")
	if err != nil {
		t.Fatalf("DiagnoseNATIssues: %v", err)
	}
	if len(findings) != 1 || findings[0] != "no issues detected" {
		t.Errorf("findings = %v, want clean bill", findings)
	}
}
