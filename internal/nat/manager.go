// Package nat grants public subnets outbound internet access: host-level
// masquerade and forward rules per public subnet CIDR, plus a blanket
// intra-VPC forward rule. All rule insertion is existence-checked first so
// enabling NAT twice never duplicates rules.
package nat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/store"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/naming"
	"github.com/Holladworld/vpc-project/pkg/network"
	"github.com/Holladworld/vpc-project/pkg/probe"
)

// externalProbeAddr is the address used to test internet reachability.
const externalProbeAddr = "8.8.8.8"

// Iptables is the slice of the iptables control surface the NAT manager
// drives; *iptables.IPTables from coreos/go-iptables satisfies it.
type Iptables interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Append(table, chain string, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	List(table, chain string) ([]string, error)
}

// SubnetService is the slice of the subnet manager the NAT manager needs.
type SubnetService interface {
	GetVPCNamespaces(ctx context.Context, vpc string) ([]string, error)
	GetNamespaceAddress(ns string) string
	GetNamespaceIP(ns string) string
}

// Manager enables and diagnoses NAT for a VPC's public subnets.
type Manager struct {
	vpcs    store.VPCRepository
	subnets SubnetService
	ipt     Iptables
	driver  network.Driver
	prober  probe.Prober
	locker  lock.Locker
	log     *logrus.Logger
}

func NewManager(vpcs store.VPCRepository, subnets SubnetService, ipt Iptables,
	driver network.Driver, prober probe.Prober, locker lock.Locker, log *logrus.Logger) *Manager {
	return &Manager{
		vpcs:    vpcs,
		subnets: subnets,
		ipt:     ipt,
		driver:  driver,
		prober:  prober,
		locker:  locker,
		log:     log,
	}
}

// Result reports what EnableNAT inserted and what was already in place.
type Result struct {
	EgressInterface string
	PublicCIDRs     []string
	RulesAdded      []string
	RulesPresent    []string
	Warnings        []string
}

type natRule struct {
	table string
	chain string
	spec  []string
}

func (r natRule) String() string {
	return fmt.Sprintf("-t %s -A %s %s", r.table, r.chain, strings.Join(r.spec, " "))
}

func subnetRules(cidr, egress string) []natRule {
	return []natRule{
		{"nat", "POSTROUTING", []string{"-s", cidr, "-o", egress, "-j", "MASQUERADE"}},
		{"filter", "FORWARD", []string{"-s", cidr, "-o", egress, "-j", "ACCEPT"}},
		{"filter", "FORWARD", []string{"-d", cidr, "-i", egress, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}},
	}
}

// intraVPCRule lets subnets of one VPC always reach each other regardless of
// what NAT or firewall state exists elsewhere.
func intraVPCRule(bridge string) natRule {
	return natRule{"filter", "FORWARD", []string{"-i", bridge, "-o", bridge, "-j", "ACCEPT"}}
}

// publicCIDRs derives the subnet CIDR of every public namespace of the VPC
// from its assigned address, collecting namespaces without one as warnings.
func (m *Manager) publicCIDRs(ctx context.Context, vpcName string) ([]string, []string, error) {
	namespaces, err := m.subnets.GetVPCNamespaces(ctx, vpcName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	var cidrs, warnings []string
	for _, ns := range namespaces {
		_, typ, ok := naming.ParseNamespace(ns)
		if !ok || typ != naming.SubnetPublic {
			continue
		}
		addr := m.subnets.GetNamespaceAddress(ns)
		if addr == "" {
			warnings = append(warnings, fmt.Sprintf("namespace %s has no address, skipped", ns))
			continue
		}
		cidr, err := naming.SubnetCIDR(addr)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("namespace %s: %v", ns, err))
			continue
		}
		cidrs = append(cidrs, cidr)
	}
	return cidrs, warnings, nil
}

// EnableNAT installs masquerade and forward rules for every public subnet of
// the VPC. Safe to call repeatedly: every insertion is existence-checked.
func (m *Manager) EnableNAT(ctx context.Context, vpcName string) (Result, error) {
	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return Result{}, err
	}
	defer l.Release()

	rec, err := m.vpcs.Get(ctx, vpcName)
	if err != nil {
		return Result{}, err
	}

	if err := m.driver.EnableIPForwarding(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	egress, err := m.driver.DefaultEgressInterface()
	if err != nil {
		if errors.Is(err, network.ErrNoDefaultRoute) {
			return Result{}, fmt.Errorf("%w: host has no default route, cannot pick an egress interface", errdefs.ErrInsufficientState)
		}
		return Result{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	cidrs, warnings, err := m.publicCIDRs(ctx, vpcName)
	if err != nil {
		return Result{}, err
	}
	result := Result{EgressInterface: egress, PublicCIDRs: cidrs, Warnings: warnings}
	if len(cidrs) == 0 {
		return result, fmt.Errorf("%w: VPC %s has no public subnets; add one with subnet add %s public <cidr>",
			errdefs.ErrInsufficientState, vpcName, vpcName)
	}

	var rules []natRule
	for _, cidr := range cidrs {
		rules = append(rules, subnetRules(cidr, egress)...)
	}
	rules = append(rules, intraVPCRule(rec.Bridge))

	for _, rule := range rules {
		exists, err := m.ipt.Exists(rule.table, rule.chain, rule.spec...)
		if err != nil {
			return result, fmt.Errorf("%w: checking rule %s: %v", errdefs.ErrExternalSystem, rule, err)
		}
		if exists {
			result.RulesPresent = append(result.RulesPresent, rule.String())
			continue
		}
		if err := m.ipt.Append(rule.table, rule.chain, rule.spec...); err != nil {
			return result, fmt.Errorf("%w: adding rule %s: %v", errdefs.ErrExternalSystem, rule, err)
		}
		result.RulesAdded = append(result.RulesAdded, rule.String())
	}

	m.log.WithFields(logrus.Fields{
		"vpc": vpcName, "egress": egress,
		"added": len(result.RulesAdded), "present": len(result.RulesPresent),
	}).Info("NAT enabled")
	return result, nil
}

// DisableNAT removes the rules EnableNAT installed. Missing rules are
// ignored so cleanup is idempotent.
func (m *Manager) DisableNAT(ctx context.Context, vpcName string) error {
	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return err
	}
	defer l.Release()

	rec, err := m.vpcs.Get(ctx, vpcName)
	if err != nil {
		return err
	}
	egress, err := m.driver.DefaultEgressInterface()
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrInsufficientState, err)
	}
	cidrs, _, err := m.publicCIDRs(ctx, vpcName)
	if err != nil {
		return err
	}

	for _, cidr := range cidrs {
		for _, rule := range subnetRules(cidr, egress) {
			_ = m.ipt.Delete(rule.table, rule.chain, rule.spec...)
		}
	}
	intra := intraVPCRule(rec.Bridge)
	_ = m.ipt.Delete(intra.table, intra.chain, intra.spec...)

	m.log.WithField("vpc", vpcName).Info("NAT disabled")
	return nil
}

// Check is one probe outcome of TestConnectivity. For private subnets the
// external probe is expected to fail, so Pass means "isolation holds".
type Check struct {
	Namespace string
	Name      string
	Target    string
	Expected  string
	Pass      bool
}

// TestConnectivity probes external and gateway reachability from every
// subnet namespace of the VPC: public subnets must reach both, private
// subnets must reach only their gateway.
func (m *Manager) TestConnectivity(ctx context.Context, vpcName string) ([]Check, error) {
	if _, err := m.vpcs.Get(ctx, vpcName); err != nil {
		return nil, err
	}
	namespaces, err := m.subnets.GetVPCNamespaces(ctx, vpcName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	if len(namespaces) == 0 {
		return nil, fmt.Errorf("%w: VPC %s has no subnets", errdefs.ErrInsufficientState, vpcName)
	}

	var checks []Check
	for _, ns := range namespaces {
		_, typ, ok := naming.ParseNamespace(ns)
		if !ok {
			continue
		}
		addr := m.subnets.GetNamespaceAddress(ns)
		if addr == "" {
			checks = append(checks, Check{Namespace: ns, Name: "address", Expected: "assigned", Pass: false})
			continue
		}
		cidr, err := naming.SubnetCIDR(addr)
		if err != nil {
			checks = append(checks, Check{Namespace: ns, Name: "address", Target: addr, Expected: "valid", Pass: false})
			continue
		}
		gateway, _, _ := naming.Gateway(cidr)

		externalErr := m.prober.Ping(ctx, ns, externalProbeAddr)
		gatewayErr := m.prober.Ping(ctx, ns, gateway)

		if typ == naming.SubnetPublic {
			checks = append(checks, Check{Namespace: ns, Name: "external", Target: externalProbeAddr, Expected: "reachable", Pass: externalErr == nil})
		} else {
			// Isolation is the positive result for private subnets.
			checks = append(checks, Check{Namespace: ns, Name: "external", Target: externalProbeAddr, Expected: "unreachable", Pass: externalErr != nil})
		}
		checks = append(checks, Check{Namespace: ns, Name: "gateway", Target: gateway, Expected: "reachable", Pass: gatewayErr == nil})
	}
	return checks, nil
}

// VerifyReport is the read-only state snapshot produced by VerifyNATSetup.
type VerifyReport struct {
	ForwardingEnabled bool
	EgressInterface   string
	RulesPresent      []string
	RulesMissing      []string
}

// VerifyNATSetup inspects host forwarding state, the egress interface and the
// installed rule set without mutating anything.
func (m *Manager) VerifyNATSetup(ctx context.Context, vpcName string) (VerifyReport, error) {
	rec, err := m.vpcs.Get(ctx, vpcName)
	if err != nil {
		return VerifyReport{}, err
	}

	var report VerifyReport
	report.ForwardingEnabled, err = m.driver.IPForwardingEnabled()
	if err != nil {
		return report, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}
	report.EgressInterface, _ = m.driver.DefaultEgressInterface()

	cidrs, _, err := m.publicCIDRs(ctx, vpcName)
	if err != nil {
		return report, err
	}
	var rules []natRule
	for _, cidr := range cidrs {
		rules = append(rules, subnetRules(cidr, report.EgressInterface)...)
	}
	rules = append(rules, intraVPCRule(rec.Bridge))

	for _, rule := range rules {
		exists, err := m.ipt.Exists(rule.table, rule.chain, rule.spec...)
		if err != nil {
			return report, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
		}
		if exists {
			report.RulesPresent = append(report.RulesPresent, rule.String())
		} else {
			report.RulesMissing = append(report.RulesMissing, rule.String())
		}
	}
	return report, nil
}

// DiagnoseNATIssues turns the verify snapshot into operator-facing findings.
func (m *Manager) DiagnoseNATIssues(ctx context.Context, vpcName string) ([]string, error) {
	rec, err := m.vpcs.Get(ctx, vpcName)
	if err != nil {
		return nil, err
	}

	var findings []string
	report, err := m.VerifyNATSetup(ctx, vpcName)
	if err != nil && !errors.Is(err, errdefs.ErrInsufficientState) {
		return nil, err
	}
	if !report.ForwardingEnabled {
		findings = append(findings, "host IP forwarding is disabled (echo 1 > /proc/sys/net/ipv4/ip_forward)")
	}
	if report.EgressInterface == "" {
		findings = append(findings, "no default-route egress interface detected")
	}
	if !m.driver.BridgeExists(rec.Bridge) {
		findings = append(findings, fmt.Sprintf("bridge %s is missing; the VPC record is stale", rec.Bridge))
	}
	cidrs, warnings, err := m.publicCIDRs(ctx, vpcName)
	if err == nil && len(cidrs) == 0 {
		findings = append(findings, "no public subnets with assigned addresses")
	}
	findings = append(findings, warnings...)
	for _, missing := range report.RulesMissing {
		findings = append(findings, "missing rule: "+missing)
	}
	if len(findings) == 0 {
		findings = append(findings, "no issues detected")
	}
	return findings, nil
}
