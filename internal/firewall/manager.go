// Package firewall realizes declarative per-subnet ingress rule sets as
// packet-filter policy inside subnet namespaces. Applying a rule set is
// destructive-and-replace: the namespace's filter state is reset to a fixed
// baseline and the declared rules are installed in order.
package firewall

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/internal/subnet"
	"github.com/Holladworld/vpc-project/pkg/lock"
	"github.com/Holladworld/vpc-project/pkg/network"
)

// SubnetService is the slice of the subnet manager the firewall manager
// needs: enumeration with addresses, for CIDR-to-namespace resolution.
type SubnetService interface {
	ListSubnets(ctx context.Context) ([]subnet.Info, error)
}

// Manager applies, tests and clears per-namespace firewall policy.
type Manager struct {
	subnets SubnetService
	driver  network.Driver
	locker  lock.Locker
	log     *logrus.Logger
}

func NewManager(subnets SubnetService, driver network.Driver, locker lock.Locker, log *logrus.Logger) *Manager {
	return &Manager{subnets: subnets, driver: driver, locker: locker, log: log}
}

// ApplyResult reports which namespaces received policy and which declared
// subnets had no live namespace to match.
type ApplyResult struct {
	Applied        []string
	RulesInstalled int
	Warnings       []string
}

// baseline is the fixed filter state every apply starts from: default-deny
// inbound and forwarded, allow-all outbound, allow established/related and
// loopback inbound.
var baseline = [][]string{
	{"iptables", "-F"},
	{"iptables", "-X"},
	{"iptables", "-Z"},
	{"iptables", "-P", "INPUT", "DROP"},
	{"iptables", "-P", "FORWARD", "DROP"},
	{"iptables", "-P", "OUTPUT", "ACCEPT"},
	{"iptables", "-A", "INPUT", "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
	{"iptables", "-A", "INPUT", "-i", "lo", "-j", "ACCEPT"},
}

func ruleSpec(r Rule) []string {
	target := "ACCEPT"
	if r.Action == ActionDeny {
		target = "DROP"
	}
	if r.Protocol == ProtoICMP {
		return []string{"-p", ProtoICMP, "-j", target}
	}
	return []string{"-p", r.Protocol, "--dport", strconv.Itoa(r.Port), "-j", target}
}

// resolve finds the namespace of vpcName whose assigned address falls inside
// the declared subnet CIDR, or "".
func resolve(infos []subnet.Info, vpcName, cidr string) string {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	for _, info := range infos {
		if info.VPC != vpcName || info.Address == "" {
			continue
		}
		ip, _, err := net.ParseCIDR(info.Address)
		if err != nil {
			continue
		}
		if ipnet.Contains(ip) {
			return info.Namespace
		}
	}
	return ""
}

// ApplyFirewall parses the rule-set document, resolves each declared subnet
// to a live namespace of the VPC and replaces that namespace's filter policy.
// Declared subnets with no matching namespace are skipped with a warning.
func (m *Manager) ApplyFirewall(ctx context.Context, vpcName string, source []byte) (ApplyResult, error) {
	rs, err := ParseRuleSet(source)
	if err != nil {
		return ApplyResult{}, err
	}

	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return ApplyResult{}, err
	}
	defer l.Release()

	infos, err := m.subnets.ListSubnets(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	var result ApplyResult
	for _, group := range rs.Rules {
		ns := resolve(infos, vpcName, group.Subnet)
		if ns == "" {
			warning := fmt.Sprintf("no namespace of VPC %s matches subnet %s, skipped", vpcName, group.Subnet)
			result.Warnings = append(result.Warnings, warning)
			m.log.Warn(warning)
			continue
		}

		// One broken namespace must not block the remaining groups; record
		// the failure and move on.
		failed := false
		for _, cmd := range baseline {
			if _, err := m.driver.RunInNamespace(ns, cmd...); err != nil {
				warning := fmt.Sprintf("baseline reset in %s: %v", ns, err)
				result.Warnings = append(result.Warnings, warning)
				m.log.Warn(warning)
				failed = true
				break
			}
		}
		if failed {
			continue
		}
		for _, rule := range group.Ingress {
			args := append([]string{"iptables", "-A", "INPUT"}, ruleSpec(rule)...)
			if _, err := m.driver.RunInNamespace(ns, args...); err != nil {
				warning := fmt.Sprintf("installing rule in %s: %v", ns, err)
				result.Warnings = append(result.Warnings, warning)
				m.log.Warn(warning)
				failed = true
				break
			}
			result.RulesInstalled++
		}
		if failed {
			continue
		}
		result.Applied = append(result.Applied, ns)
		m.log.WithFields(logrus.Fields{"namespace": ns, "rules": len(group.Ingress)}).Info("firewall applied")
	}
	return result, nil
}

// TestFirewall reports, without mutating anything, whether each declared rule
// is present in the matched namespace's live filter state.
type RuleCheck struct {
	Namespace string
	Rule      string
	Present   bool
}

func (m *Manager) TestFirewall(ctx context.Context, vpcName string, source []byte) ([]RuleCheck, error) {
	rs, err := ParseRuleSet(source)
	if err != nil {
		return nil, err
	}
	infos, err := m.subnets.ListSubnets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	var checks []RuleCheck
	for _, group := range rs.Rules {
		ns := resolve(infos, vpcName, group.Subnet)
		if ns == "" {
			continue
		}
		for _, rule := range group.Ingress {
			args := append([]string{"iptables", "-C", "INPUT"}, ruleSpec(rule)...)
			_, err := m.driver.RunInNamespace(ns, args...)
			checks = append(checks, RuleCheck{
				Namespace: ns,
				Rule:      fmt.Sprintf("%s %s port %d", rule.Action, rule.Protocol, rule.Port),
				Present:   err == nil,
			})
		}
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("%w: no declared subnet matches a namespace of VPC %s", errdefs.ErrNotFound, vpcName)
	}
	return checks, nil
}

// allowAll is the flushed, permissive state CleanupFirewall restores.
var allowAll = [][]string{
	{"iptables", "-F"},
	{"iptables", "-X"},
	{"iptables", "-Z"},
	{"iptables", "-P", "INPUT", "ACCEPT"},
	{"iptables", "-P", "FORWARD", "ACCEPT"},
	{"iptables", "-P", "OUTPUT", "ACCEPT"},
}

// CleanupFirewall resets every namespace of the VPC to an allow-all filter
// state. Namespaces that fail to reset are reported but do not stop the rest.
func (m *Manager) CleanupFirewall(ctx context.Context, vpcName string) (ApplyResult, error) {
	l, err := m.locker.AcquireLock(ctx, vpcName)
	if err != nil {
		return ApplyResult{}, err
	}
	defer l.Release()

	infos, err := m.subnets.ListSubnets(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", errdefs.ErrExternalSystem, err)
	}

	var result ApplyResult
	for _, info := range infos {
		if info.VPC != vpcName {
			continue
		}
		failed := false
		for _, cmd := range allowAll {
			if _, err := m.driver.RunInNamespace(info.Namespace, cmd...); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", info.Namespace, err))
				failed = true
				break
			}
		}
		if !failed {
			result.Applied = append(result.Applied, info.Namespace)
		}
	}
	if len(result.Applied) == 0 && len(result.Warnings) == 0 {
		return result, fmt.Errorf("%w: VPC %s has no subnets", errdefs.ErrNotFound, vpcName)
	}
	return result, nil
}
