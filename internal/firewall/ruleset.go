package firewall

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Holladworld/vpc-project/internal/errdefs"
	"github.com/Holladworld/vpc-project/pkg/naming"
)

// Rule protocols and actions accepted in rule-set documents.
const (
	ProtoTCP  = "tcp"
	ProtoUDP  = "udp"
	ProtoICMP = "icmp"

	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Rule is one ingress entry: a protocol, an action, and for tcp/udp a
// destination port. Port is ignored for icmp.
type Rule struct {
	Port     int    `yaml:"port,omitempty"`
	Protocol string `yaml:"protocol"`
	Action   string `yaml:"action"`
}

// RuleGroup declares the ingress rules for one subnet, identified by CIDR.
// The group is resolved to a live namespace at apply time by matching the
// namespace's assigned address against the CIDR.
type RuleGroup struct {
	Subnet  string `yaml:"subnet"`
	Ingress []Rule `yaml:"ingress"`
}

// RuleSet is a parsed firewall document.
type RuleSet struct {
	Rules []RuleGroup `yaml:"rules"`
}

// ParseRuleSet parses and validates a YAML rule-set document. Rule order
// within a group is preserved: rules are installed top-down and no conflict
// detection is performed, so ordering correctness rests with the author.
func ParseRuleSet(source []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(source, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("%w: malformed rule set: %v", errdefs.ErrInvalidArgument, err)
	}
	if len(rs.Rules) == 0 {
		return RuleSet{}, fmt.Errorf("%w: rule set declares no rules", errdefs.ErrInvalidArgument)
	}
	for i, group := range rs.Rules {
		if _, err := naming.SubnetCIDR(group.Subnet); err != nil {
			return RuleSet{}, fmt.Errorf("%w: rule group %d: bad subnet %q", errdefs.ErrInvalidArgument, i, group.Subnet)
		}
		for j, rule := range group.Ingress {
			if err := validateRule(rule); err != nil {
				return RuleSet{}, fmt.Errorf("%w: rule group %d entry %d: %v", errdefs.ErrInvalidArgument, i, j, err)
			}
		}
	}
	return rs, nil
}

func validateRule(r Rule) error {
	switch r.Protocol {
	case ProtoTCP, ProtoUDP:
		if r.Port < 1 || r.Port > 65535 {
			return fmt.Errorf("port %d out of range for %s", r.Port, r.Protocol)
		}
	case ProtoICMP:
		// port ignored
	default:
		return fmt.Errorf("unknown protocol %q (want tcp, udp or icmp)", r.Protocol)
	}
	switch r.Action {
	case ActionAllow, ActionDeny:
	default:
		return fmt.Errorf("unknown action %q (want allow or deny)", r.Action)
	}
	return nil
}
