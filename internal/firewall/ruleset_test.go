package firewall

import (
	"errors"
	"testing"

	"github.com/Holladworld/vpc-project/internal/errdefs"
)

const sampleRuleSet = `
rules:
  - subnet: 10.0.1.0/24
    ingress:
      - port: 80
        protocol: tcp
        action: allow
      - port: 22
        protocol: tcp
        action: deny
      - protocol: icmp
        action: allow
  - subnet: 10.0.2.0/24
    ingress:
      - port: 5432
        protocol: tcp
        action: allow
`

func TestParseRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(sampleRuleSet))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("got %d groups, want 2", len(rs.Rules))
	}
	group := rs.Rules[0]
	if group.Subnet != "10.0.1.0/24" || len(group.Ingress) != 3 {
		t.Fatalf("group = %+v", group)
	}
	// Order within a group is the install order.
	if group.Ingress[0].Port != 80 || group.Ingress[0].Action != ActionAllow {
		t.Errorf("first rule = %+v, want allow tcp 80", group.Ingress[0])
	}
	if group.Ingress[1].Action != ActionDeny {
		t.Errorf("second rule = %+v, want deny", group.Ingress[1])
	}
	if group.Ingress[2].Protocol != ProtoICMP {
		t.Errorf("third rule = %+v, want icmp", group.Ingress[2])
	}
}

func TestParseRuleSetRejects(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{"not yaml", `{{{`},
		{"empty", `rules: []`},
		{"bad subnet", "rules:\n  - subnet: nonsense\n    ingress:\n      - {port: 80, protocol: tcp, action: allow}"},
		{"bad port", "rules:\n  - subnet: 10.0.1.0/24\n    ingress:\n      - {port: 99999, protocol: tcp, action: allow}"},
		{"missing port", "rules:\n  - subnet: 10.0.1.0/24\n    ingress:\n      - {protocol: tcp, action: allow}"},
		{"bad protocol", "rules:\n  - subnet: 10.0.1.0/24\n    ingress:\n      - {port: 80, protocol: sctp, action: allow}"},
		{"bad action", "rules:\n  - subnet: 10.0.1.0/24\n    ingress:\n      - {port: 80, protocol: tcp, action: reject}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRuleSet([]byte(tc.source)); !errors.Is(err, errdefs.ErrInvalidArgument) {
				t.Errorf("ParseRuleSet = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
