// Package naming derives all kernel object names and subnet addresses used by
// the topology managers. Every function is pure so the scheme can be tested
// without touching the kernel.
//
// Interface names are capped at 15 characters by the kernel, so derived link
// names combine a role marker, truncated fragments of the owning names and a
// 4-hex-digit FNV suffix. Distinct inputs that still map to the same name are
// reported by the managers as a name collision instead of being reused.
package naming

import (
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strings"

	"github.com/Holladworld/vpc-project/internal/errdefs"
)

// IfaceNameMax is the kernel's IFNAMSIZ-1 limit on interface names.
const IfaceNameMax = 15

// SubnetType distinguishes the two subnet flavours a VPC can hold.
type SubnetType string

const (
	SubnetPublic  SubnetType = "public"
	SubnetPrivate SubnetType = "private"
)

// ParseSubnetType validates a user-supplied subnet type.
func ParseSubnetType(s string) (SubnetType, error) {
	switch SubnetType(s) {
	case SubnetPublic:
		return SubnetPublic, nil
	case SubnetPrivate:
		return SubnetPrivate, nil
	default:
		return "", fmt.Errorf("%w: subnet type %q (want public or private)", errdefs.ErrInvalidArgument, s)
	}
}

const namespacePrefix = "ns-"

func hash4(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%04x", h.Sum32()&0xffff)
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Bridge derives the bridge device name for a VPC. "br-" + 8 chars of the
// name + 4 hash chars keeps the result within IfaceNameMax even for long
// VPC names while staying readable for short ones.
func Bridge(vpc string) string {
	return "br-" + head(vpc, 8) + hash4(vpc)
}

// Namespace derives the network namespace name for a subnet. Namespace names
// have no kernel length bound, so the full VPC name is kept.
func Namespace(vpc string, t SubnetType) string {
	return namespacePrefix + vpc + "-" + string(t)
}

// ParseNamespace is the inverse of Namespace. It reports ok=false for
// namespaces that do not follow this system's convention.
func ParseNamespace(ns string) (vpc string, t SubnetType, ok bool) {
	rest, found := strings.CutPrefix(ns, namespacePrefix)
	if !found {
		return "", "", false
	}
	for _, typ := range []SubnetType{SubnetPublic, SubnetPrivate} {
		if v, found := strings.CutSuffix(rest, "-"+string(typ)); found && v != "" {
			return v, typ, true
		}
	}
	return "", "", false
}

// IsManagedNamespace reports whether ns was derived by Namespace.
func IsManagedNamespace(ns string) bool {
	_, _, ok := ParseNamespace(ns)
	return ok
}

// SubnetLinks derives the veth pair names for a subnet: the host side stays
// attached to the VPC bridge, the namespace side is moved into the subnet
// namespace. Both embed the same hash so the pair is recognizable.
func SubnetLinks(vpc string, t SubnetType) (hostSide, nsSide string) {
	suffix := head(vpc, 5) + head(string(t), 3) + hash4(vpc+"/"+string(t))
	return "vh" + suffix, "vn" + suffix
}

// PeeringLinks derives the veth pair names for a peering between two VPCs.
// The pair is order-independent: callers get the same names regardless of
// argument order, with the first return attached to the lexically smaller
// VPC's bridge.
func PeeringLinks(vpcA, vpcB string) (linkA, linkB string) {
	a, b := NormalizePair(vpcA, vpcB)
	suffix := head(a, 3) + head(b, 3) + hash4(a+"|"+b)
	return "pa-" + suffix, "pb-" + suffix
}

// NormalizePair returns the two VPC names in their canonical (sorted) order,
// the order under which peering records are stored.
func NormalizePair(a, b string) (string, string) {
	p := []string{a, b}
	sort.Strings(p)
	return p[0], p[1]
}

// Gateway computes a VPC or subnet gateway from its CIDR: the network address
// with the last octet set to 1. The second return carries the prefix length
// for direct assignment to the bridge.
func Gateway(cidr string) (ip string, withPrefix string, err error) {
	return hostOctet(cidr, 1)
}

// NamespaceAddr computes the single in-namespace host address for a subnet:
// the network address with the last octet set to 2, mirroring the bridge's .1.
func NamespaceAddr(cidr string) (ip string, withPrefix string, err error) {
	return hostOctet(cidr, 2)
}

func hostOctet(cidr string, last byte) (string, string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad CIDR %q: %v", errdefs.ErrInvalidArgument, cidr, err)
	}
	v4 := ipnet.IP.To4()
	if v4 == nil {
		return "", "", fmt.Errorf("%w: CIDR %q is not IPv4", errdefs.ErrInvalidArgument, cidr)
	}
	addr := make(net.IP, len(v4))
	copy(addr, v4)
	addr[3] = last
	ones, _ := ipnet.Mask.Size()
	return addr.String(), fmt.Sprintf("%s/%d", addr, ones), nil
}

// SubnetCIDR recovers a subnet's CIDR from an assigned address with prefix,
// by zeroing the host bits. Used by the NAT manager, which only sees the
// namespace-side address.
func SubnetCIDR(addrWithPrefix string) (string, error) {
	ip, ipnet, err := net.ParseCIDR(addrWithPrefix)
	if err != nil {
		return "", fmt.Errorf("%w: bad address %q: %v", errdefs.ErrInvalidArgument, addrWithPrefix, err)
	}
	ipnet.IP = ip.Mask(ipnet.Mask)
	return ipnet.String(), nil
}
