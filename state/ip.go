package state

import (
	"fmt"
	"net"
	"net/netip"

	ciliumip "github.com/cilium/cilium/pkg/ip"
)

// SubtractPrefix removes the excluded sub-ranges from base, returning
// the remaining coverage as a minimal set of prefixes. Grounded on
// prefixalloc's need to hand out sub-blocks of a seed_prefix without
// reissuing already-allocated space, spec.md §4.7.
func SubtractPrefix(base netip.Prefix, exclude []netip.Prefix) ([]netip.Prefix, error) {
	baseNet, err := toIPNet(base)
	if err != nil {
		return nil, err
	}
	excludeNets := make([]*net.IPNet, 0, len(exclude))
	for _, e := range exclude {
		n, err := toIPNet(e)
		if err != nil {
			return nil, err
		}
		excludeNets = append(excludeNets, n)
	}
	remaining := ciliumip.RemoveCIDRs([]*net.IPNet{baseNet}, excludeNets)
	return fromIPNets(remaining)
}

// CoalescePrefix merges adjacent, equal-length sibling prefixes into
// their common parent wherever possible, used to keep prefixalloc's
// free-list compact rather than growing without bound, spec.md §4.7.
func CoalescePrefix(prefixes []netip.Prefix) ([]netip.Prefix, error) {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		n, err := toIPNet(p)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	coalesced, _ := ciliumip.CoalesceCIDRs(nets)
	return fromIPNets(coalesced)
}

func toIPNet(p netip.Prefix) (*net.IPNet, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid prefix")
	}
	addr := p.Addr()
	var ip net.IP
	if addr.Is4() {
		a := addr.As4()
		ip = net.IP(a[:])
	} else {
		a := addr.As16()
		ip = net.IP(a[:])
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(p.Bits(), addr.BitLen()),
	}, nil
}

func fromIPNets(nets []*net.IPNet) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		addr, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			return nil, fmt.Errorf("invalid ip in coalesced result: %v", n.IP)
		}
		ones, _ := n.Mask.Size()
		out = append(out, netip.PrefixFrom(addr.Unmap(), ones))
	}
	return out, nil
}
