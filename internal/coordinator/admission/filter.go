// Package admission implements address-based banlist enforcement: a
// pure function of configuration and input address, with no external
// collaborators.
package admission

import "net/netip"

// Filter answers whether an address is on the never-contact list.
type Filter struct {
	rules []netip.Prefix
}

// New builds a Filter from the configured never-contact network/prefix
// rules. Both IPv4 and IPv6 prefixes are held in a single list;
// netip.Prefix.Contains already does the right thing for either family
// without needing a separate list per address family.
func New(rules []netip.Prefix) *Filter {
	cp := make([]netip.Prefix, len(rules))
	copy(cp, rules)
	return &Filter{rules: cp}
}

// IsBanned reports whether address is matched by any configured rule.
func (f *Filter) IsBanned(address netip.Addr) bool {
	address = address.Unmap()
	for _, rule := range f.rules {
		if rule.Contains(address) {
			return true
		}
	}
	return false
}
