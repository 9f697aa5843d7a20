// Package router provides the L3/ModeRouter adapter's masquerade and
// forwarding setup: a small, mutex-guarded wrapper around
// github.com/google/nftables that manages its own tagged NAT/forward
// rules without touching whatever else is already in the host's
// ruleset. It is exercised only when Configuration.AdapterMode is
// ModeRouter: cmd/nodecoordd opens one Driver at startup and defers
// Close, which tears the same tagged rules back down, mirroring the
// coordinator's own Open/Close symmetry.
package router

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	nft "github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
)

const (
	fwdChainName = "NODECOORD-FWD"
	ifNameMaxLen = 15 // IFNAMSIZ-1
)

// Driver enables IPv4 masquerade (mandatory) and IPv6 masquerade
// (best-effort) plus bidirectional forwarding between one TUN device
// and one external interface, tagging every rule it creates so Close
// can find and remove exactly those rules again. A Driver is meant to
// be opened once for the lifetime of a router-mode node; it is not
// safe to reuse across a second, different device pair.
type Driver struct {
	tags Tags
	cfg  Config

	mu     sync.Mutex
	conn   *nft.Conn
	closed bool

	tunName, devName       string
	masqueradeUp           bool
	tunToDevUp, devToTunUp bool
}

// Config tunes the driver's netlink retry policy and the priorities it
// assigns to base chains it has to create (iptables-nft compatible
// defaults).
type Config struct {
	MaxNetlinkRetries int
	RetryBackoff      time.Duration

	NatPostroutingPrio int
	FilterForwardPrio  int

	AllowCreateForwardBase     bool
	SetForwardBasePolicyAccept bool
}

func DefaultConfig() Config {
	return Config{
		MaxNetlinkRetries:          3,
		RetryBackoff:               80 * time.Millisecond,
		NatPostroutingPrio:         100,
		FilterForwardPrio:          0,
		AllowCreateForwardBase:     true,
		SetForwardBasePolicyAccept: false,
	}
}

func New() (*Driver, error) { return NewWithConfig(DefaultConfig()) }

func NewWithConfig(cfg Config) (*Driver, error) {
	c, err := nft.New(nft.AsLasting())
	if err != nil {
		return nil, fmt.Errorf("nftables conn: %w", err)
	}
	return &Driver{conn: c, cfg: cfg, tags: NewDefaultTags()}, nil
}

// Close tears down whichever rules this driver enabled, in reverse
// order of EnableDevMasquerade/EnableForwardingFromTunToDev/
// EnableForwardingFromDevToTun, then closes the netlink connection. It
// is idempotent: a Driver that enabled nothing just closes the
// connection, and a second Close is a no-op.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	tun, dev := d.tunName, d.devName
	devToTunUp, tunToDevUp, masqueradeUp := d.devToTunUp, d.tunToDevUp, d.masqueradeUp
	conn := d.conn
	d.mu.Unlock()

	var errs []error
	if devToTunUp {
		if err := d.disableForwardingFromDevToTun(tun, dev); err != nil {
			errs = append(errs, fmt.Errorf("teardown dev->tun forwarding: %w", err))
		}
	}
	if tunToDevUp {
		if err := d.disableForwardingFromTunToDev(tun, dev); err != nil {
			errs = append(errs, fmt.Errorf("teardown tun->dev forwarding: %w", err))
		}
	}
	if masqueradeUp {
		if err := d.disableMasquerade(dev); err != nil {
			errs = append(errs, fmt.Errorf("teardown masquerade: %w", err))
		}
	}

	d.mu.Lock()
	d.closed = true
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		if err := conn.CloseLasting(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnableDevMasquerade appends "oif <dev> masquerade" to nat/POSTROUTING,
// creating the table/chain on this host if neither exists yet. IPv6 is
// best-effort: a kernel/table that doesn't support ip6 nat is ignored.
func (d *Driver) EnableDevMasquerade(dev string) error {
	if err := validateIfName(dev); err != nil {
		return err
	}
	err := d.withRetry(func() error {
		t4, ch4, err := d.ensureNatPostrouting(nft.TableFamilyIPv4)
		if err != nil {
			return err
		}
		if err := d.addTaggedRule(t4, ch4, d.tags.tagMasq4(dev), exprMasqOIF(dev)); err != nil {
			return err
		}

		t6, ch6, err := d.ensureNatPostrouting(nft.TableFamilyIPv6)
		if err != nil {
			if isNatUnsupported(err) {
				return nil
			}
			return err
		}
		if err := d.addTaggedRule(t6, ch6, d.tags.tagMasq6(dev), exprMasqOIF(dev)); err != nil && !isNatUnsupported(err) {
			return err
		}
		return nil
	})
	if err == nil {
		d.mu.Lock()
		d.devName, d.masqueradeUp = dev, true
		d.mu.Unlock()
	}
	return err
}

func (d *Driver) disableMasquerade(dev string) error {
	return d.withRetry(func() error {
		if t, ch, ok := d.lookupChain(nft.TableFamilyIPv4, "nat", "POSTROUTING"); ok {
			if err := d.delTaggedRules(t, ch, d.tags.tagMasq4(dev)); err != nil {
				return err
			}
		}
		if t6, ch6, ok := d.lookupChain(nft.TableFamilyIPv6, "nat", "POSTROUTING"); ok {
			if err := d.delTaggedRules(t6, ch6, d.tags.tagMasq6(dev)); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnableForwardingFromTunToDev appends "iif tun oif dev accept" to a
// user chain jumped to from filter/FORWARD, creating both chains and
// the jump if missing. IPv6 is best-effort.
func (d *Driver) EnableForwardingFromTunToDev(tun, dev string) error {
	if err := validateIfName(tun); err != nil {
		return err
	}
	if err := validateIfName(dev); err != nil {
		return err
	}
	err := d.withRetry(func() error {
		t, fwd, child, err := d.ensureFilterUserChain(nft.TableFamilyIPv4, fwdChainName)
		if err != nil {
			return err
		}
		if err := d.ensureJump(t, fwd, child.Name); err != nil {
			return err
		}
		if err := d.addTaggedRule(t, child, d.tags.tagV4Fwd(tun, dev), exprAcceptIIFtoOIF(tun, dev)); err != nil {
			return err
		}

		t6, fwd6, child6, err := d.ensureFilterUserChain(nft.TableFamilyIPv6, fwdChainName)
		if err != nil {
			if isAFNotSupported(err) {
				return nil
			}
			return err
		}
		if err := d.ensureJump(t6, fwd6, child6.Name); err != nil {
			return err
		}
		return d.addTaggedRule(t6, child6, d.tags.tagV6Fwd(tun, dev), exprAcceptIIFtoOIF(tun, dev))
	})
	if err == nil {
		d.mu.Lock()
		d.tunName, d.devName, d.tunToDevUp = tun, dev, true
		d.mu.Unlock()
	}
	return err
}

func (d *Driver) disableForwardingFromTunToDev(tun, dev string) error {
	return d.withRetry(func() error {
		if t, ch, ok := d.lookupFilterUserChain(nft.TableFamilyIPv4, fwdChainName); ok {
			if err := d.delTaggedRules(t, ch, d.tags.tagV4Fwd(tun, dev)); err != nil {
				return err
			}
		}
		if t6, ch6, ok := d.lookupFilterUserChain(nft.TableFamilyIPv6, fwdChainName); ok {
			if err := d.delTaggedRules(t6, ch6, d.tags.tagV6Fwd(tun, dev)); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnableForwardingFromDevToTun appends the return-path rule: "iif dev
// oif tun ctstate ESTABLISHED,RELATED accept".
func (d *Driver) EnableForwardingFromDevToTun(tun, dev string) error {
	if err := validateIfName(tun); err != nil {
		return err
	}
	if err := validateIfName(dev); err != nil {
		return err
	}
	err := d.withRetry(func() error {
		t, fwd, child, err := d.ensureFilterUserChain(nft.TableFamilyIPv4, fwdChainName)
		if err != nil {
			return err
		}
		if err := d.ensureJump(t, fwd, child.Name); err != nil {
			return err
		}
		if err := d.addTaggedRule(t, child, d.tags.tagV4FwdRet(dev, tun), exprAcceptEstablished(dev, tun)); err != nil {
			return err
		}

		t6, fwd6, child6, err := d.ensureFilterUserChain(nft.TableFamilyIPv6, fwdChainName)
		if err != nil {
			if isAFNotSupported(err) {
				return nil
			}
			return err
		}
		if err := d.ensureJump(t6, fwd6, child6.Name); err != nil {
			return err
		}
		return d.addTaggedRule(t6, child6, d.tags.tagV6FwdRet(dev, tun), exprAcceptEstablished(dev, tun))
	})
	if err == nil {
		d.mu.Lock()
		d.tunName, d.devName, d.devToTunUp = tun, dev, true
		d.mu.Unlock()
	}
	return err
}

func (d *Driver) disableForwardingFromDevToTun(tun, dev string) error {
	return d.withRetry(func() error {
		if t, ch, ok := d.lookupFilterUserChain(nft.TableFamilyIPv4, fwdChainName); ok {
			if err := d.delTaggedRules(t, ch, d.tags.tagV4FwdRet(dev, tun)); err != nil {
				return err
			}
		}
		if t6, ch6, ok := d.lookupFilterUserChain(nft.TableFamilyIPv6, fwdChainName); ok {
			if err := d.delTaggedRules(t6, ch6, d.tags.tagV6FwdRet(dev, tun)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExternalInterface returns the uplink interface name the host's
// default route points at, checking the IPv4 routing table first and
// falling back to IPv6. Callers pass the result as the dev argument to
// EnableDevMasquerade/EnableForwardingFromTunToDev/
// EnableForwardingFromDevToTun: masquerading or forwarding onto the
// TUN device itself would send traffic nowhere instead of out to the
// internet.
func ExternalInterface() (string, error) {
	if iface, err := parseDefaultRouteDev("ip", "route"); err == nil {
		return iface, nil
	}
	if iface, err := parseDefaultRouteDev("ip", "-6", "route"); err == nil {
		return iface, nil
	}
	return "", fmt.Errorf("router: no default route in the IPv4 or IPv6 routing table")
}

// parseDefaultRouteDev runs the given ip-route invocation and extracts
// the interface name from the first "default" line's "dev" field.
func parseDefaultRouteDev(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "default") {
			continue
		}
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "dev" && i+1 < len(fields) {
				return fields[i+1], nil
			}
		}
	}
	return "", fmt.Errorf("router: no default route found in %q output", name)
}

// -------------------- internals --------------------

func (d *Driver) withRetry(op func() error) error {
	var last error
	maxRetries := d.cfg.MaxNetlinkRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	for i := 0; i < maxRetries; i++ {
		if i > 0 && d.cfg.RetryBackoff > 0 {
			base := d.cfg.RetryBackoff
			j := time.Duration(rand.Int63n(int64(base)))
			time.Sleep(base + j)
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return errors.New("nft driver is closed")
		}
		if i > 0 || d.conn == nil {
			if err := d.resetConnLocked(); err != nil {
				d.mu.Unlock()
				return err
			}
		}
		err := op()
		d.mu.Unlock()

		if err == nil {
			return nil
		}
		last = err
		if isSeqMismatch(err) || isTransientNetlink(err) {
			continue
		}
		return err
	}
	return last
}

func isTransientNetlink(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETDOWN) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(strings.ToLower(err.Error()), "resource busy") ||
		strings.Contains(strings.ToLower(err.Error()), "try again") ||
		strings.Contains(strings.ToLower(err.Error()), "timed out") ||
		strings.Contains(strings.ToLower(err.Error()), "no buffer space")
}

func (d *Driver) resetConnLocked() error {
	if d.conn != nil {
		_ = d.conn.CloseLasting()
	}
	c, err := nft.New(nft.AsLasting())
	if err != nil {
		return err
	}
	d.conn = c
	return nil
}

func (d *Driver) ensureNatPostrouting(fam nft.TableFamily) (*nft.Table, *nft.Chain, error) {
	t, ch, err := d.getChain(fam, "nat", "POSTROUTING")
	if err == nil {
		if !chainIsBase(ch, nft.ChainTypeNAT, *nft.ChainHookPostrouting) {
			return nil, nil, fmt.Errorf("nat/POSTROUTING exists but is not a base NAT chain")
		}
		return t, ch, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	if t == nil {
		t = &nft.Table{Family: fam, Name: "nat"}
		d.conn.AddTable(t)
	}
	h := *nft.ChainHookPostrouting
	p := nft.ChainPriority(d.cfg.NatPostroutingPrio)
	ch = &nft.Chain{Table: t, Name: "POSTROUTING", Type: nft.ChainTypeNAT, Hooknum: &h, Priority: &p}
	d.conn.AddChain(ch)
	if err := d.conn.Flush(); err != nil {
		return nil, nil, fmt.Errorf("create nat/POSTROUTING on %v: %w", fam, err)
	}
	return t, ch, nil
}

func chainIsBase(ch *nft.Chain, wantType nft.ChainType, wantHook nft.ChainHook) bool {
	return ch != nil && ch.Type == wantType && ch.Hooknum != nil && *ch.Hooknum == wantHook
}

// ensureFilterUserChain ensures filter/FORWARD exists (creating it if
// this host allows it) and that a user chain named childName exists in
// the same table, ready to be jumped to.
func (d *Driver) ensureFilterUserChain(fam nft.TableFamily, childName string) (tbl *nft.Table, fwd *nft.Chain, child *nft.Chain, err error) {
	tbl, fwd, err = d.getChain(fam, "filter", "FORWARD")
	switch {
	case err == nil:
		if !chainIsBase(fwd, nft.ChainTypeFilter, *nft.ChainHookForward) {
			return nil, nil, nil, fmt.Errorf("filter/FORWARD exists but is not a base filter chain")
		}
	case errors.Is(err, os.ErrNotExist):
		if tbl == nil {
			tbl = &nft.Table{Family: fam, Name: "filter"}
			d.conn.AddTable(tbl)
		}
		if !d.cfg.AllowCreateForwardBase {
			return nil, nil, nil, fmt.Errorf("filter/FORWARD base chain missing and creation disabled")
		}
		h := *nft.ChainHookForward
		p := nft.ChainPriority(d.cfg.FilterForwardPrio)
		fwd = &nft.Chain{Table: tbl, Name: "FORWARD", Type: nft.ChainTypeFilter, Hooknum: &h, Priority: &p}
		if d.cfg.SetForwardBasePolicyAccept {
			pol := nft.ChainPolicyAccept
			fwd.Policy = &pol
		}
		d.conn.AddChain(fwd)
		if e := d.conn.Flush(); e != nil {
			return nil, nil, nil, fmt.Errorf("create filter/FORWARD on %v: %w", fam, e)
		}
	default:
		return nil, nil, nil, err
	}

	_, child, err = d.getChain(fam, "filter", childName)
	if errors.Is(err, os.ErrNotExist) {
		child = &nft.Chain{Table: tbl, Name: childName}
		d.conn.AddChain(child)
		if e := d.conn.Flush(); e != nil {
			return nil, nil, nil, fmt.Errorf("create filter/%s on %v: %w", childName, fam, e)
		}
	} else if err != nil {
		return nil, nil, nil, err
	}
	return tbl, fwd, child, nil
}

// ensureJump makes sure filter/FORWARD has a tagged jump rule to
// childName, adding one if none of our tagged rules is present yet.
func (d *Driver) ensureJump(t *nft.Table, fwd *nft.Chain, childName string) error {
	tag := d.tags.tagHookJump(childName)
	rules, err := d.conn.GetRules(t, fwd)
	if err != nil {
		return fmt.Errorf("get rules %s/%s: %w", t.Name, fwd.Name, err)
	}
	for _, r := range rules {
		if hasTag(r, tag) {
			return nil
		}
	}
	d.conn.AddRule(&nft.Rule{Table: t, Chain: fwd, Exprs: exprJumpTo(childName), UserData: tag})
	return d.conn.Flush()
}

// addTaggedRule appends exprs tagged with tag to ch, unless a rule with
// that tag is already present (idempotent across restarts).
func (d *Driver) addTaggedRule(t *nft.Table, ch *nft.Chain, tag []byte, exprs []expr.Any) error {
	rules, err := d.conn.GetRules(t, ch)
	if err != nil {
		return fmt.Errorf("get rules %s/%s: %w", t.Name, ch.Name, err)
	}
	for _, r := range rules {
		if hasTag(r, tag) {
			return nil
		}
	}
	d.conn.AddRule(&nft.Rule{Table: t, Chain: ch, Exprs: exprs, UserData: tag})
	return d.conn.Flush()
}

// delTaggedRules removes every rule in ch carrying tag.
func (d *Driver) delTaggedRules(t *nft.Table, ch *nft.Chain, tag []byte) error {
	if t == nil || ch == nil {
		return nil
	}
	rules, err := d.conn.GetRules(t, ch)
	if err != nil {
		return fmt.Errorf("get rules %s/%s: %w", t.Name, ch.Name, err)
	}
	var changed bool
	for _, r := range rules {
		if hasTag(r, tag) {
			d.conn.DelRule(r)
			changed = true
		}
	}
	if changed {
		return d.conn.Flush()
	}
	return nil
}

func hasTag(r *nft.Rule, tag []byte) bool {
	if r == nil || r.UserData == nil || tag == nil {
		return false
	}
	if len(r.UserData) != len(tag) {
		return false
	}
	for i := range tag {
		if r.UserData[i] != tag[i] {
			return false
		}
	}
	return true
}

func (d *Driver) getChain(fam nft.TableFamily, tableName, chainName string) (*nft.Table, *nft.Chain, error) {
	tables, err := d.conn.ListTables()
	if err != nil {
		return nil, nil, fmt.Errorf("list tables: %w", err)
	}
	var tbl *nft.Table
	for _, t := range tables {
		if t.Family == fam && t.Name == tableName {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, nil, os.ErrNotExist
	}
	chains, err := d.conn.ListChains()
	if err != nil {
		return nil, nil, fmt.Errorf("list chains: %w", err)
	}
	for _, ch := range chains {
		if ch.Table != nil && ch.Table.Family == fam && ch.Table.Name == tableName && ch.Name == chainName {
			return tbl, ch, nil
		}
	}
	return tbl, nil, os.ErrNotExist
}

func (d *Driver) lookupChain(fam nft.TableFamily, tableName, chainName string) (*nft.Table, *nft.Chain, bool) {
	t, ch, err := d.getChain(fam, tableName, chainName)
	return t, ch, err == nil && ch != nil
}

func (d *Driver) lookupFilterUserChain(fam nft.TableFamily, childName string) (*nft.Table, *nft.Chain, bool) {
	t, _, err := d.getChain(fam, "filter", "FORWARD")
	if err != nil {
		return nil, nil, false
	}
	_, child, err := d.getChain(fam, "filter", childName)
	if err != nil || child == nil {
		return nil, nil, false
	}
	return t, child, true
}

// -------- expr helpers --------

func zstr(s string) []byte { return append([]byte(s), 0x00) }

// -o dev -j MASQUERADE
func exprMasqOIF(dev string) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zstr(dev)},
		&expr.Masq{},
	}
}

// -i X -o Y -j ACCEPT
func exprAcceptIIFtoOIF(iif, oif string) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zstr(iif)},
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zstr(oif)},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

// -i dev -o tun -m state --state RELATED,ESTABLISHED -j ACCEPT
func exprAcceptEstablished(iif, oif string) []expr.Any {
	mask := binaryutil.BigEndian.PutUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED)
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zstr(iif)},
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zstr(oif)},
		&expr.Ct{Register: 1, Key: expr.CtKeySTATE},
		&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: mask, Xor: []byte{0, 0, 0, 0}},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

func exprJumpTo(chain string) []expr.Any {
	return []expr.Any{
		&expr.Verdict{Kind: expr.VerdictJump, Chain: chain},
	}
}

// -------- helpers --------

func validateIfName(s string) error {
	if s == "" {
		return errors.New("iface name is empty")
	}
	if strings.ContainsRune(s, '/') {
		return fmt.Errorf("iface name contains '/': %q", s)
	}
	if strings.IndexByte(s, 0x00) >= 0 {
		return fmt.Errorf("iface name contains NUL byte: %q", s)
	}
	if len(s) > ifNameMaxLen {
		return fmt.Errorf("iface name too long (max %d): %q", ifNameMaxLen, s)
	}
	return nil
}

func isAFNotSupported(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return errors.Is(err, syscall.EAFNOSUPPORT) ||
		strings.Contains(s, "address family not supported")
}

func isNatUnsupported(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return isAFNotSupported(err) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, syscall.EPROTONOSUPPORT) ||
		strings.Contains(s, "operation not supported") ||
		strings.Contains(s, "not supported by protocol")
}

func isSeqMismatch(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "mismatched sequence") ||
		strings.Contains(s, "sequence mismatch") ||
		strings.Contains(s, "wrong sequence")
}
