//go:build linux

package rules

import (
	"fmt"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

const (
	nftTable = "openport"
	nftChain = "inbound"
)

// nftFirewall keeps managed rules in a dedicated inet table so they
// coexist with whatever the host already runs. Rule identity (name and
// enabled state) is carried in the rule's userdata; a disabled rule
// keeps its match expressions but drops the accept verdict.
type nftFirewall struct {
	conn *nftables.Conn
}

// NewFirewall returns the nftables-backed filter control surface. The
// profiles argument only has meaning on Windows and is ignored here.
func NewFirewall(profiles []string) (Firewall, error) {
	fw := &nftFirewall{conn: &nftables.Conn{}}
	if _, _, err := fw.ensureChain(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (f *nftFirewall) ensureChain() (*nftables.Table, *nftables.Chain, error) {
	table := f.conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyINet,
		Name:   nftTable,
	})
	chain := f.conn.AddChain(&nftables.Chain{
		Name:     nftChain,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
	})
	if err := f.conn.Flush(); err != nil {
		return nil, nil, fmt.Errorf("failed to set up nftables table: %w", err)
	}
	return table, chain, nil
}

func (f *nftFirewall) List(prefix string) (map[string]LiveRule, error) {
	table, chain, err := f.ensureChain()
	if err != nil {
		return nil, err
	}
	nfRules, err := f.conn.GetRule(table, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list nftables rules: %w", err)
	}

	live := make(map[string]LiveRule)
	for _, r := range nfRules {
		name, enabled, ok := decodeUserData(r.UserData)
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		live[name] = LiveRule{Name: name, Enabled: enabled}
	}
	return live, nil
}

func (f *nftFirewall) Create(name string, port uint16, proto Protocol, enabled bool) error {
	table, chain, err := f.ensureChain()
	if err != nil {
		return err
	}
	f.conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    ruleExprs(port, proto, enabled),
		UserData: encodeUserData(name, enabled),
	})
	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("failed to add nftables rule: %w", err)
	}
	return nil
}

// SetEnabled swaps the rule's verdict by replacing the rule within one
// batch; the name and match expressions are preserved.
func (f *nftFirewall) SetEnabled(name string, enabled bool) error {
	table, chain, old, err := f.find(name)
	if err != nil {
		return err
	}

	port, proto, ok := decodeMatch(old.Exprs)
	if !ok {
		return fmt.Errorf("rule %q has an unrecognized expression list", name)
	}
	if err := f.conn.DelRule(old); err != nil {
		return fmt.Errorf("failed to stage rule replacement: %w", err)
	}
	f.conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    ruleExprs(port, proto, enabled),
		UserData: encodeUserData(name, enabled),
	})
	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("failed to update nftables rule: %w", err)
	}
	return nil
}

func (f *nftFirewall) Delete(name string) error {
	_, _, rule, err := f.find(name)
	if err != nil {
		return err
	}
	if err := f.conn.DelRule(rule); err != nil {
		return fmt.Errorf("failed to stage rule deletion: %w", err)
	}
	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("failed to delete nftables rule: %w", err)
	}
	return nil
}

func (f *nftFirewall) find(name string) (*nftables.Table, *nftables.Chain, *nftables.Rule, error) {
	table, chain, err := f.ensureChain()
	if err != nil {
		return nil, nil, nil, err
	}
	nfRules, err := f.conn.GetRule(table, chain)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list nftables rules: %w", err)
	}
	for _, r := range nfRules {
		if n, _, ok := decodeUserData(r.UserData); ok && n == name {
			return table, chain, r, nil
		}
	}
	return nil, nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func ruleExprs(port uint16, proto Protocol, enabled bool) []expr.Any {
	l4 := unix.IPPROTO_TCP
	if proto == ProtocolUDP {
		l4 = unix.IPPROTO_UDP
	}
	exprs := []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{byte(l4)}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2, // destination port
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(port)},
		&expr.Counter{},
	}
	if enabled {
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	}
	return exprs
}

// decodeMatch recovers (port, protocol) from a rule built by ruleExprs.
func decodeMatch(exprs []expr.Any) (uint16, Protocol, bool) {
	var port uint16
	proto := Protocol("")
	for _, e := range exprs {
		cmp, ok := e.(*expr.Cmp)
		if !ok {
			continue
		}
		switch len(cmp.Data) {
		case 1:
			if cmp.Data[0] == unix.IPPROTO_UDP {
				proto = ProtocolUDP
			} else {
				proto = ProtocolTCP
			}
		case 2:
			port = uint16(cmp.Data[0])<<8 | uint16(cmp.Data[1])
		}
	}
	return port, proto, proto != "" && port != 0
}

func encodeUserData(name string, enabled bool) []byte {
	state := "0"
	if enabled {
		state = "1"
	}
	return []byte(name + "\x00" + state)
}

func decodeUserData(data []byte) (name string, enabled bool, ok bool) {
	parts := strings.SplitN(string(data), "\x00", 2)
	if len(parts) != 2 {
		return "", false, false
	}
	return parts[0], parts[1] == "1", true
}
