//go:build linux

package forward

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

const (
	natTable = "nat"
	natChain = "OPENPORT"
)

// dnatRedirector keeps DNAT rules in a dedicated nat-table chain jumped
// to from PREROUTING, the closest Linux equivalent of a v4-to-v4
// port-redirection table.
type dnatRedirector struct {
	ipt *iptables.IPTables
}

// NewRedirector returns the iptables DNAT-backed redirection surface.
func NewRedirector() (Redirector, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to open iptables: %w", err)
	}

	exists, err := ipt.ChainExists(natTable, natChain)
	if err != nil {
		return nil, fmt.Errorf("failed to check nat chain: %w", err)
	}
	if !exists {
		if err := ipt.NewChain(natTable, natChain); err != nil {
			return nil, fmt.Errorf("failed to create nat chain: %w", err)
		}
	}
	if err := ipt.AppendUnique(natTable, "PREROUTING", "-j", natChain); err != nil {
		return nil, fmt.Errorf("failed to hook nat chain: %w", err)
	}
	return &dnatRedirector{ipt: ipt}, nil
}

func (r *dnatRedirector) List() ([]Entry, error) {
	lines, err := r.ipt.List(natTable, natChain)
	if err != nil {
		return nil, fmt.Errorf("failed to list nat chain: %w", err)
	}

	var entries []Entry
	for _, line := range lines {
		entry, ok := parseDNATRule(line)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *dnatRedirector) Add(e Entry) error {
	err := r.ipt.AppendUnique(natTable, natChain, dnatSpec(e)...)
	if err != nil {
		return fmt.Errorf("failed to add DNAT rule: %w", err)
	}
	return nil
}

func (r *dnatRedirector) Delete(listenAddr string, listenPort uint16) error {
	entries, err := r.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ListenPort != listenPort {
			continue
		}
		if err := r.ipt.DeleteIfExists(natTable, natChain, dnatSpec(e)...); err != nil {
			return fmt.Errorf("failed to delete DNAT rule: %w", err)
		}
	}
	return nil
}

func dnatSpec(e Entry) []string {
	return []string{
		"-p", "tcp",
		"--dport", strconv.Itoa(int(e.ListenPort)),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", e.ConnectAddr, e.ConnectPort),
	}
}

// parseDNATRule decodes one iptables -S line written by dnatSpec.
func parseDNATRule(line string) (Entry, bool) {
	fields := strings.Fields(line)
	entry := Entry{ListenAddr: ListenAddress}
	var sawPort, sawDest bool
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "--dport":
			port, err := strconv.ParseUint(fields[i+1], 10, 16)
			if err != nil {
				return Entry{}, false
			}
			entry.ListenPort = uint16(port)
			sawPort = true
		case "--to-destination":
			host, portStr, ok := splitHostPort(fields[i+1])
			if !ok {
				return Entry{}, false
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return Entry{}, false
			}
			entry.ConnectAddr = host
			entry.ConnectPort = uint16(port)
			sawDest = true
		}
	}
	return entry, sawPort && sawDest
}

func splitHostPort(value string) (host, port string, ok bool) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 || idx == len(value)-1 {
		return "", "", false
	}
	return value[:idx], value[idx+1:], true
}
