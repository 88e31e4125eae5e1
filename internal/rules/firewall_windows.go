//go:build windows

package rules

import (
	"fmt"
	"os/exec"
	"strings"
)

// netshFirewall drives Windows Defender Firewall through netsh
// advfirewall. The host has no concept of this tool's ownership, so
// every operation is scoped by the rule-name prefix.
type netshFirewall struct {
	profiles []string
}

// NewFirewall returns the netsh-backed filter control surface. profiles
// lists the firewall profiles new rules are scoped to (domain, private,
// public, or any).
func NewFirewall(profiles []string) (Firewall, error) {
	if _, err := exec.LookPath("netsh"); err != nil {
		return nil, fmt.Errorf("netsh.exe not found in PATH: %w", err)
	}
	if len(profiles) == 0 {
		profiles = []string{"any"}
	}
	return &netshFirewall{profiles: profiles}, nil
}

// List bulk-loads every rule matching prefix in a single netsh query.
func (f *netshFirewall) List(prefix string) (map[string]LiveRule, error) {
	out, err := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name=all").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query firewall rules: %w", err)
	}

	live := make(map[string]LiveRule)
	var current string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Rule Name:") {
			current = strings.TrimSpace(strings.TrimPrefix(line, "Rule Name:"))
			if !strings.HasPrefix(current, prefix) {
				current = ""
				continue
			}
			live[current] = LiveRule{Name: current}
			continue
		}
		if current != "" && strings.HasPrefix(line, "Enabled:") {
			rule := live[current]
			rule.Enabled = strings.Contains(line, "Yes")
			live[current] = rule
		}
	}
	return live, nil
}

func (f *netshFirewall) Create(name string, port uint16, proto Protocol, enabled bool) error {
	out, err := exec.Command("netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name,
		"dir=in",
		"action=allow",
		"protocol="+strings.ToUpper(string(proto)),
		fmt.Sprintf("localport=%d", port),
		"enable="+yesNo(enabled),
		"profile="+strings.Join(f.profiles, ","),
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("netsh add rule failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (f *netshFirewall) SetEnabled(name string, enabled bool) error {
	out, err := exec.Command("netsh", "advfirewall", "firewall", "set", "rule",
		"name="+name, "new", "enable="+yesNo(enabled),
	).CombinedOutput()
	if err != nil {
		if isNoRulesMatch(out) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("netsh set rule failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (f *netshFirewall) Delete(name string) error {
	out, err := exec.Command("netsh", "advfirewall", "firewall", "delete", "rule",
		"name="+name,
	).CombinedOutput()
	if err != nil {
		if isNoRulesMatch(out) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("netsh delete rule failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func isNoRulesMatch(out []byte) bool {
	return strings.Contains(string(out), "No rules match the specified criteria")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
