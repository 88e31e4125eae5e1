package forward

import (
	"fmt"
	"testing"

	"github.com/micrictor/openport/internal/rows"
	"github.com/micrictor/openport/internal/rules"
)

// fakeRedirector implements Redirector in memory keyed by listen port.
type fakeRedirector struct {
	entries map[uint16]Entry
	calls   int
	failOn  uint16
}

func newFakeRedirector(existing ...Entry) *fakeRedirector {
	f := &fakeRedirector{entries: make(map[uint16]Entry)}
	for _, e := range existing {
		f.entries[e.ListenPort] = e
	}
	return f
}

func (f *fakeRedirector) List() ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRedirector) Add(e Entry) error {
	f.calls++
	if e.ListenPort == f.failOn {
		return fmt.Errorf("add rejected")
	}
	f.entries[e.ListenPort] = e
	return nil
}

func (f *fakeRedirector) Delete(listenAddr string, listenPort uint16) error {
	f.calls++
	if listenPort == f.failOn {
		return fmt.Errorf("delete rejected")
	}
	delete(f.entries, listenPort)
	return nil
}

func TestPickTargetFirstNonEmptyWins(t *testing.T) {
	testCases := []struct {
		name      string
		addresses []string
		want      string
	}{
		{"empty then two distinct", []string{"", "10.0.0.5", "10.0.0.9"}, "10.0.0.5"},
		{"no addresses", []string{"", ""}, ""},
		{"single", []string{"192.168.1.2"}, "192.168.1.2"},
		{"same repeated", []string{"10.0.0.5", "10.0.0.5"}, "10.0.0.5"},
	}
	for _, tc := range testCases {
		var portRows []rows.PortRow
		for _, addr := range tc.addresses {
			portRows = append(portRows, rows.PortRow{ForwardAddress: addr})
		}
		if got := PickTarget(portRows); got != tc.want {
			t.Errorf("%s: PickTarget = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func forwardUnits() []rules.Unit {
	return []rules.Unit{
		{Port: 80, Protocol: rules.ProtocolTCP, Description: "Web", Forwardable: true},
		{Port: 443, Protocol: rules.ProtocolTCP, Description: "TLS", Forwardable: true},
		{Port: 3000, Protocol: rules.ProtocolTCP, Description: "Local", Forwardable: false},
		{Port: 53, Protocol: rules.ProtocolUDP, Description: "DNS", Forwardable: false},
	}
}

func TestApplyFullReplace(t *testing.T) {
	// A stale entry with a wrong target must not survive an apply.
	stale := Entry{ListenAddr: ListenAddress, ListenPort: 80, ConnectAddr: "10.9.9.9", ConnectPort: 80}
	red := newFakeRedirector(stale, Entry{ListenAddr: ListenAddress, ListenPort: 9999, ConnectAddr: "10.9.9.9", ConnectPort: 9999})

	result := Apply(red, forwardUnits(), "172.20.0.2", false)
	if result.Added != 2 {
		t.Errorf("Added = %d, want 2", result.Added)
	}
	if result.Removed != 2 {
		t.Errorf("Removed = %d, want 2 replaced entries", result.Removed)
	}
	// The local-only TCP unit is an explicit skip; the UDP unit simply
	// does not participate.
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Errors)
	}

	if len(red.entries) != 2 {
		t.Fatalf("live table has %d entries, want 2", len(red.entries))
	}
	for port, entry := range red.entries {
		if entry.ConnectAddr != "172.20.0.2" {
			t.Errorf("port %d still targets %s", port, entry.ConnectAddr)
		}
		if entry.ConnectPort != entry.ListenPort {
			t.Errorf("port %d connect port %d differs from listen port", port, entry.ConnectPort)
		}
	}
}

func TestApplyErrorIsolation(t *testing.T) {
	red := newFakeRedirector()
	red.failOn = 80

	result := Apply(red, forwardUnits(), "172.20.0.2", false)
	if result.Errors != 1 {
		t.Errorf("Errors = %d, want 1", result.Errors)
	}
	if result.Added != 1 {
		t.Errorf("Added = %d, want 1 despite the failure", result.Added)
	}
}

func TestTeardownRemovesOnlyManagedPorts(t *testing.T) {
	foreign := Entry{ListenAddr: ListenAddress, ListenPort: 5432, ConnectAddr: "10.0.0.8", ConnectPort: 5432}
	managed := Entry{ListenAddr: ListenAddress, ListenPort: 80, ConnectAddr: "172.20.0.2", ConnectPort: 80}
	red := newFakeRedirector(foreign, managed)

	result := Teardown(red, forwardUnits(), false)
	if result.Removed != 1 {
		t.Errorf("Removed = %d, want 1", result.Removed)
	}
	if _, ok := red.entries[5432]; !ok {
		t.Errorf("teardown removed an entry this tool does not manage")
	}
	if _, ok := red.entries[80]; ok {
		t.Errorf("teardown left a managed entry behind")
	}
}

// The dry-run summary must report the same work a real run would do,
// including the full-replace removals of existing entries.
func TestApplyDryRunMirrorsRealRun(t *testing.T) {
	stale := Entry{ListenAddr: ListenAddress, ListenPort: 80, ConnectAddr: "10.9.9.9", ConnectPort: 80}

	real := Apply(newFakeRedirector(stale), forwardUnits(), "172.20.0.2", false)
	dry := Apply(newFakeRedirector(stale), forwardUnits(), "172.20.0.2", true)

	if dry != real {
		t.Errorf("dry-run result %+v differs from real result %+v", dry, real)
	}
	if dry.Removed != 1 {
		t.Errorf("dry-run Removed = %d, want 1", dry.Removed)
	}
}

func TestDryRunIssuesNoCalls(t *testing.T) {
	red := newFakeRedirector(Entry{ListenAddr: ListenAddress, ListenPort: 80, ConnectAddr: "10.9.9.9", ConnectPort: 80})

	Apply(red, forwardUnits(), "172.20.0.2", true)
	Teardown(red, forwardUnits(), true)

	if red.calls != 0 {
		t.Errorf("dry run issued %d mutations", red.calls)
	}
}
