package run

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/micrictor/openport/internal/config"
	"github.com/micrictor/openport/internal/forward"
	"github.com/micrictor/openport/internal/rules"
	"github.com/micrictor/openport/internal/state"
)

type fakeFirewall struct {
	rules map[string]rules.LiveRule
}

func (f *fakeFirewall) List(prefix string) (map[string]rules.LiveRule, error) {
	snapshot := make(map[string]rules.LiveRule, len(f.rules))
	for name, rule := range f.rules {
		snapshot[name] = rule
	}
	return snapshot, nil
}

func (f *fakeFirewall) Create(name string, port uint16, proto rules.Protocol, enabled bool) error {
	f.rules[name] = rules.LiveRule{Name: name, Enabled: enabled}
	return nil
}

func (f *fakeFirewall) SetEnabled(name string, enabled bool) error {
	rule, ok := f.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", rules.ErrNotFound, name)
	}
	rule.Enabled = enabled
	f.rules[name] = rule
	return nil
}

func (f *fakeFirewall) Delete(name string) error {
	if _, ok := f.rules[name]; !ok {
		return fmt.Errorf("%w: %s", rules.ErrNotFound, name)
	}
	delete(f.rules, name)
	return nil
}

type fakeRedirector struct {
	entries map[uint16]forward.Entry
}

func (f *fakeRedirector) List() ([]forward.Entry, error) {
	var out []forward.Entry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRedirector) Add(e forward.Entry) error {
	f.entries[e.ListenPort] = e
	return nil
}

func (f *fakeRedirector) Delete(listenAddr string, listenPort uint16) error {
	delete(f.entries, listenPort)
	return nil
}

type fakeResolver struct {
	addr string
	err  error
}

func (f fakeResolver) Resolve() (string, error) { return f.addr, f.err }

type harness struct {
	cfg  *config.Settings
	deps Deps
	fw   *fakeFirewall
	red  *fakeRedirector
}

func newHarness(t *testing.T, table string) *harness {
	t.Helper()
	dir := t.TempDir()
	portsFile := filepath.Join(dir, "ports.csv")
	if table != "" {
		if err := os.WriteFile(portsFile, []byte(table), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Defaults()
	cfg.PortsFile = portsFile
	cfg.StateFile = filepath.Join(dir, "openport-state.json")

	fw := &fakeFirewall{rules: make(map[string]rules.LiveRule)}
	red := &fakeRedirector{entries: make(map[uint16]forward.Entry)}
	return &harness{
		cfg: cfg,
		fw:  fw,
		red: red,
		deps: Deps{
			Firewall:   fw,
			Redirector: red,
			Resolver:   fakeResolver{addr: "172.20.0.2"},
			Store:      state.NewStore(cfg.StateFile),
		},
	}
}

const basicTable = `Port,Description,Protocol
80,Web,tcp
8000-8001,Dev,tcp
`

func TestRunFirstApply(t *testing.T) {
	h := newHarness(t, basicTable)

	summary, err := Run(h.cfg, Options{}, h.deps)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Rules.Created != 3 || summary.Rules.Updated != 0 || summary.Rules.Removed != 0 {
		t.Errorf("summary %+v, want 3 creates only", summary.Rules)
	}

	persisted := h.deps.Store.Load()
	if len(persisted) != 3 {
		t.Fatalf("persisted %d units, want 3", len(persisted))
	}
	wantKeys := map[rules.Key]bool{
		{Port: 80, Protocol: rules.ProtocolTCP, Description: "Web"}:   true,
		{Port: 8000, Protocol: rules.ProtocolTCP, Description: "Dev"}: true,
		{Port: 8001, Protocol: rules.ProtocolTCP, Description: "Dev"}: true,
	}
	for _, key := range state.Keys(persisted) {
		if !wantKeys[key] {
			t.Errorf("unexpected persisted key %v", key)
		}
	}
}

func TestRunSecondApplyIsIdempotent(t *testing.T) {
	h := newHarness(t, basicTable)
	if _, err := Run(h.cfg, Options{}, h.deps); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(h.cfg, Options{}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rules.Created != 0 || summary.Rules.Updated != 0 {
		t.Errorf("second run mutated rules: %+v", summary.Rules)
	}
	if summary.Rules.Unchanged != 3 {
		t.Errorf("Unchanged = %d, want 3", summary.Rules.Unchanged)
	}
}

func TestRunCleansUpDroppedRows(t *testing.T) {
	h := newHarness(t, basicTable)
	if _, err := Run(h.cfg, Options{}, h.deps); err != nil {
		t.Fatal(err)
	}

	shrunk := "Port,Description,Protocol\n80,Web,tcp\n"
	if err := os.WriteFile(h.cfg.PortsFile, []byte(shrunk), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(h.cfg, Options{}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rules.Removed != 2 {
		t.Errorf("Removed = %d, want 2", summary.Rules.Removed)
	}
	if len(h.fw.rules) != 1 {
		t.Errorf("%d rules live after cleanup, want 1", len(h.fw.rules))
	}
}

func TestRunSkipCleanup(t *testing.T) {
	h := newHarness(t, basicTable)
	if _, err := Run(h.cfg, Options{}, h.deps); err != nil {
		t.Fatal(err)
	}

	shrunk := "Port,Description,Protocol\n80,Web,tcp\n"
	if err := os.WriteFile(h.cfg.PortsFile, []byte(shrunk), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(h.cfg, Options{SkipCleanup: true}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rules.Removed != 0 {
		t.Errorf("Removed = %d with cleanup skipped", summary.Rules.Removed)
	}
	if len(h.fw.rules) != 3 {
		t.Errorf("%d rules live, want 3", len(h.fw.rules))
	}
}

func TestRunEnabledFlipUpdatesInPlace(t *testing.T) {
	h := newHarness(t, "Port,Description,Protocol,Enabled\n80,Web,tcp,yes\n")
	if _, err := Run(h.cfg, Options{}, h.deps); err != nil {
		t.Fatal(err)
	}

	flipped := "Port,Description,Protocol,Enabled\n80,Web,tcp,no\n"
	if err := os.WriteFile(h.cfg.PortsFile, []byte(flipped), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(h.cfg, Options{}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	// A state change must be an update, never a remove-and-recreate.
	if summary.Rules.Updated != 1 || summary.Rules.Removed != 0 || summary.Rules.Created != 0 {
		t.Errorf("summary %+v, want exactly one update", summary.Rules)
	}
}

func TestRunEmptyTableIsNothingToDo(t *testing.T) {
	h := newHarness(t, "Port,Description,Protocol\n")

	summary, err := Run(h.cfg, Options{}, h.deps)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.NothingToDo {
		t.Errorf("empty table not reported as nothing-to-do")
	}
	if h.deps.Store.Load() != nil {
		t.Errorf("empty run persisted state")
	}
}

func TestRunMissingTableIsFatal(t *testing.T) {
	h := newHarness(t, "")

	if _, err := Run(h.cfg, Options{}, h.deps); err == nil {
		t.Errorf("missing port table did not fail the run")
	}
}

func TestRunForwarding(t *testing.T) {
	h := newHarness(t, basicTable)

	summary, err := Run(h.cfg, Options{Forwarding: true, Target: "10.0.0.5"}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Forwarding.Added != 3 {
		t.Errorf("Added = %d, want 3", summary.Forwarding.Added)
	}
	if e, ok := h.red.entries[80]; !ok || e.ConnectAddr != "10.0.0.5" {
		t.Errorf("entry for port 80 wrong: %+v", e)
	}
}

func TestRunForwardingFallsBackToDiscovery(t *testing.T) {
	h := newHarness(t, basicTable)

	summary, err := Run(h.cfg, Options{Forwarding: true}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Forwarding.Added != 3 {
		t.Errorf("Added = %d, want 3", summary.Forwarding.Added)
	}
	if e := h.red.entries[80]; e.ConnectAddr != "172.20.0.2" {
		t.Errorf("discovered target not used: %+v", e)
	}
}

func TestRunForwardingSkippedWithoutTarget(t *testing.T) {
	h := newHarness(t, basicTable)
	h.deps.Resolver = fakeResolver{err: fmt.Errorf("no guest running")}

	summary, err := Run(h.cfg, Options{Forwarding: true}, h.deps)
	if err != nil {
		t.Fatalf("missing target must not be fatal: %v", err)
	}
	if summary.Forwarding.Added != 0 || len(h.red.entries) != 0 {
		t.Errorf("forwarding ran without a target: %+v", summary.Forwarding)
	}
}

func TestRunTeardown(t *testing.T) {
	h := newHarness(t, basicTable)
	if _, err := Run(h.cfg, Options{Forwarding: true, Target: "10.0.0.5"}, h.deps); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(h.cfg, Options{Teardown: true}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rules.Removed != 3 {
		t.Errorf("Removed = %d, want 3", summary.Rules.Removed)
	}
	if len(h.fw.rules) != 0 {
		t.Errorf("rules still live after teardown: %v", h.fw.rules)
	}
	if summary.Forwarding.Removed != 3 {
		t.Errorf("forwarding Removed = %d, want 3", summary.Forwarding.Removed)
	}
	if h.deps.Store.Load() != nil {
		t.Errorf("state survived teardown")
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	h := newHarness(t, basicTable)

	summary, err := Run(h.cfg, Options{DryRun: true}, h.deps)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Rules.Created != 3 {
		t.Errorf("dry run planned %d creates, want 3", summary.Rules.Created)
	}
	if len(h.fw.rules) != 0 {
		t.Errorf("dry run created rules: %v", h.fw.rules)
	}
	if h.deps.Store.Load() != nil {
		t.Errorf("dry run persisted state")
	}
}
