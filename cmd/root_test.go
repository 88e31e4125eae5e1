package cmd

import "testing"

// A bare invocation must reconcile, not print help.
func TestRootDefaultsToApply(t *testing.T) {
	if rootCmd.RunE == nil {
		t.Fatal("root command has no run function")
	}
	for _, name := range []string{"skip-cleanup", "forward", "target", "dry-run"} {
		if rootCmd.Flags().Lookup(name) == nil {
			t.Errorf("apply flag %q not registered on the root command", name)
		}
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"apply": false, "teardown": false, "test": false}
	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
