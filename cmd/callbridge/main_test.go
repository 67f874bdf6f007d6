package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "extract", "contexts"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestContextsClearRequiresTarget(t *testing.T) {
	if err := runContextsClear(defaultConfigPath, "", false); err == nil {
		t.Fatal("expected error without a call SID or --all")
	}
}
