package cmd

import (
	"testing"
)

func hasFlag(names [][]string, name string) bool {
	for _, n := range names {
		for _, alias := range n {
			if alias == name {
				return true
			}
		}
	}
	return false
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	var names [][]string
	for _, f := range ReadOnlyFlags() {
		names = append(names, f.Names())
	}
	if !hasFlag(names, "tui") {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestAgentFlags_Aliases(t *testing.T) {
	var names [][]string
	for _, f := range AgentFlags() {
		names = append(names, f.Names())
	}
	for _, name := range []string{"name", "n", "server", "s", "file", "f", "from-start", "tail-bytes", "t", "verbose", "v", "config", "c", "device-id"} {
		if !hasFlag(names, name) {
			t.Errorf("AgentFlags missing %q", name)
		}
	}
}

func TestAgentFlags_NoneRequired(t *testing.T) {
	// name and file may come from the config file.
	type requiredFlag interface{ IsRequired() bool }
	for _, f := range AgentFlags() {
		if r, ok := f.(requiredFlag); ok && r.IsRequired() {
			t.Errorf("flag %q should not be Required", f.Names()[0])
		}
	}
}

func TestSessionsCommand_Flags(t *testing.T) {
	var names [][]string
	for _, f := range SessionsCommand().Flags {
		names = append(names, f.Names())
	}
	for _, name := range []string{"format", "tui", "journal-backend", "journal-path", "service", "agent-id", "day", "limit"} {
		if !hasFlag(names, name) {
			t.Errorf("sessions missing --%s", name)
		}
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// This test documents the function exists and can be called.
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}
