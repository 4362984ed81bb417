package main

import "testing"

func TestRunVersionCommand(t *testing.T) {
	if code := run([]string{"version", "--output", "json"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunHelp(t *testing.T) {
	if code := run([]string{"--help"}); code != 0 {
		t.Fatalf("expected exit code 0 for help, got %d", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if code := run([]string{"frobnicate"}); code == 0 {
		t.Fatal("expected non-zero exit code for unknown command")
	}
}

func TestRunRejectsUnknownStoreBackend(t *testing.T) {
	if code := run([]string{"lease", "get", "demo", "--store", "bogus"}); code == 0 {
		t.Fatal("expected non-zero exit code for unknown store backend")
	}
}
