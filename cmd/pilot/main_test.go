package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not registered under %q", name, parent.Name())
	return nil
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "token", "context", "session", "version"} {
		findCommand(t, rootCmd, name)
	}
}

func TestSessionNewArgs(t *testing.T) {
	newCmd := findCommand(t, findCommand(t, rootCmd, "session"), "new")

	if err := newCmd.Args(newCmd, []string{}); err == nil {
		t.Fatal("expected an error for missing session name")
	}
	if err := newCmd.Args(newCmd, []string{"work"}); err != nil {
		t.Fatalf("one arg should be accepted: %v", err)
	}
	if err := newCmd.Args(newCmd, []string{"work", "htop"}); err != nil {
		t.Fatalf("name plus command should be accepted: %v", err)
	}
	if err := newCmd.Args(newCmd, []string{"a", "b", "c"}); err == nil {
		t.Fatal("expected an error for too many args")
	}
}
