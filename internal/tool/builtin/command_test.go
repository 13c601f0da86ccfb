package builtin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/swival/swival/internal/errs"
)

func TestNewCommandTool_UnknownCommandIsConfigError(t *testing.T) {
	sb, dir := newSandbox(t, false)
	_, err := NewCommandTool(sb, []string{"definitely-not-on-path-zzz"}, dir, dir, false)
	if err == nil {
		t.Fatal("expected a config error for an unresolvable command")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.ConfigError {
		t.Errorf("error kind = %v, want ConfigError", kind)
	}
}

func TestNewCommandTool_RejectsExecutableInsideBaseDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX executable bits")
	}
	sb, dir := newSandbox(t, false)
	inside := filepath.Join(dir, "tool.sh")
	if err := os.WriteFile(inside, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := NewCommandTool(sb, []string{inside}, dir, dir, false)
	if err == nil {
		t.Fatal("a whitelisted executable inside the base directory must be rejected")
	}
	if !strings.Contains(err.Error(), "base directory") {
		t.Errorf("error = %q, want mention of the base directory", err)
	}
}

func TestCommandTool_DisallowedCommandFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a POSIX echo")
	}
	sb, dir := newSandbox(t, false)
	tool, err := NewCommandTool(sb, []string{"echo"}, dir, dir, false)
	if err != nil {
		t.Fatalf("NewCommandTool: %v", err)
	}

	res, _ := tool.Execute(context.Background(), []byte(`{"args":["rm","-rf","/"]}`))
	if res.Succeeded {
		t.Fatal("a command off the allowlist must fail")
	}
	if !strings.Contains(res.Error, string(errs.CommandNotAllowed)) {
		t.Errorf("error = %q, want CommandNotAllowed", res.Error)
	}
}

func TestCommandTool_RunsAllowedCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a POSIX echo")
	}
	sb, dir := newSandbox(t, false)
	tool, err := NewCommandTool(sb, []string{"echo"}, dir, dir, false)
	if err != nil {
		t.Fatalf("NewCommandTool: %v", err)
	}

	res, _ := tool.Execute(context.Background(), []byte(`{"args":["echo","hi","there"]}`))
	if !res.Succeeded {
		t.Fatalf("echo failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "hi there") {
		t.Errorf("output = %q, want the echoed arguments", res.Output)
	}
}

func TestCommandTool_EmptyArgsRejected(t *testing.T) {
	sb, dir := newSandbox(t, false)
	tool, err := NewCommandTool(sb, nil, dir, dir, false)
	if err != nil {
		t.Fatalf("NewCommandTool: %v", err)
	}

	res, _ := tool.Execute(context.Background(), []byte(`{"args":[]}`))
	if res.Succeeded {
		t.Fatal("an empty argv must fail")
	}
}
