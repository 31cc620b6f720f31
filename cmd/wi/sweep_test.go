package main

import (
	"strings"
	"testing"
)

func TestSweepCmd_Help(t *testing.T) {
	out, err := runCmd(t, "sweep", "--help")
	if err != nil {
		t.Fatalf("sweep --help failed: %v", err)
	}
	if !strings.Contains(out, "maintenance sweeps") {
		t.Errorf("expected help to mention 'maintenance sweeps', got: %s", out)
	}
}

func TestSweepCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "sweep", "--config", "/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
