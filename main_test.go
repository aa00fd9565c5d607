package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionShort(t *testing.T) {
	root := newRootCmd(&app{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version = %q, want %q", got, version)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("NETPONG_TIMEOUT_MS", "900")
	t.Setenv("NETPONG_SERVER", "10.0.0.1")

	a := &app{}
	root := newRootCmd(a)
	play, _, err := root.Find([]string{"play"})
	if err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(t.TempDir(), "none.env")
	if err := play.ParseFlags([]string{"--env-file", envFile, "--port", "4300", "--timeout", "100", "--name", "Zed"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if err := a.setup(play); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if a.cfg.Port != 4300 {
		t.Errorf("Port = %d", a.cfg.Port)
	}
	if a.cfg.TimeoutMS != 100 {
		t.Errorf("TimeoutMS = %d, flag should beat environment", a.cfg.TimeoutMS)
	}
	if a.cfg.Server != "10.0.0.1" {
		t.Errorf("Server = %q, environment should apply when no flag is set", a.cfg.Server)
	}
	if a.cfg.Name != "Zed" {
		t.Errorf("Name = %q", a.cfg.Name)
	}
	if a.logger == nil || a.metrics == nil {
		t.Error("logger and metrics not set up")
	}
	if p := a.retryPolicy(); p.MaxAttempts != 0 || p.Delay == 0 {
		t.Errorf("retry policy = %+v", p)
	}
}

func TestSetupRejectsBadPort(t *testing.T) {
	a := &app{}
	root := newRootCmd(a)
	host, _, err := root.Find([]string{"host"})
	if err != nil {
		t.Fatal(err)
	}
	if err := host.ParseFlags([]string{"--env-file", "", "--port", "0"}); err != nil {
		t.Fatal(err)
	}
	if err := a.setup(host); err == nil {
		t.Error("port 0 accepted")
	}
}
