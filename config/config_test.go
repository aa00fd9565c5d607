package config_test

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netpong/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Port != 43 {
		t.Errorf("Port = %d, want 43", cfg.Port)
	}
	if cfg.Timeout() != 0 {
		t.Errorf("Timeout = %v, want disabled", cfg.Timeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	srv, _ := cfg.ServerAddr()
	if srv != netip.MustParseAddrPort("150.237.45.33:43") {
		t.Errorf("ServerAddr = %v", srv)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	data := "NETPONG_PORT=4300\nNETPONG_SERVER=10.0.0.5:9000\nNETPONG_TIMEOUT_MS=250\nNETPONG_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"NETPONG_PORT", "NETPONG_SERVER", "NETPONG_TIMEOUT_MS", "NETPONG_LOG_LEVEL"} {
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4300 {
		t.Errorf("Port = %d, want 4300", cfg.Port)
	}
	if cfg.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Timeout())
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
	srv, _ := cfg.ServerAddr()
	if srv != netip.MustParseAddrPort("10.0.0.5:9000") {
		t.Errorf("ServerAddr = %v", srv)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != config.DefaultPort {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestEnvOverridesAndErrors(t *testing.T) {
	t.Setenv("NETPONG_PEER_PORT", "4301")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpponentPort() != 4301 {
		t.Errorf("OpponentPort = %d", cfg.OpponentPort())
	}

	t.Setenv("NETPONG_PORT", "abc")
	if _, err := config.Load(""); err == nil {
		t.Error("Load with bad port should fail")
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 70000
	if cfg.Validate() == nil {
		t.Error("port 70000 accepted")
	}

	cfg = config.Default()
	cfg.Server = "not an address"
	if cfg.Validate() == nil {
		t.Error("bad server accepted")
	}

	cfg = config.Default()
	cfg.TimeoutMS = -5
	if cfg.Timeout() != 0 {
		t.Error("negative timeout should disable")
	}
}
