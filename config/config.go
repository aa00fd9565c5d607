// Package config loads netpong settings from defaults, an optional .env file
// and NETPONG_* environment variables. Command-line flags are layered on top
// by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultPort is shared by TCP control traffic and UDP discovery.
	DefaultPort = 43

	// DefaultServer is the directory host used when none is configured.
	DefaultServer = "150.237.45.33"

	// DefaultBroadcastAddr is the limited broadcast address.
	DefaultBroadcastAddr = "255.255.255.255"

	// DefaultEnvFile is read from the working directory when present.
	DefaultEnvFile = ".env"

	envPrefix = "NETPONG_"
)

// Config is the complete runtime configuration.
type Config struct {
	// Port for the peer link, the directory host and UDP discovery.
	Port int
	// PeerPort is the port dialled on the opponent; 0 means Port.
	PeerPort int
	// Server is the directory host as "ip" or "ip:port".
	Server string
	// Addr overrides the detected local IPv4 address.
	Addr string
	// TimeoutMS applies to TCP send and receive; <= 0 disables it.
	TimeoutMS int

	BroadcastAddr string
	// BroadcastIntervalMS paces discovery broadcasts; 0 sends back to back.
	BroadcastIntervalMS int

	// RetryAttempts bounds handshake retries; 0 retries forever.
	RetryAttempts   int
	RetryDelayMS    int
	RetryMaxDelayMS int

	LogLevel string
	Name     string

	// MetricsAddr serves /metrics for a playing instance when set.
	MetricsAddr string

	// Directory host settings.
	HTTPAddr      string
	HighscoreFile string
	S3Bucket      string
	S3Key         string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		Server:          DefaultServer,
		BroadcastAddr:   DefaultBroadcastAddr,
		RetryDelayMS:    50,
		RetryMaxDelayMS: 1000,
		LogLevel:        "info",
		Name:            "Player",
		HighscoreFile:   "highscores.json",
		S3Key:           "netpong/highscores.json",
	}
}

// Load builds a Config from defaults, envFile and the environment. A missing
// envFile is not an error.
func Load(envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	ints := map[string]*int{
		"PORT":                  &c.Port,
		"PEER_PORT":             &c.PeerPort,
		"TIMEOUT_MS":            &c.TimeoutMS,
		"BROADCAST_INTERVAL_MS": &c.BroadcastIntervalMS,
		"RETRY_ATTEMPTS":        &c.RetryAttempts,
		"RETRY_DELAY_MS":        &c.RetryDelayMS,
		"RETRY_MAX_DELAY_MS":    &c.RetryMaxDelayMS,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	strs := map[string]*string{
		"SERVER":         &c.Server,
		"ADDR":           &c.Addr,
		"BROADCAST_ADDR": &c.BroadcastAddr,
		"LOG_LEVEL":      &c.LogLevel,
		"NAME":           &c.Name,
		"METRICS_ADDR":   &c.MetricsAddr,
		"HTTP_ADDR":      &c.HTTPAddr,
		"HIGHSCORE_FILE": &c.HighscoreFile,
		"S3_BUCKET":      &c.S3Bucket,
		"S3_KEY":         &c.S3Key,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate checks ranges and address syntax.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.PeerPort < 0 || c.PeerPort > 65535 {
		return fmt.Errorf("config: peer port %d out of range", c.PeerPort)
	}
	if _, err := c.ServerAddr(); err != nil {
		return err
	}
	if c.Addr != "" {
		if _, err := netip.ParseAddr(c.Addr); err != nil {
			return fmt.Errorf("config: addr: %w", err)
		}
	}
	if _, err := netip.ParseAddr(c.BroadcastAddr); err != nil {
		return fmt.Errorf("config: broadcast addr: %w", err)
	}
	return nil
}

// ServerAddr resolves Server, defaulting the port to Port.
func (c *Config) ServerAddr() (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(c.Server); err == nil {
		return ap, nil
	}
	a, err := netip.ParseAddr(c.Server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("config: server %q: %w", c.Server, err)
	}
	return netip.AddrPortFrom(a, uint16(c.Port)), nil
}

// OpponentPort is the port dialled on the peer.
func (c *Config) OpponentPort() uint16 {
	if c.PeerPort > 0 {
		return uint16(c.PeerPort)
	}
	return uint16(c.Port)
}

// Timeout converts TimeoutMS. Zero means no timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *Config) BroadcastInterval() time.Duration {
	if c.BroadcastIntervalMS <= 0 {
		return 0
	}
	return time.Duration(c.BroadcastIntervalMS) * time.Millisecond
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
