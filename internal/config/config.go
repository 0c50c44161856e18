// Package config loads server settings from command-line flags with
// environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Defaults, overridable by flag or environment.
const (
	DefaultAddr        = ":8080"
	DefaultDataDir     = "./data"
	DefaultMaxUploadMB = 100
)

// AllowedExts is the fixed extension allow-list for uploads.
// Extensions are lowercase and include the leading dot.
var AllowedExts = []string{".pdf", ".md", ".txt"}

// Config holds all runtime settings for the server.
type Config struct {
	Addr        string // HTTP listen address
	DataDir     string // root of the persistent state directory
	MaxUploadMB int64  // per-file upload ceiling in MiB
	LANOnly     bool   // reject requests from non-private source addresses
	TrustProxy  bool   // honour X-Forwarded-For for the client address
}

// Load parses args (excluding the program name) into a Config.
// Environment variables DOCSHELF_ADDR, DOCSHELF_DATA_DIR, MAX_UPLOAD_MB,
// LAN_ONLY and TRUST_PROXY provide defaults when the flag is not given.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("docshelf", pflag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Addr, "addr", envOrDefault("DOCSHELF_ADDR", DefaultAddr), "HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", envOrDefault("DOCSHELF_DATA_DIR", DefaultDataDir), "persistent state directory")
	fs.Int64Var(&cfg.MaxUploadMB, "max-upload-mb", envInt64("MAX_UPLOAD_MB", DefaultMaxUploadMB), "per-file upload limit in MiB")
	fs.BoolVar(&cfg.LANOnly, "lan-only", envBool("LAN_ONLY", true), "only accept requests from private addresses")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", envBool("TRUST_PROXY", false), "trust X-Forwarded-For for the client address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("max-upload-mb must be positive, got %d", cfg.MaxUploadMB)
	}

	return cfg, nil
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// envOrDefault reads an env variable or returns the fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true"
	}
	return fallback
}
