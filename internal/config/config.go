// Package config holds the server's compile-time defaults and their
// environment-variable overrides.
package config

import (
	"os"
	"strconv"
)

// Config carries the four settings spec.md §6.3 requires, plus the
// Unix control socket path used by the operator command loop.
type Config struct {
	Port         int
	DBPath       string
	LogPath      string
	SessionCap   int
	CtrlSockPath string
}

func Load() *Config {
	cfg := &Config{
		Port:         8080,
		DBPath:       "msim.db",
		LogPath:      "msim-activity.log",
		SessionCap:   10,
		CtrlSockPath: "/tmp/msim-ctl.sock",
	}

	if v := os.Getenv("MSIM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}

	if v := os.Getenv("MSIM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if v := os.Getenv("MSIM_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}

	if v := os.Getenv("MSIM_SESSION_CAP"); v != "" {
		if cap, err := strconv.Atoi(v); err == nil && cap > 0 {
			cfg.SessionCap = cap
		}
	}

	if v := os.Getenv("MSIM_CTL_SOCK"); v != "" {
		cfg.CtrlSockPath = v
	}

	return cfg
}
