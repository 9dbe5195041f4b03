package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all stepline server configuration. Env vars win over
// settings.json, which wins over the built-in defaults.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	StoreBackend   string `json:"store_backend"` // "libsql", "file" or "memory"
	DBPath         string `json:"db_path"`
	StateDir       string `json:"state_dir"`
	DefinitionsDir string `json:"definitions_dir"`
	LogLevel       string `json:"log_level"`
	Concurrency    int    `json:"concurrency"`
	MCP            bool   `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:   ":4600",
		StoreBackend: "libsql",
		DBPath:       filepath.Join(steplineDir(), "stepline.db"),
		StateDir:     filepath.Join(steplineDir(), "state"),
		LogLevel:     "info",
		Concurrency:  10,
	}
}

func steplineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepline"
	}
	return filepath.Join(home, ".stepline")
}

func settingsPath() string {
	return filepath.Join(steplineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// A missing or unreadable settings file just means defaults.
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("STEPLINE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STEPLINE_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("STEPLINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPLINE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("STEPLINE_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}
	if v := os.Getenv("STEPLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEPLINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("STEPLINE_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg
}
