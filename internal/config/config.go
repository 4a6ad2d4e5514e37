// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (nxt-media.yaml):
//
//	listen_addr: ":8080"
//	metrics_addr: ":9090"
//	data_dir: "./data"
//	library_dir: "/sdcard/DCIM"
//	library_timeout: "3s"
//	rescan_interval: "5m"
//	log_level: "info"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (LISTEN_ADDR, METRICS_ADDR, DATA_DIR, LIBRARY_DIR,
//     UPLOADS_DIR, RESCAN_INTERVAL, LOG_LEVEL, LOG_FORMAT)
//
// Paths left empty (uploads_dir, routes_file, library_db) are derived from
// data_dir by Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP gateway (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the TCP address for the Prometheus/health listener.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// DataDir is the application-private directory holding the route table,
	// the uploads directory and the library index.
	DataDir string `yaml:"data_dir"`

	// LibraryDir is the media library scanned into the library index.
	// Empty means the library is unavailable and only uploads are listed.
	LibraryDir string `yaml:"library_dir"`

	// UploadsDir defaults to {DataDir}/uploads.
	UploadsDir string `yaml:"uploads_dir"`

	// RoutesFile defaults to {DataDir}/routes.json.
	RoutesFile string `yaml:"routes_file"`

	// LibraryDB defaults to {DataDir}/.library.db.
	LibraryDB string `yaml:"library_db"`

	// MaxImages and MaxVideos cap how many library assets of each kind are
	// listed.
	MaxImages int `yaml:"max_images"`
	MaxVideos int `yaml:"max_videos"`

	// MaxUploadSize is the largest accepted upload body in bytes.
	MaxUploadSize int64 `yaml:"max_upload_size"`

	// Duration settings are stored as strings in YAML (e.g. "3s", "5m") and
	// parsed into the matching time.Duration fields by Load.
	LibraryTimeoutStr   string `yaml:"library_timeout"`
	ItemTimeoutStr      string `yaml:"item_timeout"`
	MediaListTimeoutStr string `yaml:"media_list_timeout"`

	// RescanInterval is how often the library directory is re-indexed.
	// "0" disables background rescans.
	RescanIntervalStr string `yaml:"rescan_interval"`

	LibraryTimeout   time.Duration `yaml:"-"`
	ItemTimeout      time.Duration `yaml:"-"`
	MediaListTimeout time.Duration `yaml:"-"`
	RescanInterval   time.Duration `yaml:"-"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "console".
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		DataDir:             "./data",
		MaxImages:           500,
		MaxVideos:           200,
		MaxUploadSize:       512 << 20,
		LibraryTimeoutStr:   "3s",
		ItemTimeoutStr:      "500ms",
		MediaListTimeoutStr: "15s",
		RescanIntervalStr:   "5m",
		LibraryTimeout:      3 * time.Second,
		ItemTimeout:         500 * time.Millisecond,
		MediaListTimeout:    15 * time.Second,
		RescanInterval:      5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LIBRARY_DIR"); v != "" {
		cfg.LibraryDir = v
	}
	if v := os.Getenv("UPLOADS_DIR"); v != "" {
		cfg.UploadsDir = v
	}
	if v := os.Getenv("RESCAN_INTERVAL"); v != "" {
		cfg.RescanIntervalStr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// Invalid duration strings are ignored and the default is kept.
	cfg.LibraryTimeout = parseDuration(cfg.LibraryTimeoutStr, cfg.LibraryTimeout)
	cfg.ItemTimeout = parseDuration(cfg.ItemTimeoutStr, cfg.ItemTimeout)
	cfg.MediaListTimeout = parseDuration(cfg.MediaListTimeoutStr, cfg.MediaListTimeout)
	if cfg.RescanIntervalStr != "" && cfg.RescanIntervalStr != "0" {
		cfg.RescanInterval = parseDuration(cfg.RescanIntervalStr, cfg.RescanInterval)
	} else {
		cfg.RescanInterval = 0
	}

	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.RoutesFile == "" {
		cfg.RoutesFile = filepath.Join(cfg.DataDir, "routes.json")
	}
	if cfg.LibraryDB == "" {
		cfg.LibraryDB = filepath.Join(cfg.DataDir, ".library.db")
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. NXT_MEDIA_CONFIG environment variable (explicit override)
//  2. ./nxt-media.yaml (current working directory)
//  3. ~/.config/nxt-media/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv("NXT_MEDIA_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("nxt-media.yaml"); err == nil {
		return "nxt-media.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "nxt-media", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
