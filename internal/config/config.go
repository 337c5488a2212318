// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the portal/MAC/token table and the tunable
// constants of spec.md §6, honoring ENV > file > defaults precedence the
// way the teacher's internal/config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Portal describes one upstream Stalker portal and its identity pool.
type Portal struct {
	Host         string   `yaml:"host"`
	Credentialed bool     `yaml:"credentialed,omitempty"`
	MacPool      []string `yaml:"macPool,omitempty"`
}

// FileConfig is the on-disk YAML shape (see SPEC_FULL.md).
type FileConfig struct {
	Portals        []Portal          `yaml:"portals"`
	DefaultMacPool []string          `yaml:"defaultMacPool,omitempty"`
	AuthTokens     map[string]string `yaml:"authTokens,omitempty"`
}

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Portals        []Portal
	DefaultMacPool []string
	AuthTokens     map[string]string

	MaxCacheKeys  int
	MaxCacheBytes int64
	PlaylistTTL   time.Duration
	SegmentTTL    time.Duration
	SegOKLimit    int
	MinSwitchSec  time.Duration
	HTTPTimeout   time.Duration
	BadCodes      map[int]struct{}
	SessionIdleS  time.Duration
}

// PortalHosts returns the ordered list of portal host strings.
func (c AppConfig) PortalHosts() []string {
	hosts := make([]string, len(c.Portals))
	for i, p := range c.Portals {
		hosts[i] = p.Host
	}
	return hosts
}

// Defaults returns the spec's default tunables (§6) plus the portal/MAC
// table carried forward from the original stalker_hls_proxy.py prototype,
// which operators are expected to override via file or env.
func Defaults() AppConfig {
	return AppConfig{
		Portals: []Portal{
			{Host: "ledir.thund.re"},
			{Host: "stalker.ugoiptv.com:80"},
		},
		DefaultMacPool: []string{
			"00:1A:79:00:0A:2C", "00:1A:79:1A:04:B7", "00:1A:79:C5:94:26",
			"00:1A:79:02:13:52", "00:1A:79:B9:81:75", "00:1A:79:02:59:77",
			"00:1A:79:73:16:62", "00:1A:79:C6:E5:E9", "00:1A:79:00:09:7E",
			"00:1A:79:22:5A:77", "00:1A:79:74:4E:C7",
		},
		AuthTokens:    map[string]string{},
		MaxCacheKeys:  10_000,
		MaxCacheBytes: 50 * 1024 * 1024,
		PlaylistTTL:   10 * time.Second,
		SegmentTTL:    4 * time.Second,
		SegOKLimit:    6,
		MinSwitchSec:  4 * time.Second,
		HTTPTimeout:   10 * time.Second,
		BadCodes:      defaultBadCodes(),
		SessionIdleS:  30 * time.Second,
	}
}

func defaultBadCodes() map[int]struct{} {
	codes := []int{204, 405, 407, 451, 458, 512}
	m := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

// Loader reads an optional YAML file and applies environment overrides on
// top of Defaults().
type Loader struct {
	Path string
}

// NewLoader constructs a Loader for the given (possibly empty) config path.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load resolves the AppConfig, following ENV > file > defaults precedence.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if strings.TrimSpace(l.Path) != "" {
		fc, err := loadFile(l.Path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("load config file %q: %w", l.Path, err)
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string) (FileConfig, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fc, nil
}

func applyFile(cfg *AppConfig, fc FileConfig) {
	if len(fc.Portals) > 0 {
		cfg.Portals = fc.Portals
	}
	if len(fc.DefaultMacPool) > 0 {
		cfg.DefaultMacPool = fc.DefaultMacPool
	}
	if len(fc.AuthTokens) > 0 {
		cfg.AuthTokens = fc.AuthTokens
	}
}

func applyEnv(cfg *AppConfig) {
	cfg.MaxCacheKeys = parseInt("STALKER_PROXY_MAX_CACHE_KEYS", cfg.MaxCacheKeys)
	cfg.MaxCacheBytes = parseInt64("STALKER_PROXY_MAX_CACHE_BYTES", cfg.MaxCacheBytes)
	cfg.PlaylistTTL = parseDuration("STALKER_PROXY_PLAYLIST_TTL", cfg.PlaylistTTL)
	cfg.SegmentTTL = parseDuration("STALKER_PROXY_SEGMENT_TTL", cfg.SegmentTTL)
	cfg.SegOKLimit = parseInt("STALKER_PROXY_SEG_OK_LIMIT", cfg.SegOKLimit)
	cfg.MinSwitchSec = parseDuration("STALKER_PROXY_MIN_SWITCH_SEC", cfg.MinSwitchSec)
	cfg.HTTPTimeout = parseDuration("STALKER_PROXY_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.SessionIdleS = parseDuration("STALKER_PROXY_SESSION_IDLE_S", cfg.SessionIdleS)
	if raw := strings.TrimSpace(os.Getenv("STALKER_PROXY_BAD_CODES")); raw != "" {
		if codes := parseBadCodes(raw); len(codes) > 0 {
			cfg.BadCodes = codes
		}
	}
}

func parseBadCodes(raw string) map[int]struct{} {
	parts := strings.Split(raw, ",")
	codes := make(map[int]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		codes[n] = struct{}{}
	}
	return codes
}

// ParseString returns the env var's value, or def if unset/blank.
func ParseString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
