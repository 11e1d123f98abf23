package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Config is the root configuration for tst, stored in ~/.tst/config.json.
// The file may contain // and /* */ comments and trailing commas.
type Config struct {
	Agent    AgentConfig     `json:"agent"`
	Areas    map[string]Area `json:"areas"`
	Remote   RemoteConfig    `json:"remote"`
	Server   ServerConfig    `json:"server"`
	Export   ExportConfig    `json:"export"`
	LogLevel string          `json:"log_level"`
}

// AgentConfig identifies the agent using this workstation.
type AgentConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// Area is the operational area the agent works in; see Areas.
	Area string `json:"area"`
	// Supervisor is the reviewer named on submissions by default.
	Supervisor string `json:"supervisor"`
}

// Area routes an operational area to its mission code and region.
type Area struct {
	Mission string `json:"mission"`
	Region  string `json:"region"`
}

// Remote store drivers.
const (
	DriverSQLite = "sqlite"
	DriverHTTP   = "http"
)

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	Driver string `json:"driver"`
	// Path is the SQLite database for the sqlite driver. Relative paths are
	// resolved against the data directory.
	Path string `json:"path"`
	// URL is the server base URL for the http driver.
	URL               string  `json:"url"`
	TokenURL          string  `json:"token_url"`
	ClientID          string  `json:"client_id"`
	ClientSecret      string  `json:"client_secret"`
	Token             string  `json:"token"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// ServerConfig configures `tst serve`.
type ServerConfig struct {
	Addr        string                  `json:"addr"`
	DB          string                  `json:"db"`
	TokenSecret string                  `json:"token_secret"`
	Issuer      string                  `json:"issuer"`
	TokenTTL    string                  `json:"token_ttl"`
	Clients     map[string]ServerClient `json:"clients"`
}

// ServerClient is one client-credentials account and the identity its
// tokens carry.
type ServerClient struct {
	Secret string `json:"secret"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// ExportConfig holds export naming defaults.
type ExportConfig struct {
	// Context is the first segment of export file names.
	Context string `json:"context"`
	Dir     string `json:"dir"`
}

const (
	DefaultDriver   = DriverSQLite
	DefaultDBFile   = "remote.db"
	DefaultAddr     = "127.0.0.1:8765"
	DefaultIssuer   = "tst"
	DefaultTokenTTL = time.Hour
	DefaultContext  = "telesales"
	DefaultLogLevel = "warn"
)

// defaultConfig returns a Config pre-filled with sensible defaults.
func defaultConfig() Config {
	cfg := Config{}
	cfg.fill()
	return cfg
}

// fill sets zero-valued fields to the built-in defaults.
func (c *Config) fill() {
	if c.Areas == nil {
		c.Areas = map[string]Area{}
	}
	if c.Remote.Driver == "" {
		c.Remote.Driver = DefaultDriver
	}
	if c.Remote.Path == "" {
		c.Remote.Path = DefaultDBFile
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.DB == "" {
		c.Server.DB = DefaultDBFile
	}
	if c.Server.Issuer == "" {
		c.Server.Issuer = DefaultIssuer
	}
	if c.Export.Context == "" {
		c.Export.Context = DefaultContext
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// configTemplate is the annotated config written on first run.
const configTemplate = `// tst configuration – ~/.tst/config.json
//
// Comments and trailing commas are allowed. Every setting is optional; the
// defaults below keep all data on this machine.
{
  // ── Agent identity ───────────────────────────────────────────────────────
  "agent": {
    // Stable agent id; entries are stored remotely as <id>_<entry id>.
    "id": "",
    "name": "",
    "email": "",
    // Operational area, looked up in "areas" below.
    "area": "",
    // Reviewer named on submissions unless --supervisor is given.
    "supervisor": "",
  },

  // ── Operational areas ────────────────────────────────────────────────────
  // Area name -> mission code and region, e.g.
  //   "Hauts-de-France": { "mission": "M-NORD", "region": "Lille" }
  "areas": {},

  // ── Remote document store ────────────────────────────────────────────────
  "remote": {
    // "sqlite" – shared database file (default)
    // "http"   – a tst server, see "tst serve"
    "driver": "sqlite",
    // Database file for the sqlite driver, relative to ~/.tst.
    "path": "remote.db",
    // Server settings for the http driver. Use either a static token or
    // client credentials.
    "url": "",
    "token_url": "",
    "client_id": "",
    "client_secret": "",
    "token": "",
    // 0 = unlimited.
    "requests_per_second": 0,
  },

  // ── tst serve ────────────────────────────────────────────────────────────
  "server": {
    "addr": "127.0.0.1:8765",
    "db": "remote.db",
    // HMAC secret for bearer tokens. Required to serve.
    "token_secret": "",
    "issuer": "tst",
    "token_ttl": "1h",
    // client id -> { "secret", "user_id", "name", "email", "role": "agent"|"supervisor" }
    "clients": {},
  },

  // ── Exports ──────────────────────────────────────────────────────────────
  "export": {
    "context": "telesales",
    // Output directory; empty = current directory.
    "dir": "",
  },

  // debug, info, warn or error
  "log_level": "warn",
}
`

// Path returns the config file path inside base.
func Path(base string) string {
	return filepath.Join(base, "config.json")
}

// Parse decodes a commented config document and fills defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return defaultConfig(), err
	}
	cfg.fill()
	return cfg, nil
}

// Load reads <base>/config.json, creating it with annotated defaults on first
// run.
func Load(base string) (Config, error) {
	path := Path(base)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	return cfg, nil
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// Area returns the routing of the named area, matching names without regard
// to case.
func (c Config) Area(name string) (Area, bool) {
	if a, ok := c.Areas[name]; ok {
		return a, true
	}
	for k, a := range c.Areas {
		if strings.EqualFold(k, name) {
			return a, true
		}
	}
	return Area{}, false
}

// Level parses log_level, defaulting to warn.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return l
}

// ResolvePath makes p absolute relative to base.
func ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// TTL parses server.token_ttl, defaulting to one hour.
func (s ServerConfig) TTL() (time.Duration, error) {
	if s.TokenTTL == "" {
		return DefaultTokenTTL, nil
	}
	d, err := time.ParseDuration(s.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid server.token_ttl %q: %w", s.TokenTTL, err)
	}
	return d, nil
}
