package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultPort            = 6970
	DefaultHost            = "127.0.0.1"
	DefaultConfigFilename  = "config.toml"
	DefaultMaxRequestBytes = 50 << 20
	DefaultCatalogTTL      = 24 * time.Hour
	DefaultUpstreamTimeout = 10 * time.Minute

	DefaultGitHubURL     = "https://github.com"
	DefaultGitHubAPIURL  = "https://api.github.com"
	DefaultCopilotAPIURL = "https://api.githubcopilot.com"

	CredentialStoreFile    = "file"
	CredentialStoreKeyring = "keyring"

	// EnvPrefix selects environment overrides, e.g. COPILOT_GATEWAY_PORT or
	// COPILOT_GATEWAY_UPSTREAM__TIMEOUT for nested keys.
	EnvPrefix = "COPILOT_GATEWAY_"
	// LegacyAccessTokenEnv is the comma separated allow-list older deployments set.
	LegacyAccessTokenEnv = "ACCESS_TOKEN"
)

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type CredentialsConfig struct {
	Store string `koanf:"store"`
	Path  string `koanf:"path"`
}

type UpstreamConfig struct {
	GitHubURL     string        `koanf:"github_url"`
	GitHubAPIURL  string        `koanf:"github_api_url"`
	CopilotAPIURL string        `koanf:"copilot_api_url"`
	Timeout       time.Duration `koanf:"timeout"`
}

type CatalogConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type Config struct {
	Host            string            `koanf:"host"`
	Port            int               `koanf:"port"`
	AccessTokens    []string          `koanf:"access_tokens"`
	MaxRequestBytes int64             `koanf:"max_request_bytes"`
	Log             LogConfig         `koanf:"log"`
	Credentials     CredentialsConfig `koanf:"credentials"`
	Upstream        UpstreamConfig    `koanf:"upstream"`
	Catalog         CatalogConfig     `koanf:"catalog"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		MaxRequestBytes: DefaultMaxRequestBytes,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Credentials: CredentialsConfig{
			Store: CredentialStoreFile,
		},
		Upstream: UpstreamConfig{
			GitHubURL:     DefaultGitHubURL,
			GitHubAPIURL:  DefaultGitHubAPIURL,
			CopilotAPIURL: DefaultCopilotAPIURL,
			Timeout:       DefaultUpstreamTimeout,
		},
		Catalog: CatalogConfig{
			TTL: DefaultCatalogTTL,
		},
	}
}

// Address is the listen address of the gateway.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// values flattens the config into koanf keys.
func (c *Config) values() map[string]any {
	tokens := c.AccessTokens
	if tokens == nil {
		tokens = []string{}
	}

	return map[string]any{
		"host":                     c.Host,
		"port":                     c.Port,
		"access_tokens":            tokens,
		"max_request_bytes":        c.MaxRequestBytes,
		"log.level":                c.Log.Level,
		"log.format":               c.Log.Format,
		"credentials.store":        c.Credentials.Store,
		"credentials.path":         c.Credentials.Path,
		"upstream.github_url":      c.Upstream.GitHubURL,
		"upstream.github_api_url":  c.Upstream.GitHubAPIURL,
		"upstream.copilot_api_url": c.Upstream.CopilotAPIURL,
		"upstream.timeout":         c.Upstream.Timeout.String(),
		"catalog.ttl":              c.Catalog.TTL.String(),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}

	if c.MaxRequestBytes <= 0 {
		errs = append(errs, errors.New("max_request_bytes must be positive"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	switch c.Credentials.Store {
	case CredentialStoreFile, CredentialStoreKeyring:
	default:
		errs = append(errs, fmt.Errorf("credentials.store %q is not one of file, keyring", c.Credentials.Store))
	}

	for key, raw := range map[string]string{
		"upstream.github_url":      c.Upstream.GitHubURL,
		"upstream.github_api_url":  c.Upstream.GitHubAPIURL,
		"upstream.copilot_api_url": c.Upstream.CopilotAPIURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", key, raw))
		}
	}

	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}

	if c.Catalog.TTL <= 0 {
		errs = append(errs, errors.New("catalog.ttl must be positive"))
	}

	return errors.Join(errs...)
}

type Manager struct {
	baseDir     string
	configPath  string
	configValue atomic.Value
	environ     func() []string
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:    baseDir,
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
		environ:    os.Environ,
	}
}

// Load layers defaults, the config file (when present) and the environment.
func (m *Manager) Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Default().values(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if m.Exists() {
		if err := k.Load(file.Provider(m.configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	legacy := env.Provider(".", env.Opt{
		Prefix:        LegacyAccessTokenEnv,
		EnvironFunc:   m.environ,
		TransformFunc: transformLegacyEnv,
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("load legacy environment: %w", err)
	}

	prefixed := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		EnvironFunc:   m.environ,
		TransformFunc: transformEnv,
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return Default()
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(cfg.values(), "."), nil); err != nil {
		return fmt.Errorf("flatten config: %w", err)
	}

	data, err := k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

// CredentialPath resolves where the file credential store lives.
func (m *Manager) CredentialPath(cfg *Config) string {
	if cfg.Credentials.Path != "" {
		return cfg.Credentials.Path
	}

	return filepath.Join(m.baseDir, "data", "auth.json")
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if key == "access_tokens" {
		return key, splitList(value)
	}

	return key, value
}

func transformLegacyEnv(key, value string) (string, any) {
	if key != LegacyAccessTokenEnv {
		return "", nil
	}

	return "access_tokens", splitList(value)
}

func splitList(value string) []string {
	var out []string

	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
