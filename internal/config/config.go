package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models huddle.yml.
type Config struct {
	Locale string `yaml:"locale"`
	Draw   struct {
		AllowRepeat  bool          `yaml:"allow_repeat"`
		SpinTicks    int           `yaml:"spin_ticks"`
		SpinInterval time.Duration `yaml:"spin_interval"`
	} `yaml:"draw"`
	Grouping struct {
		DefaultSize int  `yaml:"default_size"`
		IceBreakers bool `yaml:"ice_breakers"`
	} `yaml:"grouping"`
	Naming struct {
		Provider  string        `yaml:"provider"`
		Model     string        `yaml:"model"`
		APIKeyEnv string        `yaml:"api_key_env"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"naming"`
	Export struct {
		Header []string `yaml:"header"`
	} `yaml:"export"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Draw.SpinTicks < 0 {
		return fmt.Errorf("draw.spin_ticks must not be negative")
	}
	if c.Draw.SpinInterval < 0 {
		return fmt.Errorf("draw.spin_interval must not be negative")
	}
	if c.Grouping.DefaultSize < 1 {
		return fmt.Errorf("grouping.default_size must be at least 1")
	}
	switch c.Naming.Provider {
	case ProviderGemini, ProviderOffline:
	default:
		return fmt.Errorf("naming.provider must be '%s' or '%s'", ProviderGemini, ProviderOffline)
	}
	if c.Naming.Provider == ProviderGemini && strings.TrimSpace(c.Naming.APIKeyEnv) == "" {
		return fmt.Errorf("naming.api_key_env is required for the gemini provider")
	}
	if c.Naming.Timeout < 0 {
		return fmt.Errorf("naming.timeout must not be negative")
	}
	if len(c.Export.Header) != 0 && len(c.Export.Header) != 2 {
		return fmt.Errorf("export.header must have exactly two columns")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// APIKey resolves the naming service key from the configured env var.
func (c *Config) APIKey() string {
	if c.Naming.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Naming.APIKeyEnv))
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "huddle.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `locale: en

draw:
  allow_repeat: false
  spin_ticks: 25
  spin_interval: 80ms

grouping:
  default_size: 4
  ice_breakers: false

naming:
  provider: offline
  model: gemini-3-flash-preview
  api_key_env: GEMINI_API_KEY
  timeout: 15s

export:
  header: [GroupName, MemberName]

server:
  addr: 127.0.0.1:8080
  base_path: /v0

webhooks: []
`
