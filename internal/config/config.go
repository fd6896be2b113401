package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/cityresearch/internal/element"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Research   Research           `yaml:"research"`
	Synthesis  Synthesis          `yaml:"synthesis"`
	Validation element.Thresholds `yaml:"validation"`
	Store      Store              `yaml:"store"`
	Output     Output             `yaml:"output"`
	Logging    Logging            `yaml:"logging"`
}

type Research struct {
	// Providers is the fallback order; the first configured one answers.
	Providers      []string      `yaml:"providers"`
	Concurrency    int           `yaml:"concurrency"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Perplexity     APIProvider   `yaml:"perplexity"`
	Gemini         APIProvider   `yaml:"gemini"`
	NewsAPI        NewsAPIConfig `yaml:"newsapi"`
	Feeds          FeedsConfig   `yaml:"feeds"`
}

type Synthesis struct {
	Providers      []string     `yaml:"providers"`
	Temperature    float64      `yaml:"temperature"`
	MaxTokens      int          `yaml:"max_tokens"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	OpenAI         APIProvider  `yaml:"openai"`
	Gemini         APIProvider  `yaml:"gemini"`
	Ollama         OllamaConfig `yaml:"ollama"`
}

// APIProvider is a hosted model endpoint authenticated by an API key held
// in the environment variable APIKeyEnv.
type APIProvider struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	PageSize  int    `yaml:"page_size"`
	BaseURL   string `yaml:"base_url"`
}

type FeedsConfig struct {
	Enabled bool `yaml:"enabled"`
	// SearchURL is a feed URL with a single %s for the escaped query.
	SearchURL    string `yaml:"search_url"`
	MaxItems     int    `yaml:"max_items"`
	FetchContent bool   `yaml:"fetch_content"`
}

type OllamaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url"`
}

type Store struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
	// DSNEnv names an environment variable holding the DSN; it wins over DSN.
	DSNEnv string `yaml:"dsn_env"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for cityresearch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "cityresearch")
}

// DataDir returns the XDG data directory for cityresearch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "cityresearch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/cityresearch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'cityresearch init' to create a default config",
		xdgConfig,
	)
}

// LoadDotEnv loads provider credentials from ~/.config/cityresearch/.env and
// ./.env. Variables already set in the environment are left alone and
// missing files are ignored.
func LoadDotEnv() {
	for _, p := range []string{filepath.Join(ConfigDir(), ".env"), ".env"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Research: Research{
			Providers:      []string{"perplexity", "gemini", "newsapi", "feeds"},
			Concurrency:    1,
			Temperature:    0.2,
			MaxTokens:      1500,
			TimeoutSeconds: 60,
			Perplexity: APIProvider{
				Model:     "sonar",
				APIKeyEnv: "PERPLEXITY_API_KEY",
				BaseURL:   "https://api.perplexity.ai",
			},
			Gemini: APIProvider{
				Model:     "gemini-2.5-flash",
				APIKeyEnv: "GEMINI_API_KEY",
			},
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWSAPI_KEY",
				PageSize:  20,
				BaseURL:   "https://newsapi.org/v2/everything",
			},
			Feeds: FeedsConfig{
				SearchURL:    "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
				MaxItems:     8,
				FetchContent: false,
			},
		},
		Synthesis: Synthesis{
			Providers:      []string{"openai", "gemini", "ollama"},
			Temperature:    0.3,
			MaxTokens:      4000,
			TimeoutSeconds: 120,
			OpenAI: APIProvider{
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				BaseURL:   "https://api.openai.com/v1",
			},
			Gemini: APIProvider{
				Model:     "gemini-2.5-flash",
				APIKeyEnv: "GEMINI_API_KEY",
			},
			Ollama: OllamaConfig{
				Model: "qwen2.5:7b",
				URL:   "http://localhost:11434",
			},
		},
		Validation: element.DefaultThresholds,
		Store:      Store{Driver: "sqlite", DSNEnv: "CITYRESEARCH_DATABASE_URL"},
		Logging:    Logging{Level: "info", Format: "console"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Research.Concurrency < 1 {
		c.Research.Concurrency = 1
	}
	if c.Research.Feeds.Enabled && strings.Count(c.Research.Feeds.SearchURL, "%s") != 1 {
		return fmt.Errorf("research.feeds.search_url must contain exactly one %%s")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// StoreDSN returns the connection string for the configured store. SQLite
// defaults to a file in the data directory.
func (c *Config) StoreDSN() string {
	if c.Store.DSNEnv != "" {
		if v := Credential(c.Store.DSNEnv); v != "" {
			return v
		}
	}
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	if strings.EqualFold(c.Store.Driver, "sqlite") {
		return filepath.Join(c.GetDataDir(), "cityresearch.db")
	}
	return ""
}

// Credential reads an API key from the environment. An empty result means
// the provider is unconfigured, which is not an error.
func Credential(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
