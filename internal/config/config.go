package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Output    string `yaml:"output"`
	Mode      string `yaml:"mode"`
	BatchSize int    `yaml:"batch_size"`
	Debug     bool   `yaml:"debug"`
	Progress  bool   `yaml:"progress"`
	Wait      bool   `yaml:"wait"`

	DefaultURL string `yaml:"default_url"`

	Render       bool   `yaml:"render"`
	RenderSettle string `yaml:"render_settle"`
	ChromeURL    string `yaml:"chrome_url"`

	CFBypass   bool   `yaml:"cf_bypass"`
	Cookie     string `yaml:"cookie"`
	CookieFile string `yaml:"cookie_file"`
	UserAgent  string `yaml:"user_agent"`
}

// Options carries CLI overrides. Zero values leave the loaded config alone.
type Options struct {
	IgnoreConfig bool
	Debug        bool
	Output       string
	Mode         string
	BatchSize    int
	Progress     bool
	Wait         bool
	DefaultURL   string
	Render       bool
	RenderSettle string
	ChromeURL    string
	CFBypass     bool
	Cookie       string
	CookieFile   string
	UserAgent    string
}

func DefaultConfig() *Config {
	return &Config{
		Output:       ".",
		Mode:         "batch",
		BatchSize:    10,
		Progress:     true,
		RenderSettle: "2s",
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadMerged reads the active profile of s, applies opts on top and
// returns the result with a description of where it came from.
func LoadMerged(s *Store, opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := s.ActivePath()
	if err == ErrNoConfig {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `wxstrip config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Debug {
		c.Debug = true
	}
	if o.Progress {
		c.Progress = true
	}
	if o.Wait {
		c.Wait = true
	}
	if o.DefaultURL != "" {
		c.DefaultURL = o.DefaultURL
	}
	if o.Render {
		c.Render = true
	}
	if o.RenderSettle != "" {
		c.RenderSettle = o.RenderSettle
	}
	if o.ChromeURL != "" {
		c.ChromeURL = o.ChromeURL
	}
	if o.CFBypass {
		c.CFBypass = true
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
}

func normalizeDefaults(c *Config) {
	if c.Output == "" {
		c.Output = "."
	}
	if c.Mode == "" {
		c.Mode = "batch"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Settle parses RenderSettle, falling back to zero on garbage.
func (c *Config) Settle() time.Duration {
	d, err := time.ParseDuration(c.RenderSettle)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (c *Config) Print() {
	fmt.Printf(" -output: %s\n", c.Output)
	fmt.Printf(" -mode: %s\n", c.Mode)
	if c.Mode != "single" {
		fmt.Printf(" -batch_size: %d\n", c.BatchSize)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
	fmt.Printf(" -progress: %t\n", c.Progress)
	if c.Wait {
		fmt.Printf(" -wait: %t\n", c.Wait)
	}
	if c.DefaultURL != "" {
		fmt.Printf(" -url: %s\n", c.DefaultURL)
	}
	if c.Render {
		fmt.Printf(" -render: %t (settle %s)\n", c.Render, c.RenderSettle)
	}
	if c.ChromeURL != "" {
		fmt.Printf(" -chrome_url: %s\n", c.ChromeURL)
	}
	if c.CFBypass {
		fmt.Printf(" -cf_bypass: %t\n", c.CFBypass)
	}
	if c.CookieFile != "" {
		fmt.Printf(" -cookie_file: %s\n", c.CookieFile)
	}
	if c.UserAgent != "" {
		fmt.Printf(" -user_agent: %s\n", c.UserAgent)
	}
}
