package enginecfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "CODEENGINE_"
	dirName   = "codeengine_cfg"
	fileName  = "config.yaml"
)

// Config models the engine settings stored under a workspace.
type Config struct {
	Workspace string         `yaml:"-"`
	EditorKey string         `yaml:"editor_key"`
	Endpoints EndpointConfig `yaml:"endpoints"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Search    SearchConfig   `yaml:"search"`
	Journal   JournalConfig  `yaml:"journal"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// EndpointConfig lists listen and dial addresses.
type EndpointConfig struct {
	Command string `yaml:"command"`
	Events  string `yaml:"events"`
	Editor  string `yaml:"editor,omitempty"`
	API     string `yaml:"api"`
}

// DispatchConfig sizes the handler worker pool.
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SearchConfig tunes query defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	ResultCache  int `yaml:"result_cache"`
	SymbolLimit  int `yaml:"symbol_limit"`
}

// JournalConfig enables the SQLite event journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
	Keep int    `yaml:"keep"`
}

// LoggingConfig redirects logs and telemetry to files.
type LoggingConfig struct {
	File   string `yaml:"file,omitempty"`
	Events string `yaml:"events,omitempty"`
}

// Default returns the settings used when no file exists.
func Default(workspace string) *Config {
	return &Config{
		Workspace: workspace,
		Endpoints: EndpointConfig{
			Command: "127.0.0.1:0",
			Events:  "127.0.0.1:0",
			API:     "127.0.0.1:8750",
		},
		Dispatch: DispatchConfig{QueueSize: 256},
		Search:   SearchConfig{DefaultLimit: 50, ResultCache: 256, SymbolLimit: 200},
		Journal:  JournalConfig{Keep: 10000},
	}
}

// ConfigDir resolves the directory storing engine settings.
func ConfigDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName)
}

// ConfigFile returns the YAML config path.
func ConfigFile(workspace string) string {
	return filepath.Join(ConfigDir(workspace), fileName)
}

// Load reads <workspace>/.env, then the YAML file, then CODEENGINE_* env
// overrides. A missing file yields defaults.
func Load(workspace string) (*Config, error) {
	if workspace == "" {
		workspace = "."
	}
	envFile := filepath.Join(workspace, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default(workspace)
	data, err := os.ReadFile(ConfigFile(workspace))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigFile(workspace), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	cfg.Workspace = workspace
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"EDITOR_KEY":   &c.EditorKey,
		"COMMAND_ADDR": &c.Endpoints.Command,
		"EVENT_ADDR":   &c.Endpoints.Events,
		"EDITOR_ADDR":  &c.Endpoints.Editor,
		"API_ADDR":     &c.Endpoints.API,
		"JOURNAL":      &c.Journal.Path,
		"LOG_FILE":     &c.Logging.File,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	ints := map[string]*int{
		"WORKERS":    &c.Dispatch.Workers,
		"QUEUE_SIZE": &c.Dispatch.QueueSize,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}
	return nil
}

func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.Journal.Path, &c.Logging.File, &c.Logging.Events} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Workspace, *p)
		}
	}
}

// Save writes the configuration back to disk.
func Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("engine config missing")
	}
	if cfg.Workspace == "" {
		return errors.New("workspace path missing")
	}
	if err := os.MkdirAll(ConfigDir(cfg.Workspace), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigFile(cfg.Workspace), data, 0o644)
}
