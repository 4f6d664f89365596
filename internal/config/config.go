package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flightplan/internal/logging"
	"flightplan/internal/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = "flightplan.yaml"

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   logging.Config  `yaml:"logging"`
	SSH       SSHConfig       `yaml:"ssh"`
	Execution ExecutionConfig `yaml:"execution"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Secrets   SecretsConfig   `yaml:"secrets"`

	// path the config was loaded from; empty for Default()
	path string
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type SSHConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"` // 0 disables the per-command deadline
	DefaultPort    string        `yaml:"default_port"`
	KnownHosts     string        `yaml:"known_hosts"` // empty accepts any host key
}

type ExecutionConfig struct {
	MaxParallel      int `yaml:"max_parallel"`
	TemplateMaxDepth int `yaml:"template_max_depth"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type CatalogConfig struct {
	Files []string `yaml:"files"`
}

type SecretsConfig struct {
	AWS AWSSecretsConfig `yaml:"aws"`
}

type AWSSecretsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "flightplan.db",
			BusyTimeout: 5 * time.Second,
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		SSH: SSHConfig{
			ConnectTimeout: 30 * time.Second,
			DefaultPort:    "22",
		},
		Execution: ExecutionConfig{
			MaxParallel:      10,
			TemplateMaxDepth: 5,
		},
	}
}

// Path returns the file the configuration was read from.
func (c *Config) Path() string { return c.path }

// Dir returns the directory relative paths in the configuration are resolved against.
func (c *Config) Dir() string {
	if c.path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	return filepath.Dir(c.path)
}

func ValidateConfig(cfg *Config) error {
	var validationErrors []string

	if strings.TrimSpace(cfg.Database.Path) == "" {
		validationErrors = append(validationErrors, "database.path cannot be empty")
	}
	if cfg.Database.BusyTimeout < 0 {
		validationErrors = append(validationErrors, "database.busy_timeout cannot be negative")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		validationErrors = append(validationErrors, fmt.Sprintf("logging.level: %v", err))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "json", "text":
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("logging.format must be json or text, got %q", cfg.Logging.Format))
	}

	if cfg.SSH.ConnectTimeout < 0 {
		validationErrors = append(validationErrors, "ssh.connect_timeout cannot be negative")
	}
	if cfg.SSH.CommandTimeout < 0 {
		validationErrors = append(validationErrors, "ssh.command_timeout cannot be negative")
	}
	if port := strings.TrimSpace(cfg.SSH.DefaultPort); port != "" {
		if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			validationErrors = append(validationErrors, "ssh.default_port must be a valid number between 1-65535")
		}
	}
	if kh := strings.TrimSpace(cfg.SSH.KnownHosts); kh != "" {
		if _, err := os.Stat(kh); os.IsNotExist(err) {
			validationErrors = append(validationErrors, fmt.Sprintf("ssh.known_hosts file does not exist: %s", kh))
		}
	}

	if cfg.Execution.MaxParallel < 1 {
		validationErrors = append(validationErrors, "execution.max_parallel must be at least 1")
	}
	if cfg.Execution.TemplateMaxDepth < 1 {
		validationErrors = append(validationErrors, "execution.template_max_depth must be at least 1")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("metrics.listen is not a host:port address: %s", listen))
		}
	}

	for i, f := range cfg.Catalog.Files {
		if strings.TrimSpace(f) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("catalog.files[%d] cannot be empty", i))
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

// Load reads and validates the configuration at path. An empty path looks for
// flightplan.yaml in the working directory and falls back to Default() when absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := Default()
			return cfg, ValidateConfig(cfg)
		}
		return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %v", path, err)
	}

	cfg, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}
	cfg.path = absPath

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config text on top of Default(), interpolating ${VAR}
// from the environment and from a .env file in dir.
func Parse(data []byte, dir string) (*Config, error) {
	envMap, err := loadDotEnvIfExists(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load .env: %v", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data), envMap)), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if dir != "" {
		cfg.Database.Path = resolveRelative(dir, cfg.Database.Path)
		for i, f := range cfg.Catalog.Files {
			cfg.Catalog.Files[i] = resolveRelative(dir, f)
		}
	}
	return cfg, nil
}

func resolveRelative(dir, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func ConfigExists() bool {
	_, err := os.Stat(GetConfigPath())
	return err == nil
}

// GetConfigPath returns the nearest flightplan.yaml at or above the working
// directory, or the would-be path in the working directory when none exists.
func GetConfigPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ConfigFileName
	}
	if found, ok := util.FindUpward(wd, ConfigFileName); ok {
		return found
	}
	return filepath.Join(wd, ConfigFileName)
}

func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	m, err := godotenv.Read(envPath)
	if err != nil {
		logging.Warn("failed to parse .env", map[string]interface{}{"path": envPath, "error": err.Error()})
		return map[string]string{}, err
	}
	return m, nil
}

// interpolateEnv replaces ${VAR} and $VAR occurrences. Precedence: OS env > envMap.
// Missing variables become the empty string and are reported once each.
func interpolateEnv(input string, envMap map[string]string) string {
	warned := map[string]bool{}
	return os.Expand(input, func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		if !warned[name] {
			warned[name] = true
			logging.Warn("environment variable not set; using empty string", map[string]interface{}{"var": name})
		}
		return ""
	})
}
