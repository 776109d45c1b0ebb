package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROADMATE_"

// ConfigPath returns the default configuration file path: ~/.roadmate/config.json.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DataDir returns the roadmate data directory: ~/.roadmate.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roadmate"
	}
	return filepath.Join(home, ".roadmate")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", filepath.Join(DataDir(), ".env")}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// Load reads and parses the config file at path, then applies ROADMATE_*
// environment overrides. If path is empty, ConfigPath() is used. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
// On parse failure it logs a warning and uses DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if isYAML(path) {
			err = yaml.Unmarshal(data, &cfg)
		} else {
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			slog.Warn("failed to parse config, using defaults", "path", path, "err", err)
			cfg = DefaultConfig()
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as indented JSON, or YAML for .yaml/.yml paths.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg from ROADMATE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("MODEL", &cfg.Agents.Defaults.Model)
	str("PROVIDER", &cfg.Agents.Defaults.Provider)
	str("EMBEDDING_MODEL", &cfg.Agents.Defaults.EmbeddingModel)
	str("USER_ID", &cfg.Agents.Defaults.UserID)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DB_PATH", &cfg.Storage.Path)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("LOCK_DRIVER", &cfg.Lock.Driver)
	str("REDIS_ADDR", &cfg.Lock.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Lock.RedisPassword)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_FILE", &cfg.Logging.File)
	if err := num("COMPACTION_THRESHOLD", &cfg.Compaction.Threshold); err != nil {
		return err
	}

	// Credentials go to the provider that serves the configured model.
	key, hasKey := lookup(EnvPrefix + "API_KEY")
	base, hasBase := lookup(EnvPrefix + "API_BASE")
	if (hasKey && key != "") || (hasBase && base != "") {
		name := cfg.Agents.Defaults.Provider
		if name == "" {
			if m := cfg.MatchProvider(""); m.Name != "" {
				name = m.Name
			} else if spec := providerForModel(cfg.Agents.Defaults.Model); spec != "" {
				name = spec
			} else {
				name = "custom"
			}
		}
		p := cfg.ProviderByName(name)
		if p == nil {
			return fmt.Errorf("%sPROVIDER: unknown provider %q", EnvPrefix, name)
		}
		if key != "" {
			p.APIKey = key
		}
		if base != "" {
			p.APIBase = base
		}
	}
	return nil
}
