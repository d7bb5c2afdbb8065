// Package config loads process configuration from a .env file and
// STRIDE_* environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Storage StorageConfig
	Search  SearchConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string // empty disables bearer auth
}

type LLMConfig struct {
	APIKey    string
	BaseURL   string // empty uses the provider default
	ChatModel string
}

type StorageConfig struct {
	DataDir string
}

type SearchConfig struct {
	Endpoint string // SearxNG-style instance; empty disables web search
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "stride-data"
		}
	}
	return filepath.Join(dir, "stride")
}

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "STRIDE_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "STRIDE_AUTH_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
	},
	{
		env: "STRIDE_OPENAI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
	},
	{
		env: "STRIDE_OPENAI_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
	},
	{
		env: "STRIDE_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
	},
	{
		env: "STRIDE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "STRIDE_SEARCH_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Search.Endpoint = v.(string) },
	},
	{
		env: "STRIDE_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

// Load reads configuration. A .env file in the working directory is loaded
// first (if present); real environment variables override its values. The
// AI-provider API key is required; its absence is a startup error.
func Load() (Config, error) {
	// godotenv never overwrites variables already set in the environment.
	_ = godotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		// Fall back to the conventional variable before failing.
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: AI provider API key. " +
			"Set STRIDE_OPENAI_API_KEY (or OPENAI_API_KEY) in the environment or a .env file")
	}
	if cfg.Storage.DataDir == "" {
		return Config{}, fmt.Errorf("missing required config: data directory. STRIDE_DATA_DIR must not be empty")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
