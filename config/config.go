package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	LLM        LLMConfig        `yaml:"llm"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Store      StoreConfig      `yaml:"store"`
	Minio      MinioConfig      `yaml:"minio"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ResilienceConfig bounds the call to the LLM provider
type ResilienceConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

type AnalysisConfig struct {
	MaxPromptChars int  `yaml:"max_prompt_chars"`
	MaxClauses     int  `yaml:"max_clauses"`
	OmitFullText   bool `yaml:"omit_full_text"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"` // memory, sqlite, minio
	MaxRecords int    `yaml:"max_records"`
	SQLitePath string `yaml:"sqlite_path"`
	ListLimit  int    `yaml:"list_limit"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMinio  = "minio"
)

// MaxClauses is the upper bound on analysis.max_clauses; an analysis never
// holds more clauses than this
const MaxClauses = 10

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and fills defaults. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderGemini
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderOpenAI:
			c.LLM.Model = "gpt-4o-mini"
		default:
			c.LLM.Model = "gemini-2.0-flash"
		}
	}
	if c.Resilience.MaxAttempts == 0 {
		c.Resilience.MaxAttempts = 3
	}
	if c.Resilience.InitialDelay == 0 {
		c.Resilience.InitialDelay = time.Second
	}
	if c.Resilience.Timeout == 0 {
		c.Resilience.Timeout = 120 * time.Second
	}
	if c.Analysis.MaxPromptChars == 0 {
		c.Analysis.MaxPromptChars = 10000
	}
	if c.Analysis.MaxClauses == 0 {
		c.Analysis.MaxClauses = MaxClauses
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.MaxRecords == 0 {
		c.Store.MaxRecords = 1000
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "analyses.db"
	}
	if c.Store.ListLimit == 0 {
		c.Store.ListLimit = 100
	}
	if c.Minio.Prefix == "" {
		c.Minio.Prefix = "analyses/"
	}
}

// Validate checks enumerated values and limits
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("minio store requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Analysis.MaxPromptChars < 0 {
		return fmt.Errorf("analysis.max_prompt_chars must be positive")
	}
	if c.Analysis.MaxClauses < 0 || c.Analysis.MaxClauses > MaxClauses {
		return fmt.Errorf("analysis.max_clauses must be between 0 (default) and %d", MaxClauses)
	}
	if c.Resilience.MaxAttempts < 0 {
		return fmt.Errorf("resilience.max_attempts must be positive")
	}
	return nil
}
