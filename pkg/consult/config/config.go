// Package config loads the medconsult service configuration.
//
// Precedence: environment (MEDCONSULT_ prefix, "." replaced by "_") over
// the YAML file over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/randalmurphal/medconsult/pkg/consult/logging"
	"github.com/randalmurphal/medconsult/pkg/consult/speech"
	"github.com/randalmurphal/medconsult/pkg/consult/toolset"
	"github.com/randalmurphal/medconsult/pkg/consult/tracing"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEDCONSULT"

// Config is the root configuration.
type Config struct {
	Models  ModelsConfig   `mapstructure:"models" yaml:"models"`
	Consult ConsultConfig  `mapstructure:"consult" yaml:"consult"`
	Tools   ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Speech  speech.Config  `mapstructure:"speech" yaml:"speech"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// ModelsConfig holds the model endpoints.
type ModelsConfig struct {
	// Medical classifies and advises.
	Medical llm.ModelConfig `mapstructure:"medical" yaml:"medical"`
	// Questioner drives the tool-augmented question turns.
	Questioner llm.ModelConfig `mapstructure:"questioner" yaml:"questioner"`
	// Fallback replaces the questioner for the rest of a turn after it fails.
	Fallback llm.ModelConfig `mapstructure:"fallback" yaml:"fallback"`
	// Summarizer writes the patient summary. Empty model: the questioner.
	Summarizer llm.ModelConfig `mapstructure:"summarizer" yaml:"summarizer"`
}

// SummarizerConfig returns the summarizer endpoint, defaulting to the
// questioner's.
func (m ModelsConfig) SummarizerConfig() llm.ModelConfig {
	if m.Summarizer.Model == "" {
		return m.Questioner
	}
	return m.Summarizer
}

// ConsultConfig tunes the workflow.
type ConsultConfig struct {
	MaxQuestions     int    `mapstructure:"max_questions" yaml:"max_questions"`
	DecisionAttempts int    `mapstructure:"decision_attempts" yaml:"decision_attempts"`
	PromptsFile      string `mapstructure:"prompts_file" yaml:"prompts_file"`
	SessionLocking   bool   `mapstructure:"session_locking" yaml:"session_locking"`
}

// ToolsConfig configures the responder's tools.
type ToolsConfig struct {
	MaxSteps      int                    `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRetries    int                    `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay  time.Duration          `mapstructure:"initial_delay" yaml:"initial_delay"`
	BackoffFactor float64                `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	MCPServers    []toolset.ServerConfig `mapstructure:"mcp_servers" yaml:"mcp_servers"`
}

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// StoreConfig selects the session store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	// CacheSize is the number of sessions whose latest checkpoint is kept
	// in memory. 0 disables the cache.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// LogConfig configures the process logger.
type LogConfig = logging.Config

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxAudioBytes   int64         `mapstructure:"max_audio_bytes" yaml:"max_audio_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// Keys without a default are invisible to environment overrides.
	for _, model := range []string{"medical", "questioner", "fallback", "summarizer"} {
		v.SetDefault("models."+model+".api_key", "")
		v.SetDefault("models."+model+".model", "")
	}
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.language", "")
	v.SetDefault("consult.prompts_file", "")

	v.SetDefault("models.medical.provider", llm.ProviderOpenAI)
	v.SetDefault("models.medical.model", "unsloth/medgemma-4b-it-bnb-4bit")
	v.SetDefault("models.medical.base_url", "http://localhost:8000/v1")
	v.SetDefault("models.medical.temperature", 0.9)
	v.SetDefault("models.medical.max_tokens", 2048)
	v.SetDefault("models.medical.timeout", llm.DefaultTimeout)

	v.SetDefault("models.questioner.provider", llm.ProviderOpenAI)
	v.SetDefault("models.questioner.model", "z-ai/glm-4.5-air:free")
	v.SetDefault("models.questioner.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("models.questioner.timeout", 60*time.Second)
	v.SetDefault("models.questioner.max_retries", 2)

	v.SetDefault("models.fallback.provider", llm.ProviderOpenAI)
	v.SetDefault("models.fallback.model", "amazon/nova-2-lite-v1:free")
	v.SetDefault("models.fallback.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("models.fallback.timeout", 60*time.Second)
	v.SetDefault("models.fallback.max_retries", 2)

	v.SetDefault("consult.max_questions", 10)
	v.SetDefault("consult.decision_attempts", 3)
	v.SetDefault("consult.session_locking", true)

	v.SetDefault("tools.max_steps", 10)
	v.SetDefault("tools.max_retries", 3)
	v.SetDefault("tools.initial_delay", time.Second)
	v.SetDefault("tools.backoff_factor", 2.0)

	v.SetDefault("speech.base_url", "http://localhost:8000/v1")
	v.SetDefault("speech.transcription_model", speech.DefaultTranscriptionModel)
	v.SetDefault("speech.speech_model", speech.DefaultSpeechModel)
	v.SetDefault("speech.voice", speech.DefaultVoice)
	v.SetDefault("speech.format", speech.DefaultFormat)
	v.SetDefault("speech.timeout", speech.DefaultTimeout)

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "medconsult.db")
	v.SetDefault("store.cache_size", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_audio_bytes", 25<<20)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.ca_file", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads the configuration. A missing file at path is not an error;
// a file that fails to parse is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	models := []struct {
		name string
		cfg  llm.ModelConfig
	}{
		{"medical", c.Models.Medical},
		{"questioner", c.Models.Questioner},
		{"fallback", c.Models.Fallback},
		{"summarizer", c.Models.SummarizerConfig()},
	}
	for _, m := range models {
		if err := m.cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", m.name, err))
		}
	}

	if c.Consult.MaxQuestions <= 0 {
		errs = append(errs, fmt.Errorf("consult.max_questions must be > 0, got %d", c.Consult.MaxQuestions))
	}
	if c.Consult.DecisionAttempts <= 0 {
		errs = append(errs, fmt.Errorf("consult.decision_attempts must be > 0, got %d", c.Consult.DecisionAttempts))
	}

	if c.Tools.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("tools.max_steps must be > 0, got %d", c.Tools.MaxSteps))
	}
	if c.Tools.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("tools.max_retries must be >= 0, got %d", c.Tools.MaxRetries))
	}
	if c.Tools.InitialDelay < 0 {
		errs = append(errs, errors.New("tools.initial_delay must be >= 0"))
	}
	if c.Tools.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("tools.backoff_factor must be >= 1, got %g", c.Tools.BackoffFactor))
	}
	for i, srv := range c.Tools.MCPServers {
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tools.mcp_servers[%d]: %w", i, err))
		}
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("store.cache_size must be >= 0, got %d", c.Store.CacheSize))
	}

	switch strings.ToLower(c.Log.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}
