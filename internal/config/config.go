// Package config loads the anxun configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/tracing"
	"github.com/Zerofisher/anxun/pkg/model"
)

// Duration is a time.Duration written as "60s" / "1m30s" in YAML. A bare
// integer is read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if secs, err := strconv.Atoi(value.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q at line %d: %w", value.Value, value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TsharkConfig locates the capture tool.
type TsharkConfig struct {
	Path    string `yaml:"path"`
	TempDir string `yaml:"temp_dir"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
	SlowCall    Duration `yaml:"slow_call"`
	VerySlow    Duration `yaml:"very_slow_call"`
}

// AIConfig selects and tunes the inference backend.
type AIConfig struct {
	Provider       string            `yaml:"provider"`
	BaseURL        string            `yaml:"base_url"`
	APIKey         string            `yaml:"api_key"`
	Model          string            `yaml:"model"`
	ChatModel      string            `yaml:"chat_model"`
	Timeout        Duration          `yaml:"timeout"`
	HealthTimeout  Duration          `yaml:"health_timeout"`
	EnableThinking bool              `yaml:"enable_thinking"`
	ModelAliases   map[string]string `yaml:"model_aliases"`
}

// ChatConfig bounds chat sessions.
type ChatConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// CaptureConfig holds live-capture defaults.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	Duration    int    `yaml:"duration"`
	PacketCount int    `yaml:"packet_count"`
}

// NotifyConfig configures high-risk alert delivery. An empty NATSURL
// disables alerts.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// TracingConfig configures OTLP trace export for inference calls and
// tshark runs. Public and secret keys are sent as basic auth.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	URLPath   string `yaml:"url_path"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Insecure  bool   `yaml:"insecure"`
}

// LogConfig configures the syslog-format logger.
type LogConfig struct {
	AppName string `yaml:"app_name"`
	Level   string `yaml:"level"`
}

// Config is the top-level configuration.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Tshark  TsharkConfig  `yaml:"tshark"`
	Server  ServerConfig  `yaml:"server"`
	AI      AIConfig      `yaml:"ai"`
	Chat    ChatConfig    `yaml:"chat"`
	Capture CaptureConfig `yaml:"capture"`
	Notify  NotifyConfig  `yaml:"notify"`
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Tshark:  TsharkConfig{Path: "tshark"},
		Server: ServerConfig{
			ListenAddr:  ":5000",
			MaxUploadMB: 100,
			SlowCall:    Duration(time.Second),
			VerySlow:    Duration(2 * time.Second),
		},
		AI: AIConfig{
			Provider:       string(llm.ProviderOllama),
			Model:          "qwen3:8b",
			Timeout:        Duration(60 * time.Second),
			HealthTimeout:  Duration(5 * time.Second),
			EnableThinking: true,
			ModelAliases:   map[string]string{"qwen2.5:7b": "qwen3:8b"},
		},
		Chat: ChatConfig{MaxHistory: 10},
		Capture: CaptureConfig{
			Interface:   model.DefaultCaptureInterface,
			Duration:    model.DefaultCaptureDuration,
			PacketCount: model.DefaultCapturePackets,
		},
		Notify:  NotifyConfig{Subject: "anxun.alerts"},
		Tracing: TracingConfig{URLPath: tracing.DefaultURLPath},
		Log:     LogConfig{AppName: "anxun", Level: "info"},
	}
}

// Load reads the configuration at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv
// outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if getenv("AI_PROVIDER") == "" && c.AI.Provider == string(llm.ProviderOllama) &&
		(getenv("OPENAI_API_KEY") != "" || getenv("OPENAI_BASE_URL") != "") {
		c.AI.Provider = string(llm.ProviderOpenAI)
	}
	set(&c.AI.Provider, "AI_PROVIDER")
	if p, err := llm.ParseProvider(c.AI.Provider); err == nil && p == llm.ProviderOpenAI {
		set(&c.AI.BaseURL, "OPENAI_BASE_URL")
		set(&c.AI.APIKey, "OPENAI_API_KEY")
	} else {
		set(&c.AI.BaseURL, "OLLAMA_BASE_URL")
		set(&c.AI.APIKey, "OLLAMA_API_KEY")
	}
	set(&c.AI.Model, "AI_MODEL")
	set(&c.DataDir, "ANXUN_DATA_DIR")
	set(&c.Server.ListenAddr, "ANXUN_LISTEN_ADDR")
	set(&c.Tshark.Path, "TSHARK_PATH")
	set(&c.Notify.NATSURL, "NATS_URL")
	set(&c.Log.Level, "ANXUN_LOG_LEVEL")

	set(&c.Tracing.Endpoint, "ANXUN_TRACING_ENDPOINT")
	set(&c.Tracing.URLPath, "ANXUN_TRACING_URL_PATH")
	set(&c.Tracing.PublicKey, "ANXUN_TRACING_PUBLIC_KEY")
	set(&c.Tracing.SecretKey, "ANXUN_TRACING_SECRET_KEY")
	if v, err := strconv.ParseBool(getenv("ANXUN_TRACING_ENABLED")); err == nil {
		c.Tracing.Enabled = v
	}
}

// Validate checks the configuration for values the services cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Tshark.Path == "" {
		return fmt.Errorf("tshark.path must not be empty")
	}
	if _, err := llm.ParseProvider(c.AI.Provider); err != nil {
		return fmt.Errorf("ai.provider: %w", err)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai.model must not be empty")
	}
	if c.AI.Timeout <= 0 || c.AI.HealthTimeout <= 0 {
		return fmt.Errorf("ai timeouts must be positive")
	}
	if c.Chat.MaxHistory <= 0 {
		return fmt.Errorf("chat.max_history must be positive, got %d", c.Chat.MaxHistory)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint must be set when tracing is enabled")
		}
		if (c.Tracing.PublicKey == "") != (c.Tracing.SecretKey == "") {
			return fmt.Errorf("tracing.public_key and tracing.secret_key must be set together")
		}
	}
	req := model.CaptureRequest{
		Interface:   c.Capture.Interface,
		Duration:    c.Capture.Duration,
		PacketCount: c.Capture.PacketCount,
	}.WithDefaults()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("capture defaults: %w", err)
	}
	return nil
}

// ChatModel returns the model used for chat, falling back to the analysis
// model.
func (c *Config) ChatModel() string {
	if c.AI.ChatModel != "" {
		return c.AI.ChatModel
	}
	return c.AI.Model
}

// CaptureDefaults fills the zero fields of req from the capture section.
func (c *Config) CaptureDefaults(req model.CaptureRequest) model.CaptureRequest {
	if req.Interface == "" {
		req.Interface = c.Capture.Interface
	}
	if req.Duration == 0 {
		req.Duration = c.Capture.Duration
	}
	if req.PacketCount == 0 {
		req.PacketCount = c.Capture.PacketCount
	}
	return req.WithDefaults()
}

// LLM returns the provider and client configuration for the AI section.
func (c *Config) LLM() (llm.Provider, *llm.Config, error) {
	provider, err := llm.ParseProvider(c.AI.Provider)
	if err != nil {
		return "", nil, err
	}
	cfg := llm.DefaultConfig()
	cfg.BaseURL = c.AI.BaseURL
	cfg.APIKey = c.AI.APIKey
	cfg.Model = c.AI.Model
	cfg.Timeout = c.AI.Timeout.Std()
	cfg.HealthTimeout = c.AI.HealthTimeout.Std()
	return provider, cfg, nil
}

// TracingOptions returns the exporter settings for the tracing section.
func (c *Config) TracingOptions() tracing.Config {
	return tracing.Config{
		Enabled:        c.Tracing.Enabled,
		Endpoint:       c.Tracing.Endpoint,
		URLPath:        c.Tracing.URLPath,
		PublicKey:      c.Tracing.PublicKey,
		SecretKey:      c.Tracing.SecretKey,
		Insecure:       c.Tracing.Insecure,
		ServiceName:    c.Log.AppName,
	}
}
