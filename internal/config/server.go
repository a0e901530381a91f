package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream defaults match the hosted provider the relay was built against.
const (
	DefaultUpstreamURL         = "https://api.cerebras.ai/v1"
	DefaultModel               = "gpt-oss-120b"
	DefaultMaxCompletionTokens = 65536
	DefaultReasoningEffort     = "medium"
	DefaultMaxPromptLength     = 2000
	DefaultMaxCodeLength       = 50000
	DefaultMaxLineBytes        = 1 << 20
)

// ServerConfig holds configuration for the uigen relay server.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`

	UpstreamURL         string  `yaml:"upstream_url"`
	UpstreamAPIKey      string  `yaml:"upstream_api_key"`
	Model               string  `yaml:"model"`
	Temperature         float64 `yaml:"temperature"`
	TopP                float64 `yaml:"top_p"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
	ReasoningEffort     string  `yaml:"reasoning_effort"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	MaxPromptLength int           `yaml:"max_prompt_length"`
	MaxCodeLength   int           `yaml:"max_code_length"`
	MaxLineBytes    int           `yaml:"max_line_bytes"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	ConfigFile     string   `yaml:"-"`
	LogLevel       string   `yaml:"log_level"`
	RedisAddr      string   `yaml:"redis_addr"`
}

// SetDefaults initializes unset fields with built-in defaults. Zero is
// treated as unset here; Load keeps explicit zeros from the file and the
// environment.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = 1
	}
	if c.TopP == 0 {
		c.TopP = 1
	}
	if c.MaxCompletionTokens == 0 {
		c.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if c.ReasoningEffort == "" {
		c.ReasoningEffort = DefaultReasoningEffort
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.MaxPromptLength == 0 {
		c.MaxPromptLength = DefaultMaxPromptLength
	}
	if c.MaxCodeLength == 0 {
		c.MaxCodeLength = DefaultMaxCodeLength
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = normalizeAddr(v)
	}
	if v := GetEnv("UPSTREAM_URL", ""); v != "" {
		c.UpstreamURL = v
	}
	// CEREBRAS_API_KEY is the historical name; UPSTREAM_API_KEY wins when both are set.
	if v := GetEnv("CEREBRAS_API_KEY", ""); v != "" {
		c.UpstreamAPIKey = v
	}
	if v := GetEnv("UPSTREAM_API_KEY", ""); v != "" {
		c.UpstreamAPIKey = v
	}
	if v := GetEnv("MODEL", ""); v != "" {
		c.Model = v
	}
	if v := GetEnv("REASONING_EFFORT", ""); v != "" {
		c.ReasoningEffort = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("MAX_PROMPT_LENGTH", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPromptLength = n
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
}

// BindFlags binds command line flags on fs using the current values as defaults.
func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the public API")
	fs.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = normalizeAddr(v)
		return nil
	})
	fs.StringVar(&c.UpstreamURL, "upstream-url", c.UpstreamURL, "base URL of the OpenAI-compatible completion API")
	fs.StringVar(&c.Model, "model", c.Model, "model identifier sent upstream")
	fs.Float64Var(&c.Temperature, "temperature", c.Temperature, "sampling temperature")
	fs.Float64Var(&c.TopP, "top-p", c.TopP, "nucleus sampling probability")
	fs.IntVar(&c.MaxCompletionTokens, "max-completion-tokens", c.MaxCompletionTokens, "upper bound on generated tokens")
	fs.StringVar(&c.ReasoningEffort, "reasoning-effort", c.ReasoningEffort, "reasoning effort hint (low, medium, high)")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "overall budget for one generation")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight generations on shutdown (0 to exit immediately)")
	fs.IntVar(&c.MaxPromptLength, "max-prompt-length", c.MaxPromptLength, "maximum prompt length in characters (0 disables the check)")
	fs.IntVar(&c.MaxLineBytes, "max-line-bytes", c.MaxLineBytes, "maximum size of a pending upstream SSE line")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for server state")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// Load resolves the server configuration from the YAML config file, the
// environment and args, each source overriding the previous one. A missing
// config file is not an error.
func Load(fs *flag.FlagSet, args []string) (*ServerConfig, error) {
	var probe ServerConfig
	probe.ApplyEnv()
	probe.SetDefaults()
	pfs := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
	pfs.SetOutput(io.Discard)
	probe.BindFlags(pfs)
	fs.VisitAll(func(f *flag.Flag) {
		if pfs.Lookup(f.Name) == nil {
			pfs.Var(f.Value, f.Name, f.Usage)
		}
	})
	_ = pfs.Parse(args)

	// Defaults go in first so an explicit zero in the file or environment,
	// such as temperature: 0 or MAX_PROMPT_LENGTH=0, is kept.
	var cfg ServerConfig
	cfg.SetDefaults()
	cfg.MetricsAddr = ""
	if err := cfg.LoadFile(probe.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config %s: %w", probe.ConfigFile, err)
	}
	cfg.ConfigFile = probe.ConfigFile
	cfg.ApplyEnv()
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	metricsFollowsPort := cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "metrics-port" {
			explicit = true
		}
	})
	if metricsFollowsPort && !explicit {
		cfg.MetricsAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	return &cfg, nil
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func normalizeAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

// parseSeconds accepts either a Go duration ("90s") or a number of seconds ("90").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
