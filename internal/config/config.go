package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"docchat/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for docchat.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Server      ServerConfig      `json:"server"`
	AI          AIConfig          `json:"ai"`
	Database    DatabaseConfig    `json:"database"`
	Storage     StorageConfig     `json:"storage"`
	Identity    IdentityConfig    `json:"identity"`
	Attachments AttachmentsConfig `json:"attachments"`
	Render      RenderConfig      `json:"render"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	HistoryLimit          int    `json:"historyLimit"` // turns of room history sent to the model
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`                     // WebSocket endpoint
	AllowedOrigins []string `json:"allowedOrigins,omitempty"` // empty allows any origin
}

// AIConfig configures the OpenAI-compatible chat completions backend.
type AIConfig struct {
	APIBase        string        `json:"apiBase"`
	APIKey         string        `json:"apiKey,omitempty"`
	Model          string        `json:"model"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	Formats        FormatsConfig `json:"formats"`

	// Per-room throttle on model calls; 0 disables it.
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	Burst             int `json:"burst,omitempty"`
}

// SamplingConfig holds the per-format generation parameters.
type SamplingConfig struct {
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"topP"`
	FrequencyPenalty float64  `json:"frequencyPenalty"`
	PresencePenalty  float64  `json:"presencePenalty"`
	MaxTokens        int      `json:"maxTokens"`
	Stop             []string `json:"stop,omitempty"`
}

// FormatsConfig has one named field per format so that a config file may
// override a single parameter of a single format and keep the other defaults.
type FormatsConfig struct {
	Text       SamplingConfig `json:"text"`
	PDF        SamplingConfig `json:"pdf"`
	Word       SamplingConfig `json:"word"`
	Excel      SamplingConfig `json:"excel"`
	PowerPoint SamplingConfig `json:"powerpoint"`
	Checklist  SamplingConfig `json:"checklist"`
	Business   SamplingConfig `json:"business"`
	Analytics  SamplingConfig `json:"analytics"`
}

// For returns the sampling parameters of a format; unknown formats get text's.
func (f FormatsConfig) For(format domain.Format) SamplingConfig {
	if p := f.ptr(format); p != nil {
		return *p
	}
	return f.Text
}

func (f *FormatsConfig) ptr(format domain.Format) *SamplingConfig {
	switch format {
	case domain.FormatText:
		return &f.Text
	case domain.FormatPDF:
		return &f.PDF
	case domain.FormatWord:
		return &f.Word
	case domain.FormatExcel:
		return &f.Excel
	case domain.FormatPowerPoint:
		return &f.PowerPoint
	case domain.FormatChecklist:
		return &f.Checklist
	case domain.FormatBusiness:
		return &f.Business
	case domain.FormatAnalytics:
		return &f.Analytics
	}
	return nil
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" | "pgx"
	DSN    string `json:"dsn"`
}

type StorageConfig struct {
	Backend           string `json:"backend"` // "local" | "minio"
	Bucket            string `json:"bucket"`
	PresignTTLSeconds int    `json:"presignTTLSeconds"`

	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	Region    string `json:"region,omitempty"`
	UseSSL    bool   `json:"useSSL,omitempty"`

	LocalDir      string `json:"localDir,omitempty"`
	PublicBaseURL string `json:"publicBaseURL,omitempty"`
}

// IdentityConfig points at an Ory Kratos public API. Empty URL disables it
// and every connection is treated as an anonymous temp user.
type IdentityConfig struct {
	KratosPublicURL string `json:"kratosPublicURL,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
}

type AttachmentsConfig struct {
	MaxBytes      int64 `json:"maxBytes"`
	MaxPerMessage int   `json:"maxPerMessage"`
}

type RenderConfig struct {
	FontPaths []string `json:"fontPaths"` // candidate Unicode TTF fonts for PDF output
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.docchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat"
	}
	return filepath.Join(home, ".docchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (by extension), expands environment
// variables, merges it over Defaults and validates the result. A .env file
// next to the config or in the working directory is loaded first; variables
// already present in the environment win.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.LocalDir = ExpandPath(cfg.Storage.LocalDir)
	if cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = ExpandPath(cfg.Database.DSN)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(candidates ...string) {
	seen := make(map[string]bool)
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode unmarshals over cfg. YAML goes through a generic map and JSON so
// that the json tags stay the single source of field names.
func decode(path string, data []byte, cfg *Config) error {
	if !isYAML(path) {
		return json.Unmarshal(data, cfg)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, cfg)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; a reference
// with neither a value nor a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, ok := os.LookupEnv(groups[1])
		if ok && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg as JSON, or YAML when the path has a YAML extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cannot convert config: %w", err)
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.HistoryLimit < 1 || cfg.General.HistoryLimit > 500 {
		errs = append(errs, "general.historyLimit must be between 1 and 500")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}

	if cfg.AI.APIBase == "" {
		errs = append(errs, "ai.apiBase is required")
	}
	if cfg.AI.Model == "" {
		errs = append(errs, "ai.model is required")
	}
	if cfg.AI.TimeoutSeconds < 1 {
		errs = append(errs, "ai.timeoutSeconds must be >= 1")
	}
	if cfg.AI.RequestsPerMinute < 0 || cfg.AI.Burst < 0 {
		errs = append(errs, "ai.requestsPerMinute and ai.burst must not be negative")
	}
	for _, f := range domain.Formats() {
		errs = append(errs, validateSampling(string(f), cfg.AI.Formats.For(f))...)
	}

	switch cfg.Database.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, "database.driver must be one of: sqlite, pgx")
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.LocalDir == "" {
			errs = append(errs, "storage.localDir is required for the local backend")
		}
	case "minio":
		if cfg.Storage.Endpoint == "" {
			errs = append(errs, "storage.endpoint is required for the minio backend")
		}
	default:
		errs = append(errs, "storage.backend must be one of: local, minio")
	}
	if cfg.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket is required")
	}
	if cfg.Storage.PresignTTLSeconds < 1 {
		errs = append(errs, "storage.presignTTLSeconds must be >= 1")
	}

	if cfg.Attachments.MaxBytes < 1 {
		errs = append(errs, "attachments.maxBytes must be >= 1")
	}
	if cfg.Attachments.MaxPerMessage < 1 {
		errs = append(errs, "attachments.maxPerMessage must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateSampling(name string, s SamplingConfig) []string {
	var errs []string
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("ai.formats.%s.temperature must be between 0 and 2", name))
	}
	if s.TopP < 0 || s.TopP > 1 {
		errs = append(errs, fmt.Sprintf("ai.formats.%s.topP must be between 0 and 1", name))
	}
	if s.FrequencyPenalty < -2 || s.FrequencyPenalty > 2 {
		errs = append(errs, fmt.Sprintf("ai.formats.%s.frequencyPenalty must be between -2 and 2", name))
	}
	if s.PresencePenalty < -2 || s.PresencePenalty > 2 {
		errs = append(errs, fmt.Sprintf("ai.formats.%s.presencePenalty must be between -2 and 2", name))
	}
	if s.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("ai.formats.%s.maxTokens must be >= 1", name))
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
