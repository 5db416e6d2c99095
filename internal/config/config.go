// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/neurochat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete neurochat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" json:"server"`
	Chat      ChatConfig      `toml:"chat" json:"chat"`
	Providers ProvidersConfig `toml:"providers" json:"providers"`
	Store     StoreConfig     `toml:"store" json:"store"`
	Auth      AuthConfig      `toml:"auth" json:"auth"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string `toml:"addr" json:"addr"`
	// BasePath prefixes every route ("" or "/api").
	BasePath string `toml:"base_path" json:"base_path"`

	ReadTimeoutSecs  int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	WriteTimeoutSecs int `toml:"write_timeout_secs" json:"write_timeout_secs"`
	IdleTimeoutSecs  int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`

	// CORSOrigins lists allowed browser origins. Empty means localhost only.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`

	// RateLimitRPS is the sustained request rate per client IP (0 disables).
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the token bucket size per client IP.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// ChatConfig contains settings for upstream model calls.
type ChatConfig struct {
	// DefaultModel is used when a client omits the model.
	DefaultModel string `toml:"default_model" json:"default_model"`
	// CallTimeoutSecs bounds each upstream call (1-600).
	CallTimeoutSecs int `toml:"call_timeout_secs" json:"call_timeout_secs"`
	// MaxCompareModels caps the number of models in one comparison. All
	// of them are called at once.
	MaxCompareModels int `toml:"max_compare_models" json:"max_compare_models"`

	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`

	// SystemPrompt replaces the built-in system message when set. Read at
	// startup only.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt,omitempty"`
}

// ProvidersConfig contains upstream credentials and endpoints. Only
// OpenRouter is required; the direct vendor backends are used when
// their key is set.
type ProvidersConfig struct {
	OpenRouterKey string `toml:"openrouter_key" json:"openrouter_key"`
	OpenRouterURL string `toml:"openrouter_url" json:"openrouter_url"`
	SiteURL       string `toml:"site_url" json:"site_url"`
	SiteName      string `toml:"site_name" json:"site_name"`

	OpenAIKey        string `toml:"openai_key" json:"openai_key"`
	OpenAIBaseURL    string `toml:"openai_base_url" json:"openai_base_url"`
	AnthropicKey     string `toml:"anthropic_key" json:"anthropic_key"`
	AnthropicBaseURL string `toml:"anthropic_base_url" json:"anthropic_base_url"`
	GeminiKey        string `toml:"gemini_key" json:"gemini_key"`
	GeminiBaseURL    string `toml:"gemini_base_url" json:"gemini_base_url"`
	MistralKey       string `toml:"mistral_key" json:"mistral_key"`
	MistralBaseURL   string `toml:"mistral_base_url" json:"mistral_base_url"`
	DeepSeekKey      string `toml:"deepseek_key" json:"deepseek_key"`
	DeepSeekBaseURL  string `toml:"deepseek_base_url" json:"deepseek_base_url"`

	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" json:"driver"`
	// Path is the sqlite database file (":memory:" allowed).
	Path string `toml:"path" json:"path"`
	// DSN is the postgres connection string.
	DSN string `toml:"dsn" json:"dsn"`
}

// AuthConfig controls how requests are mapped to users.
type AuthConfig struct {
	// Disabled maps every request to DefaultUser. Intended for local use.
	Disabled    bool         `toml:"disabled" json:"disabled"`
	DefaultUser string       `toml:"default_user" json:"default_user"`
	Users       []UserConfig `toml:"users" json:"users"`
}

// UserConfig is one API user. TokenHash is a bcrypt hash of the bearer token.
type UserConfig struct {
	ID        string `toml:"id" json:"id"`
	TokenHash string `toml:"token_hash" json:"token_hash"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "error", "info", "debug", "trace".
	Level string `toml:"level" json:"level"`
	// Format is "text" (timestamped) or "plain" (no timestamps, for journald).
	Format string `toml:"format" json:"format"`
}

// CallTimeout returns the per-call timeout as a duration.
func (c ChatConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// Default returns a config with default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Addr:             "127.0.0.1:8787",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 120,
			IdleTimeoutSecs:  120,
			RateLimitRPS:     5,
			RateLimitBurst:   20,
		},
		Chat: ChatConfig{
			DefaultModel:     "gpt-4o",
			CallTimeoutSecs:  60,
			MaxCompareModels: 8,
			Temperature:      0.7,
			MaxTokens:        1000,
		},
		Providers: ProvidersConfig{
			OpenRouterURL: "https://openrouter.ai/api/v1",
			SiteName:      "NeuroChat - Multi-Model AI Chatbot",
			MaxRetries:    3,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   defaultStorePath(),
		},
		Auth: AuthConfig{
			Disabled:    true,
			DefaultUser: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the neurochat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".neurochat"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultStorePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "neurochat.db"
	}
	return filepath.Join(dir, "neurochat.db")
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from path, or from the default location when
// path is empty. A missing file yields defaults. A .env file in the
// working directory is read before environment overrides are applied.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		return LoadFromPath(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to path as TOML, atomically and with
// owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# neurochat configuration file\n")
	sb.WriteString("# Secrets may also be supplied via environment variables or a .env file.\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"error": true, "info": true, "debug": true, "trace": true}

// Validate validates the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if bp := c.Server.BasePath; bp != "" && (!strings.HasPrefix(bp, "/") || strings.HasSuffix(bp, "/")) {
		add("server.base_path", "must start with '/' and must not end with '/'")
	}
	if c.Server.ReadTimeoutSecs <= 0 || c.Server.WriteTimeoutSecs <= 0 || c.Server.IdleTimeoutSecs <= 0 {
		add("server.*_timeout_secs", "timeouts must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is enabled")
	}

	// Chat
	if c.Chat.CallTimeoutSecs < 1 || c.Chat.CallTimeoutSecs > 600 {
		add("chat.call_timeout_secs", "must be between 1 and 600")
	}
	if c.Server.WriteTimeoutSecs > 0 && c.Server.WriteTimeoutSecs <= c.Chat.CallTimeoutSecs {
		add("server.write_timeout_secs", "must be greater than chat.call_timeout_secs")
	}
	if c.Chat.MaxCompareModels < 1 || c.Chat.MaxCompareModels > 64 {
		add("chat.max_compare_models", "must be between 1 and 64")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		add("chat.temperature", "must be between 0 and 2")
	}
	if c.Chat.MaxTokens < 1 {
		add("chat.max_tokens", "must be at least 1")
	}

	// Providers
	if c.Providers.MaxRetries < 0 || c.Providers.MaxRetries > 10 {
		add("providers.max_retries", "must be between 0 and 10")
	}

	// Store
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			add("store.path", "required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			add("store.dsn", "required for the postgres driver")
		}
	default:
		add("store.driver", fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Store.Driver))
	}

	// Auth
	if c.Auth.Disabled {
		if c.Auth.DefaultUser == "" {
			add("auth.default_user", "required when auth is disabled")
		}
	} else {
		if len(c.Auth.Users) == 0 {
			add("auth.users", "at least one user is required when auth is enabled")
		}
		seen := make(map[string]bool, len(c.Auth.Users))
		for i, u := range c.Auth.Users {
			field := fmt.Sprintf("auth.users[%d]", i)
			if u.ID == "" {
				add(field+".id", "must not be empty")
			} else if seen[u.ID] {
				add(field+".id", fmt.Sprintf("duplicate user %q", u.ID))
			}
			seen[u.ID] = true
			if !strings.HasPrefix(u.TokenHash, "$2") {
				add(field+".token_hash", "must be a bcrypt hash")
			}
		}
	}

	// Log
	if !validLogLevels[c.Log.Level] {
		add("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "plain" {
		add("log.format", fmt.Sprintf("unknown format %q (want text or plain)", c.Log.Format))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = d.Server.IdleTimeoutSecs
	}
	c.Server.BasePath = strings.TrimSuffix(c.Server.BasePath, "/")

	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = d.Chat.DefaultModel
	}
	if c.Chat.CallTimeoutSecs == 0 {
		c.Chat.CallTimeoutSecs = d.Chat.CallTimeoutSecs
	}
	if c.Chat.MaxCompareModels == 0 {
		c.Chat.MaxCompareModels = d.Chat.MaxCompareModels
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}

	if c.Providers.OpenRouterURL == "" {
		c.Providers.OpenRouterURL = d.Providers.OpenRouterURL
	}
	if c.Providers.SiteName == "" {
		c.Providers.SiteName = d.Providers.SiteName
	}

	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}

	if c.Auth.Disabled && c.Auth.DefaultUser == "" {
		c.Auth.DefaultUser = d.Auth.DefaultUser
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - NEUROCHAT_ADDR, NEUROCHAT_BASE_PATH: server.addr, server.base_path
//   - NEUROCHAT_CALL_TIMEOUT: chat.call_timeout_secs
//   - NEUROCHAT_DEFAULT_MODEL: chat.default_model
//   - NEUROCHAT_STORE_DRIVER, NEUROCHAT_STORE_PATH: store.driver, store.path
//   - NEUROCHAT_AUTH_DISABLED, NEUROCHAT_DEFAULT_USER: auth.disabled, auth.default_user
//   - NEUROCHAT_LOG_LEVEL: log.level
//   - DATABASE_URL: store.dsn, and selects the postgres driver
//   - OPENROUTER_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY,
//     MISTRAL_API_KEY, DEEPSEEK_API_KEY: provider keys
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NEUROCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("NEUROCHAT_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("NEUROCHAT_CALL_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Chat.CallTimeoutSecs = secs
		}
	}
	if v := os.Getenv("NEUROCHAT_DEFAULT_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		c.Store.Driver = "postgres"
	}
	if v := os.Getenv("NEUROCHAT_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("NEUROCHAT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}

	if v := os.Getenv("NEUROCHAT_AUTH_DISABLED"); v != "" {
		c.Auth.Disabled = v == "1" || strings.ToLower(v) == "true"
	}
	if v := os.Getenv("NEUROCHAT_DEFAULT_USER"); v != "" {
		c.Auth.DefaultUser = v
	}
	if v := os.Getenv("NEUROCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}

	keys := []struct {
		env string
		dst *string
	}{
		{"OPENROUTER_API_KEY", &c.Providers.OpenRouterKey},
		{"OPENAI_API_KEY", &c.Providers.OpenAIKey},
		{"ANTHROPIC_API_KEY", &c.Providers.AnthropicKey},
		{"GEMINI_API_KEY", &c.Providers.GeminiKey},
		{"MISTRAL_API_KEY", &c.Providers.MistralKey},
		{"DEEPSEEK_API_KEY", &c.Providers.DeepSeekKey},
	}
	for _, k := range keys {
		if v := os.Getenv(k.env); v != "" {
			*k.dst = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.max_tokens").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	if c.Auth.Users != nil {
		clone.Auth.Users = append([]UserConfig(nil), c.Auth.Users...)
	}
	return &clone
}

// String returns a JSON rendering with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, key := range []*string{
		&safe.Providers.OpenRouterKey,
		&safe.Providers.OpenAIKey,
		&safe.Providers.AnthropicKey,
		&safe.Providers.GeminiKey,
		&safe.Providers.MistralKey,
		&safe.Providers.DeepSeekKey,
	} {
		if *key != "" {
			*key = "[REDACTED]"
		}
	}
	if safe.Store.DSN != "" {
		safe.Store.DSN = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it from the
// default location on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
