package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Session backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	TimeZone      string `json:"time_zone"`
	MaxConcurrent int    `json:"max_concurrent"`
	LLM           struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		// Classify routes intent classification through the model. When
		// false the keyword rules are used alone.
		Classify bool `json:"classify"`
	} `json:"llm"`
	Media struct {
		ImageModel      string `json:"image_model"`
		ImageSize       string `json:"image_size"`
		TranscribeModel string `json:"transcribe_model"`
		SpeechModel     string `json:"speech_model"`
		Voice           string `json:"voice"`
		SpeechFormat    string `json:"speech_format"`
	} `json:"media"`
	Google struct {
		AccessToken string `json:"access_token"`
		CalendarID  string `json:"calendar_id"`
	} `json:"google"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	HTTP struct {
		Listen              string `json:"listen"`
		ReplyTimeoutSeconds int    `json:"reply_timeout_seconds"`
	} `json:"http"`
	Session struct {
		Backend            string `json:"backend"`
		Window             int    `json:"window"`
		HistoryTurns       int    `json:"history_turns"`
		IdleTimeoutMinutes int    `json:"idle_timeout_minutes"`
	} `json:"session"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Policy struct {
		File string `json:"file"`
	} `json:"policy"`
	Dispatch struct {
		StepTimeoutSeconds int `json:"step_timeout_seconds"`
	} `json:"dispatch"`
}

// Defaults returns the configuration written on first load.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".deskmate"),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.TimeZone = "UTC"
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1000
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.Classify = true
	cfg.Media.ImageModel = "dall-e-3"
	cfg.Media.ImageSize = "1024x1024"
	cfg.Media.TranscribeModel = "whisper-1"
	cfg.Media.SpeechModel = "tts-1"
	cfg.Media.Voice = "alloy"
	cfg.Media.SpeechFormat = "opus"
	cfg.Google.CalendarID = "primary"
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.HTTP.ReplyTimeoutSeconds = 120
	cfg.Session.Backend = BackendFile
	cfg.Session.Window = 20
	cfg.Session.HistoryTurns = 10
	cfg.Session.IdleTimeoutMinutes = 24 * 60
	cfg.Dispatch.StepTimeoutSeconds = 30
	return cfg
}

// Load reads the config file, writing defaults when it does not exist,
// then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// A .env next to the config or in the working directory fills
	// variables that are not already set.
	for _, envFile := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Override from env (highest precedence)
func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if token := os.Getenv("GOOGLE_ACCESS_TOKEN"); token != "" {
		cfg.Google.AccessToken = token
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if tz := os.Getenv("DESKMATE_TIMEZONE"); tz != "" {
		cfg.TimeZone = tz
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		result = multierror.Append(result, fmt.Errorf("time_zone %q: %w", c.TimeZone, err))
	}
	if c.MaxConcurrent < 1 {
		result = multierror.Append(result, fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	switch c.Session.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("session.backend is redis but redis.addr is empty"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("session.backend %q must be memory, file, sqlite or redis", c.Session.Backend))
	}
	if c.Dispatch.StepTimeoutSeconds < 1 {
		result = multierror.Append(result, fmt.Errorf("dispatch.step_timeout_seconds must be positive, got %d", c.Dispatch.StepTimeoutSeconds))
	}
	if c.Policy.File != "" {
		if _, err := os.Stat(c.Policy.File); err != nil {
			result = multierror.Append(result, fmt.Errorf("policy.file: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Dispatch.StepTimeoutSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.HTTP.ReplyTimeoutSeconds) * time.Second
}

// Save writes the config atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting under its dot-separated key.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-separated key from the config at path, with
// environment overrides applied as the daemon would see them.
func GetValue(path, key string) (any, error) {
	if _, ok := defaultValue(key); !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	return flat[key], nil
}

// SetValue writes one dot-separated key into an existing config file.
// The value must parse as the field's type, and the change is refused
// when it introduces a validation problem the file did not already have.
func SetValue(path, key, value string) error {
	v, err := parseValue(key, value)
	if err != nil {
		return err
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	before, err := decode(raw)
	if err != nil {
		return err
	}
	if err := setPath(raw, key, v); err != nil {
		return err
	}
	after, err := decode(raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := newProblems(before, after); err != nil {
		return fmt.Errorf("refusing to set %s: %w", key, err)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// decode reads a raw config tree the way Load does, defaults first and
// environment last.
func decode(raw map[string]any) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// newProblems returns the validation errors of after that before did not
// have, so a file that is already broken can still be repaired key by key.
func newProblems(before, after *Config) error {
	seen := make(map[string]bool)
	for _, e := range problems(before) {
		seen[e.Error()] = true
	}
	var result *multierror.Error
	for _, e := range problems(after) {
		if !seen[e.Error()] {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}

func problems(c *Config) []error {
	var merr *multierror.Error
	if errors.As(c.Validate(), &merr) {
		return merr.Errors
	}
	return nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}
