package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration of the companion relay.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Server     ServerConfig              `json:"server"`
	Memory     MemoryConfig              `json:"memory"`
	Relay      RelayConfig               `json:"relay"`
	Generation GenerationConfig          `json:"generation"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Twilio     TwilioConfig              `json:"twilio"`
	Internal   InternalConfig            `json:"internal"`
	Checkin    CheckinConfig             `json:"checkin"`
	Profile    ProfileConfig             `json:"profile"`
	Metrics    MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PublicBaseURL is the externally visible origin used to rebuild the
	// URL Twilio signed (e.g. https://bot.example.com). Empty means derive it
	// from the request.
	PublicBaseURL string `json:"publicBaseURL,omitempty"`
}

type MemoryConfig struct {
	DBPath       string `json:"dbPath"`
	HistoryTurns int    `json:"historyTurns"`
}

type RelayConfig struct {
	CooldownSeconds  float64 `json:"cooldownSeconds"`
	FallbackGreeting string  `json:"fallbackGreeting"`
	InternalUserID   string  `json:"internalUserId"`
	PruneAfterHours  int     `json:"pruneAfterHours"`
}

// Cooldown returns the per-user cooldown as a duration.
func (r RelayConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds * float64(time.Second))
}

type GenerationConfig struct {
	DefaultProvider  string   `json:"defaultProvider"`
	FailoverChain    []string `json:"failoverChain,omitempty"`
	TimeoutSeconds   float64  `json:"timeoutSeconds"`
	MaxRetries       int      `json:"maxRetries"`
	RetryDelayMillis int      `json:"retryDelayMillis"`
	RatePerSecond    float64  `json:"ratePerSecond"`
	Burst            int      `json:"burst"`
	Temperature      float64  `json:"temperature"`
}

func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds * float64(time.Second))
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type TwilioConfig struct {
	AccountSID      string `json:"accountSid,omitempty"`
	AuthToken       string `json:"authToken,omitempty"`
	From            string `json:"from"`
	DefaultTo       string `json:"defaultTo,omitempty"`
	VerifySignature bool   `json:"verifySignature"`
	WebhookPath     string `json:"webhookPath"`
	APIBase         string `json:"apiBase,omitempty"`
	MaxRetries      int    `json:"maxRetries"`
	BaseDelayMillis int    `json:"baseDelayMillis"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
}

type InternalConfig struct {
	Token string `json:"token,omitempty"`
}

type CheckinConfig struct {
	WeatherSummary string `json:"weatherSummary,omitempty"`
	// Schedule is a cron expression (e.g. "30 7 * * *") at which serve sends
	// the check-in on its own. Empty disables it.
	Schedule string `json:"schedule,omitempty"`
}

type ProfileConfig struct {
	Path string `json:"path"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.companion).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".companion"
	}
	return filepath.Join(home, ".companion")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadFile parses path as written, without environment expansion, overrides
// or validation. Used when rewriting the file so secrets taken from the
// environment are not persisted.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefaults loads path when it exists and falls back to Defaults
// otherwise. Environment overrides and validation apply in both cases.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if path != "" {
		if _, err := os.Stat(ExpandPath(path)); err == nil {
			cfg, err := Load(path)
			return cfg, true, err
		}
	}
	cfg, err := finish(Defaults())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Profile.Path = ExpandPath(cfg.Profile.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills empty fields from the environment variables the service has
// always honoured, so a bare .env deployment keeps working without a file.
func ApplyEnv(cfg *Config) {
	setIfEmpty(&cfg.Internal.Token, "INTERNAL_TOKEN")
	setIfEmpty(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setIfEmpty(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setIfEmpty(&cfg.Twilio.DefaultTo, "USER_WHATSAPP_TO")
	setIfEmpty(&cfg.Checkin.WeatherSummary, "WEATHER_SUMMARY")
	setIfEmpty(&cfg.Checkin.Schedule, "CHECKIN_SCHEDULE")
	setIfEmpty(&cfg.Server.PublicBaseURL, "PUBLIC_BASE_URL")

	if v := os.Getenv("TWILIO_SANDBOX_FROM"); v != "" {
		cfg.Twilio.From = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Memory.DBPath = v
	}
	if v := os.Getenv("PROFILE_PATH"); v != "" {
		cfg.Profile.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		pc := cfg.Providers["openai"]
		if pc.APIKey == "" {
			pc.APIKey = key
			pc.Enabled = true
			cfg.Providers["openai"] = pc
		}
	}
}

func setIfEmpty(field *string, env string) {
	if *field != "" {
		return
	}
	if v := os.Getenv(env); v != "" {
		*field = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required")
	}
	if cfg.Memory.HistoryTurns < 1 {
		errs = append(errs, "memory.historyTurns must be >= 1")
	}
	if cfg.Relay.CooldownSeconds < 0 {
		errs = append(errs, "relay.cooldownSeconds must be >= 0")
	}
	if cfg.Relay.InternalUserID == "" {
		errs = append(errs, "relay.internalUserId is required")
	}
	if cfg.Generation.TimeoutSeconds <= 0 {
		errs = append(errs, "generation.timeoutSeconds must be > 0")
	}
	if cfg.Generation.MaxRetries < 0 {
		errs = append(errs, "generation.maxRetries must be >= 0")
	}
	if cfg.Generation.RatePerSecond < 0 {
		errs = append(errs, "generation.ratePerSecond must be >= 0")
	}
	if cfg.Twilio.MaxRetries < 0 {
		errs = append(errs, "twilio.maxRetries must be >= 0")
	}
	if cfg.Twilio.BaseDelayMillis < 0 {
		errs = append(errs, "twilio.baseDelayMillis must be >= 0")
	}
	if cfg.Checkin.Schedule != "" && !gronx.New().IsValid(cfg.Checkin.Schedule) {
		errs = append(errs, fmt.Sprintf("checkin.schedule is not a valid cron expression: %q", cfg.Checkin.Schedule))
	}

	for _, name := range cfg.Generation.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("generation.failoverChain references unknown provider: %s", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
