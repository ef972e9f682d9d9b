// Package config loads service configuration from a JSON config file and
// INTAKELINE_* environment variables, over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Telephony TelephonyConfig
	Speech    SpeechConfig
	Email     EmailConfig
	Watchdog  WatchdogConfig
	Session   SessionConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      int
	MCPPort   int
	PublicURL string // externally reachable base URL, used in webhook actions and signature checks
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	APIKey       string
	BaseURL      string
	TurnModel    string
	SummaryModel string
}

type TelephonyConfig struct {
	AccountSID string
	AuthToken  string
}

type SpeechConfig struct {
	APIKey string
	Voice  string
}

type EmailConfig struct {
	APIKey             string
	From               string
	FallbackRecipients string // comma-separated
}

// RecipientList splits the comma-separated fallback recipients.
func (e EmailConfig) RecipientList() []string {
	var out []string
	for _, part := range strings.Split(e.FallbackRecipients, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type WatchdogConfig struct {
	Secret   string // shared secret for the HTTP trigger
	Schedule string // cron spec for the in-process sweep; empty disables it
}

type SessionConfig struct {
	IdleTTLMinutes int
}

type AuthConfig struct {
	APIToken string // bearer token for the management API
}

type LogConfig struct {
	Level string // "debug" or "info"
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4100,
			MCPPort: 4101,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			TurnModel:    "gpt-4o-mini",
			SummaryModel: "gpt-4o",
		},
		Speech: SpeechConfig{
			Voice: "nova",
		},
		Email: EmailConfig{
			From: "intake@intakeline.local",
		},
		Watchdog: WatchdogConfig{
			Schedule: "@every 1m",
		},
		Session: SessionConfig{
			IdleTTLMinutes: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".intakeline")
}

// Load reads configuration from the JSON config file (if present),
// applies INTAKELINE_* environment overrides, and validates required
// secrets.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func configFilePath() string {
	if p := os.Getenv("INTAKELINE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "intakeline", "config.json")
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf(
			"missing required config: LLM API key. Set it via the environment variable INTAKELINE_LLM_API_KEY or the config file key llm.api_key")
	}

	return cfg, nil
}
