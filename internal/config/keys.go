package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTAKELINE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "INTAKELINE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.public_url", typ: kString, env: "INTAKELINE_SERVER_PUBLIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTAKELINE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.api_key", typ: kString, env: "INTAKELINE_LLM_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "INTAKELINE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.turn_model", typ: kString, env: "INTAKELINE_LLM_TURN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.TurnModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.TurnModel },
	},
	{
		key: "llm.summary_model", typ: kString, env: "INTAKELINE_LLM_SUMMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.SummaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SummaryModel },
	},
	{
		key: "telephony.account_sid", typ: kString, env: "INTAKELINE_TELEPHONY_ACCOUNT_SID",
		apply:   func(cfg *Config, v any) { cfg.Telephony.AccountSID = v.(string) },
		extract: func(cfg Config) any { return cfg.Telephony.AccountSID },
	},
	{
		key: "telephony.auth_token", typ: kString, env: "INTAKELINE_TELEPHONY_AUTH_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Telephony.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Telephony.AuthToken },
	},
	{
		key: "speech.api_key", typ: kString, env: "INTAKELINE_SPEECH_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Speech.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.APIKey },
	},
	{
		key: "speech.voice", typ: kString, env: "INTAKELINE_SPEECH_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Speech.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Voice },
	},
	{
		key: "email.api_key", typ: kString, env: "INTAKELINE_EMAIL_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Email.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Email.APIKey },
	},
	{
		key: "email.from", typ: kString, env: "INTAKELINE_EMAIL_FROM",
		apply:   func(cfg *Config, v any) { cfg.Email.From = v.(string) },
		extract: func(cfg Config) any { return cfg.Email.From },
	},
	{
		key: "email.fallback_recipients", typ: kString, env: "INTAKELINE_EMAIL_FALLBACK_RECIPIENTS",
		apply:   func(cfg *Config, v any) { cfg.Email.FallbackRecipients = v.(string) },
		extract: func(cfg Config) any { return cfg.Email.FallbackRecipients },
	},
	{
		key: "watchdog.secret", typ: kString, env: "INTAKELINE_WATCHDOG_SECRET", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Watchdog.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Watchdog.Secret },
	},
	{
		key: "watchdog.schedule", typ: kString, env: "INTAKELINE_WATCHDOG_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Watchdog.Schedule },
	},
	{
		key: "session.idle_ttl_minutes", typ: kInt, env: "INTAKELINE_SESSION_IDLE_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.IdleTTLMinutes },
	},
	{
		key: "auth.api_token", typ: kString, env: "INTAKELINE_AUTH_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "INTAKELINE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
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
