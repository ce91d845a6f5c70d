package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for the optional YAML overlay. Pointer fields so
// that absent keys leave the env-derived value untouched.
type fileConfig struct {
	Port        *int    `yaml:"port"`
	Debug       *bool   `yaml:"debug"`
	DatabaseURL *string `yaml:"database_url"`
	AMQPURL     *string `yaml:"amqp_url"`
	Auth        struct {
		CookieName         *string `yaml:"cookie_name"`
		SessionSecret      *string `yaml:"session_secret"`
		TokenTTLMinutes    *int    `yaml:"token_ttl_minutes"`
		TokenTTLMaxMinutes *int    `yaml:"token_ttl_max_minutes"`
	} `yaml:"auth"`
	WebBaseURL *string `yaml:"web_base_url"`
	Mailer     struct {
		SMTPAddr *string `yaml:"smtp_addr"`
		SMTPFrom *string `yaml:"smtp_from"`
	} `yaml:"mailer"`
}

// applyFile overlays values from a YAML file onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.DatabaseURL != nil {
		cfg.DatabaseURL = *fc.DatabaseURL
	}
	if fc.AMQPURL != nil {
		cfg.AMQPURL = *fc.AMQPURL
	}
	if fc.Auth.CookieName != nil {
		cfg.CookieName = *fc.Auth.CookieName
	}
	if fc.Auth.SessionSecret != nil {
		cfg.SessionSecret = *fc.Auth.SessionSecret
	}
	if fc.Auth.TokenTTLMinutes != nil {
		cfg.TokenTTLMinutes = *fc.Auth.TokenTTLMinutes
	}
	if fc.Auth.TokenTTLMaxMinutes != nil {
		cfg.TokenTTLMaxMinutes = *fc.Auth.TokenTTLMaxMinutes
	}
	if fc.WebBaseURL != nil {
		cfg.WebBaseURL = *fc.WebBaseURL
	}
	if fc.Mailer.SMTPAddr != nil {
		cfg.SMTPAddr = *fc.Mailer.SMTPAddr
	}
	if fc.Mailer.SMTPFrom != nil {
		cfg.SMTPFrom = *fc.Mailer.SMTPFrom
	}

	return nil
}
