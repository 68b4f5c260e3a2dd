// Package config loads config.json and normalizes it with defaults.
// Pointer booleans distinguish "absent" from "false" so omitted sections
// can default on.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"minder/internal/llm"
	"minder/internal/notify"
)

type Config struct {
	Workspace string `json:"workspace"`

	Model llm.ModelConfig `json:"model"`

	Channels ChannelsConfig `json:"channels"`

	NotificationPolicy notify.PolicyConfig `json:"notification_policy"`

	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Calendar  CalendarConfig  `json:"calendar"`

	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

type ChannelsConfig struct {
	Default  string         `json:"default"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Email    EmailConfig    `json:"email"`
}

type TelegramConfig struct {
	Enabled *bool  `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled   *bool  `json:"enabled"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

type EmailConfig struct {
	Enabled *bool  `json:"enabled"`
	From    string `json:"from"`
	To      string `json:"to"`

	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`

	Username string `json:"username"`
	Password string `json:"password"`

	PollEvery string `json:"poll_every"`
}

type HeartbeatConfig struct {
	Enabled *bool  `json:"enabled"`
	Every   string `json:"every"`
}

type CalendarConfig struct {
	Enabled         *bool  `json:"enabled"`
	CredentialsFile string `json:"credentials_file"`
	TokenFile       string `json:"token_file"`
	CalendarID      string `json:"calendar_id"`
	Timezone        string `json:"timezone"`
	DurationMinutes int    `json:"duration_minutes"`
}

type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Workspace: "workspace",
		Channels: ChannelsConfig{
			Default: "telegram",
		},
		NotificationPolicy: notify.DefaultPolicyConfig(),
		Heartbeat: HeartbeatConfig{
			Every: "30m",
		},
		Calendar: CalendarConfig{
			CalendarID:      "primary",
			Timezone:        "Local",
			DurationMinutes: 30,
		},
	}
}

func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()

	if strings.TrimSpace(out.Workspace) == "" {
		out.Workspace = def.Workspace
	}

	// Env fallbacks run before enablement inference so a token supplied via
	// .env still switches the channel on.
	out.Model = modelWithEnv(out.Model)
	for i := range out.Model.Fallbacks {
		out.Model.Fallbacks[i] = modelWithEnv(out.Model.Fallbacks[i])
	}
	if out.Channels.Telegram.Token == "" {
		out.Channels.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if out.Channels.Discord.Token == "" {
		out.Channels.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
	}

	if strings.TrimSpace(out.Channels.Default) == "" {
		out.Channels.Default = def.Channels.Default
	}
	if out.Channels.Telegram.Enabled == nil {
		v := out.Channels.Telegram.Token != ""
		out.Channels.Telegram.Enabled = &v
	}
	if out.Channels.Discord.Enabled == nil {
		v := out.Channels.Discord.Token != ""
		out.Channels.Discord.Enabled = &v
	}
	if out.Channels.Email.Enabled == nil {
		v := out.Channels.Email.SMTPHost != ""
		out.Channels.Email.Enabled = &v
	}
	if strings.TrimSpace(out.Channels.Email.PollEvery) == "" {
		out.Channels.Email.PollEvery = "2m"
	}
	if out.Channels.Email.SMTPPort <= 0 {
		out.Channels.Email.SMTPPort = 587
	}
	if out.Channels.Email.IMAPPort <= 0 {
		out.Channels.Email.IMAPPort = 993
	}

	if out.NotificationPolicy == (notify.PolicyConfig{}) {
		out.NotificationPolicy = def.NotificationPolicy
	}
	if out.NotificationPolicy.BatchMax <= 0 {
		out.NotificationPolicy.BatchMax = def.NotificationPolicy.BatchMax
	}
	if out.NotificationPolicy.DedupWindowHours <= 0 {
		out.NotificationPolicy.DedupWindowHours = def.NotificationPolicy.DedupWindowHours
	}
	if out.NotificationPolicy.DailyLimit <= 0 {
		out.NotificationPolicy.DailyLimit = def.NotificationPolicy.DailyLimit
	}

	if out.Heartbeat.Enabled == nil {
		v := true
		out.Heartbeat.Enabled = &v
	}
	if strings.TrimSpace(out.Heartbeat.Every) == "" {
		out.Heartbeat.Every = def.Heartbeat.Every
	}

	if out.Calendar.Enabled == nil {
		v := out.Calendar.CredentialsFile != ""
		out.Calendar.Enabled = &v
	}
	if strings.TrimSpace(out.Calendar.CalendarID) == "" {
		out.Calendar.CalendarID = def.Calendar.CalendarID
	}
	if strings.TrimSpace(out.Calendar.Timezone) == "" {
		out.Calendar.Timezone = def.Calendar.Timezone
	}
	if out.Calendar.DurationMinutes <= 0 {
		out.Calendar.DurationMinutes = def.Calendar.DurationMinutes
	}

	return out
}

// modelWithEnv fills missing credentials from the environment, so secrets
// can live in .env instead of config.json.
func modelWithEnv(m llm.ModelConfig) llm.ModelConfig {
	if m.APIKey != "" {
		return m
	}
	switch strings.ToLower(strings.TrimSpace(m.Type)) {
	case "anthropics", "anthropic":
		m.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		m.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return m
}

func Load(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = "config.json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig().WithDefaults(), nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}
