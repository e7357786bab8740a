package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Notify       NotifyConfig       `json:"notify"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Providers    []ProviderConfig   `json:"providers"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ProviderConfig is a process-wide LLM provider used when an org has no
// credential of its own.
type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // openai|anthropic
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// OrchestratorConfig tunes the agent loop timings.
type OrchestratorConfig struct {
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	FollowUpAfterHours  int    `json:"follow_up_after_hours"`
	InboxEveryMinutes   int    `json:"inbox_every_minutes"`
	RetainTasksDays     int    `json:"retain_tasks_days"`
	BackoffKind         string `json:"backoff_kind"` // linear|exponential
	BackoffBaseSeconds  int    `json:"backoff_base_seconds"`
}

// PollInterval returns the queue poll interval as a duration, zero when unset.
func (o OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// FollowUpAfter returns the silent-lead threshold as a duration.
func (o OrchestratorConfig) FollowUpAfter() time.Duration {
	return time.Duration(o.FollowUpAfterHours) * time.Hour
}

// InboxEvery returns the inbox-scan gap as a duration.
func (o OrchestratorConfig) InboxEvery() time.Duration {
	return time.Duration(o.InboxEveryMinutes) * time.Minute
}

// RetainTasksFor returns the terminal-task retention as a duration.
func (o OrchestratorConfig) RetainTasksFor() time.Duration {
	return time.Duration(o.RetainTasksDays) * 24 * time.Hour
}

// BackoffBase returns the retry backoff base as a duration.
func (o OrchestratorConfig) BackoffBase() time.Duration {
	return time.Duration(o.BackoffBaseSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
