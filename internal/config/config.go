// Package config loads the YAML configuration document described in
// SPEC_FULL.md §6 and provides the typed defaults consumed by
// internal/settings when a value has no database override.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root document. Section names and nesting follow
// SPEC_FULL.md §6 / original_source/src/config.rs field-for-field.
type Config struct {
	RelayServers RelayServersConfig `yaml:"relay_servers"`
	Bot          BotConfig          `yaml:"bot"`
	GPT          GPTConfig          `yaml:"gpt"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Database     DatabaseConfig     `yaml:"database"`
}

type RelayServersConfig struct {
	Write  []string `yaml:"write"`
	Read   []string `yaml:"read"`
	Search []string `yaml:"search"`
}

type BotConfig struct {
	AdminPubkeys             []string `yaml:"admin_pubkeys"`
	Prompt                   string   `yaml:"prompt"`
	Picture                  string   `yaml:"picture"`
	About                    string   `yaml:"about"`
	ReactionPercent          int64    `yaml:"reaction_percent"`
	ReactionFreq             int64    `yaml:"reaction_freq"`
	FollowerCacheTTL         int64    `yaml:"follower_cache_ttl"`
	TimelineSize             int      `yaml:"timeline_size"`
	ConversationLimitCount   int      `yaml:"conversation_limit_count"`
	ConversationLimitMinutes int64    `yaml:"conversation_limit_minutes"`
	RAGSimilarityThreshold   float32  `yaml:"rag_similarity_threshold"`
	Blacklist                []string `yaml:"blacklist"`
}

type GPTConfig struct {
	AnswerLength        int `yaml:"answer_length"`
	Timeout             int `yaml:"timeout"`
	SearchAnswerLength  int `yaml:"search_answer_length"`
	GeminiSearchTimeout int `yaml:"gemini_search_timeout"`
	RecentContextCount  int `yaml:"recent_context_count"`
	SummaryThreshold    int `yaml:"summary_threshold"`
	MaxSummaryTokens    int `yaml:"max_summary_tokens"`
	Model               string `yaml:"model"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingBaseURL    string `yaml:"embedding_base_url"`
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
}

type DashboardConfig struct {
	Port uint16 `yaml:"port"`
}

// DatabaseConfig is not part of the original Rust config.yml (it hardcoded
// a relative sqlite path); splitting it out lets deployments override the
// data file location without touching bot/gpt sections.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "nostr-chan.db"
	}
	if c.GPT.Model == "" {
		c.GPT.Model = "gpt-4o-mini"
	}
	if c.GPT.EmbeddingModel == "" {
		c.GPT.EmbeddingModel = "intfloat/multilingual-e5-small"
	}
	if c.Bot.TimelineSize == 0 {
		c.Bot.TimelineSize = 20
	}
	if c.Bot.FollowerCacheTTL == 0 {
		c.Bot.FollowerCacheTTL = 3600
	}
	if c.Bot.ConversationLimitCount == 0 {
		c.Bot.ConversationLimitCount = 5
	}
	if c.Bot.ConversationLimitMinutes == 0 {
		c.Bot.ConversationLimitMinutes = 60
	}
	if c.Bot.RAGSimilarityThreshold == 0 {
		c.Bot.RAGSimilarityThreshold = 0.5
	}
	if c.GPT.Timeout == 0 {
		c.GPT.Timeout = 30
	}
	if c.GPT.AnswerLength == 0 {
		c.GPT.AnswerLength = 100
	}
	if c.GPT.RecentContextCount == 0 {
		c.GPT.RecentContextCount = 50
	}
	if c.GPT.SummaryThreshold == 0 {
		c.GPT.SummaryThreshold = 5000
	}
	if c.GPT.MaxSummaryTokens == 0 {
		c.GPT.MaxSummaryTokens = 1000
	}
}

// GPTTimeout returns the configured LLM deadline as a time.Duration.
func (c *Config) GPTTimeout() time.Duration {
	return time.Duration(c.GPT.Timeout) * time.Second
}
