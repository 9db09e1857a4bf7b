// Package settings resolves operator-tunable values DB-first, YAML-file
// default second (spec §4.H), grounded on
// original_source/src/config.rs's get_i64_setting/get_f32_setting/
// get_bool_setting family and styled on the teacher's cache_ttl.go
// typed-accessor-over-raw-lookup idiom.
package settings

import (
	"strconv"
	"strings"
	"time"

	"github.com/kojira/nostr-chan-go/internal/config"
)

// Store is the subset of *store.Store settings depends on.
type Store interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
}

// Settings resolves a key against the DB override table first, falling
// back to the statically loaded config file.
type Settings struct {
	store  Store
	config *config.Config
}

// New builds a Settings resolver over a storage backend and the loaded
// file config.
func New(store Store, cfg *config.Config) *Settings {
	return &Settings{store: store, config: cfg}
}

// Set writes a DB override (spec §4.J admin surface).
func (s *Settings) Set(key, value string) error {
	return s.store.SetSetting(key, value)
}

// Get reads a raw DB override for key without falling back to the file
// config, so an admin "!settings get" can distinguish "overridden" from
// "using the file default" (spec §4.J admin surface).
func (s *Settings) Get(key string) (string, bool, error) {
	return s.store.GetSetting(key)
}

// raw resolves key from the DB, or returns fallback if there is no override.
func (s *Settings) raw(key, fallback string) (string, error) {
	v, ok, err := s.store.GetSetting(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return v, nil
}

// Int64 resolves an integer-valued setting.
func (s *Settings) Int64(key string, fallback int64) (int64, error) {
	v, err := s.raw(key, strconv.FormatInt(fallback, 10))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// Float32 resolves a float-valued setting.
func (s *Settings) Float32(key string, fallback float32) (float32, error) {
	v, err := s.raw(key, strconv.FormatFloat(float64(fallback), 'f', -1, 32))
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
	if err != nil {
		return fallback, nil
	}
	return float32(parsed), nil
}

// Bool resolves a boolean-valued setting ("true"/"false", case-insensitive).
func (s *Settings) Bool(key string, fallback bool) (bool, error) {
	v, err := s.raw(key, strconv.FormatBool(fallback))
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

// CSV resolves a comma-separated list setting, trimming whitespace around
// each element and dropping empties.
func (s *Settings) CSV(key string, fallback []string) ([]string, error) {
	v, err := s.raw(key, strings.Join(fallback, ","))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// GlobalPause resolves whether all personas are currently paused (spec
// §4.G global-pause gate). There is no file-level default for this one —
// pause state only ever exists as an admin-issued DB override.
func (s *Settings) GlobalPause() (bool, error) {
	return s.Bool("global_pause", false)
}

// ReactionPercent resolves the base percentage (0-100) for the reply roll:
// a non-mention Japanese post gets an unprompted air-reply when the roll
// passes, and a mention adds 10 to it (spec §4.G probability gate), grounded on original_source/src/util.rs::judge_post's
// config.bot.reaction_percent.
func (s *Settings) ReactionPercent() (int64, error) {
	return s.Int64("reaction_percent", s.config.Bot.ReactionPercent)
}

// ConversationLimitMinutes and ConversationLimitCount bound how many
// messages a persona will send to the same user within a trailing window
// (spec §4.G rate-limit gate).
func (s *Settings) ConversationLimitMinutes() (int64, error) {
	return s.Int64("conversation_limit_minutes", s.config.Bot.ConversationLimitMinutes)
}

func (s *Settings) ConversationLimitCount() (int64, error) {
	return s.Int64("conversation_limit_count", int64(s.config.Bot.ConversationLimitCount))
}

// SummaryReuseThreshold is the minimum cosine similarity for reusing a
// prior summary instead of generating a new one (spec §4.F), grounded on
// original_source/src/conversation.rs's hardcoded 0.5 constant, made
// operator-tunable here via the same knob the file config calls
// rag_similarity_threshold.
func (s *Settings) SummaryReuseThreshold() (float32, error) {
	return s.Float32("rag_similarity_threshold", s.config.Bot.RAGSimilarityThreshold)
}

// Blacklist resolves the set of pubkeys no persona will ever reply to
// (spec §4.G blacklist gate).
func (s *Settings) Blacklist() ([]string, error) {
	return s.CSV("blacklist", s.config.Bot.Blacklist)
}

// FollowerCacheTTL resolves the follower-cache lifetime, clamped to the
// documented [60s, 604800s] range (spec §4.H).
func (s *Settings) FollowerCacheTTL() (time.Duration, error) {
	v, err := s.Int64("follower_cache_ttl", s.config.Bot.FollowerCacheTTL)
	if err != nil {
		return 0, err
	}
	switch {
	case v < 60:
		v = 60
	case v > 604800:
		v = 604800
	}
	return time.Duration(v) * time.Second, nil
}

// ReactionFreq resolves the air-reply forcing interval: once more than
// this much time has passed since the last published air-reply (one
// timestamp shared by all personas), the next eligible post is forced
// through regardless of the reaction-percent roll. Air-replies that pass
// the roll sooner are not held back (spec §4.H, grounded on
// original_source/src/main.rs's last_post_time/reaction_freq forcing).
func (s *Settings) ReactionFreq() (time.Duration, error) {
	v, err := s.Int64("reaction_freq", s.config.Bot.ReactionFreq)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// TimelineSize resolves how many recent events feed the air-reply context
// window (spec §4.F).
func (s *Settings) TimelineSize() (int, error) {
	v, err := s.Int64("timeline_size", int64(s.config.Bot.TimelineSize))
	return int(v), err
}

// AnswerLength resolves the target reply length in characters the system
// prompt asks the model for (spec §4.D/§4.G).
func (s *Settings) AnswerLength() (int, error) {
	v, err := s.Int64("gpt_answer_length", int64(s.config.GPT.AnswerLength))
	return int(v), err
}

// GPTTimeout resolves the LLM completion deadline (spec §4.D).
func (s *Settings) GPTTimeout() (time.Duration, error) {
	v, err := s.Int64("gpt_timeout", int64(s.config.GPT.Timeout))
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// RecentContextCount resolves how many recent timeline events the context
// engine includes verbatim before summarizing older history (spec §4.F).
func (s *Settings) RecentContextCount() (int, error) {
	v, err := s.Int64("recent_context_count", int64(s.config.GPT.RecentContextCount))
	return int(v), err
}

// SummaryThreshold resolves the rendered-timeline length, in characters,
// past which the context engine summarizes timeline history instead of
// inlining it (spec §4.F).
func (s *Settings) SummaryThreshold() (int, error) {
	v, err := s.Int64("summary_threshold", int64(s.config.GPT.SummaryThreshold))
	return int(v), err
}

// MaxSummaryTokens resolves the length limit, in characters, that the
// summary prompt asks the model to stay within (spec §4.F).
func (s *Settings) MaxSummaryTokens() (int, error) {
	v, err := s.Int64("max_summary_tokens", int64(s.config.GPT.MaxSummaryTokens))
	return int(v), err
}

// RelayWrite, RelayRead, and RelaySearch resolve the relay URL sets used
// for publishing, subscribing, and (future) search grounding respectively
// (spec §4.H, §6).
func (s *Settings) RelayWrite() ([]string, error) {
	return s.CSV("relay_write", s.config.RelayServers.Write)
}

func (s *Settings) RelayRead() ([]string, error) {
	return s.CSV("relay_read", s.config.RelayServers.Read)
}

func (s *Settings) RelaySearch() ([]string, error) {
	return s.CSV("relay_search", s.config.RelayServers.Search)
}
