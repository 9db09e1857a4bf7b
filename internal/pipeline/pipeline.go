// Package pipeline implements the reply-decision gating state machine run
// over every event the queue hands to a worker: persist, gate, assemble
// context, generate, publish, log. Grounded step-for-step on
// original_source/src/event_processor.rs::process_event.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/contextengine"
	"github.com/kojira/nostr-chan-go/internal/core"
	"github.com/kojira/nostr-chan-go/internal/langdetect"
	"github.com/kojira/nostr-chan-go/internal/llmclient"
	"github.com/kojira/nostr-chan-go/internal/nip10"
	"github.com/kojira/nostr-chan-go/internal/persona"
	"github.com/kojira/nostr-chan-go/internal/relay"
	"github.com/kojira/nostr-chan-go/internal/store"
)

// Store is the subset of *store.Store the pipeline depends on.
type Store interface {
	InsertEvent(eventID, eventJSON, pubkey string, kind int, content string, createdAt int64, language, eventType string) (int64, error)
	GetEventByEventID(eventID string) (*store.EventRecord, error)
	ActivePersonas() ([]store.Persona, error)
	ConversationCount(personaPubkey, userPubkey string, withinMinutes int64) (int, error)
	InsertConversationLog(personaPubkey string, eventRefID int64, threadRootID string, mentionedPubkeys []string, isBotUtterance, isBotToBot bool) (int64, error)
	TimelineWithUser(personaPubkey, userPubkey string, limit int) ([]store.TimelineEvent, error)
	TimelineInThread(personaPubkey, userPubkey, threadRootID string, limit int) ([]store.TimelineEvent, error)
	GetFollowerCache(userPubkey, personaPubkey string) (*store.FollowerCacheEntry, error)
	SetFollowerCache(userPubkey, personaPubkey string, isFollower bool) error
	InsertTokenUsage(personaPubkey string, category core.TokenCategory, promptTokens, completionTokens int, promptText, completionText string) error
}

// Settings is the subset of *settings.Settings the pipeline depends on.
// Every layered setting the reply pipeline consults is read here, once per
// Run call, rather than scattered deep in the gating logic (spec §9
// "snapshot once per event at the top of the reply pipeline").
type Settings interface {
	GlobalPause() (bool, error)
	ReactionPercent() (int64, error)
	ReactionFreq() (time.Duration, error)
	ConversationLimitMinutes() (int64, error)
	ConversationLimitCount() (int64, error)
	Blacklist() ([]string, error)
	FollowerCacheTTL() (time.Duration, error)
	TimelineSize() (int, error)
	AnswerLength() (int, error)
	GPTTimeout() (time.Duration, error)
	RecentContextCount() (int, error)
	SummaryThreshold() (int, error)
	MaxSummaryTokens() (int, error)
}

// RelayClient is the subset of *relay.Client the pipeline depends on.
type RelayClient interface {
	IsFollower(ctx context.Context, userPubkey, personaPubkey string) (bool, error)
	GetProfile(ctx context.Context, pubkey string) (*relay.Metadata, error)
	PublishStandalone(ctx context.Context, secretKey, content string) (*nostr.Event, error)
	PublishReply(ctx context.Context, secretKey, content string, target *nostr.Event) (*nostr.Event, error)
}

// Completer is the subset of *llmclient.Client the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (*llmclient.Reply, error)
}

// Summarizer is the subset of *contextengine.Summarizer the pipeline
// depends on.
type Summarizer interface {
	SummarizeIfNeeded(ctx context.Context, personaPubkey, userInput, timelineText string, overflowThreshold, maxSummaryLength int) (string, error)
}

// Rand is the subset of *math/rand.Rand the pipeline depends on, isolated
// so tests can pin the branches that the original drives with
// rand::thread_rng().
type Rand interface {
	Intn(n int) int
}

// Pipeline wires every gate and side effect process_event performs into a
// single Run call.
type Pipeline struct {
	store         Store
	settings      Settings
	relay         RelayClient
	llm           Completer
	summarizer    Summarizer
	airReplyStore contextengine.AirReplyStore
	rnd           Rand
	log           zerolog.Logger

	nameCache      sync.Map // pubkey string -> display name string
	lastAirReplyAt atomic.Int64
}

// New builds a Pipeline. Every value the original loop read from the
// static YAML config (timeline size, follower-cache TTL, answer length,
// ...) is instead read from settings fresh per Run call, so a DB override
// an admin sets mid-process takes effect on the next event.
func New(st Store, settings Settings, rc RelayClient, llm Completer, summarizer Summarizer, airReplyStore contextengine.AirReplyStore, rnd Rand, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:         st,
		settings:      settings,
		relay:         rc,
		llm:           llm,
		summarizer:    summarizer,
		airReplyStore: airReplyStore,
		rnd:           rnd,
		log:           log.With().Str("component", "pipeline").Logger(),
	}
}

// settingsSnapshot pins every layered setting Run needs for the duration
// of a single event, read once at the top of the gating chain.
type settingsSnapshot struct {
	globalPause              bool
	reactionPercent          int64
	reactionFreq             time.Duration
	conversationLimitMinutes int64
	conversationLimitCount   int64
	blacklist                []string
	followerCacheTTL         time.Duration
	timelineSize             int
	answerLength             int
	gptTimeout               time.Duration
	recentContextCount       int
	summaryThreshold         int
	maxSummaryTokens         int
}

func (p *Pipeline) loadSettings() (settingsSnapshot, error) {
	var snap settingsSnapshot
	var err error
	if snap.globalPause, err = p.settings.GlobalPause(); err != nil {
		return snap, fmt.Errorf("load global pause: %w", err)
	}
	if snap.reactionPercent, err = p.settings.ReactionPercent(); err != nil {
		return snap, fmt.Errorf("load reaction percent: %w", err)
	}
	if snap.reactionFreq, err = p.settings.ReactionFreq(); err != nil {
		return snap, fmt.Errorf("load reaction freq: %w", err)
	}
	if snap.conversationLimitMinutes, err = p.settings.ConversationLimitMinutes(); err != nil {
		return snap, fmt.Errorf("load conversation limit minutes: %w", err)
	}
	if snap.conversationLimitCount, err = p.settings.ConversationLimitCount(); err != nil {
		return snap, fmt.Errorf("load conversation limit count: %w", err)
	}
	if snap.blacklist, err = p.settings.Blacklist(); err != nil {
		return snap, fmt.Errorf("load blacklist: %w", err)
	}
	if snap.followerCacheTTL, err = p.settings.FollowerCacheTTL(); err != nil {
		return snap, fmt.Errorf("load follower cache ttl: %w", err)
	}
	if snap.timelineSize, err = p.settings.TimelineSize(); err != nil {
		return snap, fmt.Errorf("load timeline size: %w", err)
	}
	if snap.answerLength, err = p.settings.AnswerLength(); err != nil {
		return snap, fmt.Errorf("load answer length: %w", err)
	}
	if snap.gptTimeout, err = p.settings.GPTTimeout(); err != nil {
		return snap, fmt.Errorf("load gpt timeout: %w", err)
	}
	if snap.recentContextCount, err = p.settings.RecentContextCount(); err != nil {
		return snap, fmt.Errorf("load recent context count: %w", err)
	}
	if snap.summaryThreshold, err = p.settings.SummaryThreshold(); err != nil {
		return snap, fmt.Errorf("load summary threshold: %w", err)
	}
	if snap.maxSummaryTokens, err = p.settings.MaxSummaryTokens(); err != nil {
		return snap, fmt.Errorf("load max summary tokens: %w", err)
	}
	return snap, nil
}

// Result records the outcome of one Run call for logging and tests.
// Outcome is a core gating sentinel when the blacklist, pause, follower
// or rate-limit gate stopped the run, and nil both for a successful reply
// and for every other stop (empty content, no active personas,
// non-mention non-Japanese chatter, a lost probability roll).
type Result struct {
	PersonaPubkey string
	Replied       bool
	Outcome       error
}

// Run carries one relay event through every gate and, if it survives all
// of them, generates and publishes a reply.
func (p *Pipeline) Run(ctx context.Context, evt *nostr.Event) (Result, error) {
	japanese := langdetect.IsJapanese(evt.Content)

	if evt.Kind == nostr.KindTextNote {
		p.persistIncoming(evt, japanese)
	}

	if evt.Content == "" {
		return Result{}, nil
	}

	personas, err := p.store.ActivePersonas()
	if err != nil {
		return Result{}, fmt.Errorf("load active personas: %w", err)
	}
	if len(personas) == 0 {
		return Result{}, nil
	}

	snap, err := p.loadSettings()
	if err != nil {
		return Result{}, err
	}

	if containsString(snap.blacklist, evt.PubKey) {
		return Result{Outcome: core.ErrBlacklisted}, nil
	}

	tags := tagsToSlices(evt.Tags)
	threadRoot := nip10.ThreadRootID(tags)
	candidates := persona.FromPersonas(personas)
	mentioned := persona.ExtractMention(candidates, evt.Content, tags)
	hasMention := mentioned != nil

	if !hasMention && !japanese {
		return Result{}, nil
	}

	basePercent := snap.reactionPercent
	if hasMention {
		basePercent += 10
	}
	shouldPost := int64(p.rnd.Intn(100)) <= basePercent
	if !hasMention && snap.reactionFreq > 0 {
		last := time.Unix(p.lastAirReplyAt.Load(), 0)
		if time.Since(last) > snap.reactionFreq {
			shouldPost = true
		}
	}

	chosen := choosePersona(personas, mentioned, p.rnd)
	if chosen == nil {
		return Result{}, nil
	}

	if hasMention {
		shouldPost = true
	}
	if !shouldPost {
		return Result{PersonaPubkey: chosen.Pubkey}, nil
	}

	if snap.globalPause {
		return Result{PersonaPubkey: chosen.Pubkey, Outcome: core.ErrPaused}, nil
	}

	isFollower, err := p.checkFollower(ctx, evt.PubKey, chosen.Pubkey, snap.followerCacheTTL)
	if err != nil {
		return Result{PersonaPubkey: chosen.Pubkey}, fmt.Errorf("check follower: %w", err)
	}
	if !isFollower {
		return Result{PersonaPubkey: chosen.Pubkey, Outcome: core.ErrNotFollower}, nil
	}

	if hasMention {
		limited, err := p.rateLimited(chosen.Pubkey, evt.PubKey, snap)
		if err != nil {
			return Result{PersonaPubkey: chosen.Pubkey}, fmt.Errorf("check conversation rate limit: %w", err)
		}
		if limited {
			return Result{PersonaPubkey: chosen.Pubkey, Outcome: core.ErrRateLimited}, nil
		}
	}

	hasConversationLog := false
	if hasMention {
		if err := p.logIncomingMention(evt, chosen.Pubkey, threadRoot, personas, japanese); err != nil {
			p.log.Warn().Err(err).Str("event_id", evt.ID).Msg("failed to log incoming mention")
		} else {
			hasConversationLog = true
		}
	}

	userDisplayName := ""
	if hasMention {
		userDisplayName = p.resolveName(evt.PubKey)
	}
	systemPrompt := p.buildSystemPrompt(chosen.Prompt, hasMention, userDisplayName, snap.answerLength)

	userContent := evt.Content
	if contextText, err := p.buildContext(ctx, hasConversationLog, chosen, evt.PubKey, evt.Content, threadRoot, snap); err != nil {
		p.log.Warn().Err(err).Str("persona", chosen.Pubkey).Msg("context assembly failed, replying without context")
	} else if contextText != "" {
		userContent = contextText
	}

	category := core.CategoryAirReply
	if hasMention {
		category = core.CategoryMentionReply
	}

	llmCtx := ctx
	if snap.gptTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, snap.gptTimeout)
		defer cancel()
	}

	reply, err := p.llm.Complete(llmCtx, systemPrompt, userContent)
	if err != nil {
		return Result{PersonaPubkey: chosen.Pubkey}, fmt.Errorf("generate reply: %w", err)
	}
	if err := p.store.InsertTokenUsage(chosen.Pubkey, category, reply.Usage.PromptTokens, reply.Usage.CompletionTokens, userContent, reply.Content); err != nil {
		p.log.Warn().Err(err).Msg("failed to record token usage")
	}
	if reply.Content == "" {
		return Result{PersonaPubkey: chosen.Pubkey}, nil
	}

	sent, err := p.publish(ctx, *chosen, evt, reply.Content, hasMention)
	if err != nil {
		p.log.Warn().Err(err).Str("persona", chosen.Pubkey).Msg("failed to publish reply")
		return Result{PersonaPubkey: chosen.Pubkey}, nil
	}
	if sent != nil {
		p.logOutgoing(sent, chosen.Pubkey, hasConversationLog)
		if !hasMention {
			p.lastAirReplyAt.Store(time.Now().Unix())
		}
	}

	return Result{PersonaPubkey: chosen.Pubkey, Replied: true}, nil
}

func (p *Pipeline) persistIncoming(evt *nostr.Event, japanese bool) {
	eventJSON, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn().Err(err).Str("event_id", evt.ID).Msg("failed to marshal event")
		return
	}
	eventType := ""
	if japanese {
		eventType = "air_reply"
	}
	if _, err := p.store.InsertEvent(evt.ID, string(eventJSON), evt.PubKey, evt.Kind, evt.Content, int64(evt.CreatedAt), langdetect.Code(evt.Content), eventType); err != nil && !errors.Is(err, core.ErrDuplicateEventID) {
		p.log.Warn().Err(err).Str("event_id", evt.ID).Msg("failed to save event")
	}
}

func (p *Pipeline) checkFollower(ctx context.Context, userPubkey, personaPubkey string, followerTTL time.Duration) (bool, error) {
	cached, err := p.store.GetFollowerCache(userPubkey, personaPubkey)
	if err != nil {
		return false, fmt.Errorf("read follower cache: %w", err)
	}
	if cached != nil && time.Since(time.Unix(cached.CachedAt, 0)) < followerTTL {
		return cached.IsFollower, nil
	}
	isFollower, err := p.relay.IsFollower(ctx, userPubkey, personaPubkey)
	if err != nil {
		return false, fmt.Errorf("query relay: %w", err)
	}
	if err := p.store.SetFollowerCache(userPubkey, personaPubkey, isFollower); err != nil {
		p.log.Warn().Err(err).Msg("failed to cache follower status")
	}
	return isFollower, nil
}

func (p *Pipeline) rateLimited(personaPubkey, userPubkey string, snap settingsSnapshot) (bool, error) {
	count, err := p.store.ConversationCount(personaPubkey, userPubkey, snap.conversationLimitMinutes)
	if err != nil {
		return false, err
	}
	return int64(count) >= snap.conversationLimitCount, nil
}

func (p *Pipeline) logIncomingMention(evt *nostr.Event, personaPubkey, threadRoot string, personas []store.Persona, japanese bool) error {
	eventRefID, err := p.resolveEventRefID(evt, japanese)
	if err != nil {
		return fmt.Errorf("resolve event ref: %w", err)
	}
	mentionedPubkeys := nip10.MentionedPubkeys(tagsToSlices(evt.Tags))
	isBotConversation := nip10.IsBotConversation(mentionedPubkeys, pubkeysOf(personas))
	_, err = p.store.InsertConversationLog(personaPubkey, eventRefID, threadRoot, mentionedPubkeys, false, isBotConversation)
	return err
}

func (p *Pipeline) resolveEventRefID(evt *nostr.Event, japanese bool) (int64, error) {
	existing, err := p.store.GetEventByEventID(evt.ID)
	if err != nil {
		return 0, fmt.Errorf("lookup event: %w", err)
	}
	if existing != nil {
		return existing.ID, nil
	}
	eventJSON, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	id, err := p.store.InsertEvent(evt.ID, string(eventJSON), evt.PubKey, evt.Kind, evt.Content, int64(evt.CreatedAt), langdetect.Code(evt.Content), "mention")
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Pipeline) buildContext(ctx context.Context, hasConversationLog bool, chosen *store.Persona, userPubkey, content, threadRoot string, snap settingsSnapshot) (string, error) {
	if hasConversationLog {
		return p.buildMentionContext(ctx, chosen.Pubkey, userPubkey, content, threadRoot, snap)
	}
	return contextengine.BuildAirReplyContext(p.airReplyStore, snap.timelineSize, chosen.AirReplySingleRatio, p.rnd.Intn(100), p.rnd.Intn(maxInt(snap.timelineSize, 1)), p.resolveName)
}

// buildMentionContext loads the timeline between persona and user, scoped to
// the thread root when the incoming event carries one (spec §4.F
// timeline-in-thread), falling back to the unscoped persona/user timeline
// for top-level mentions.
func (p *Pipeline) buildMentionContext(ctx context.Context, personaPubkey, userPubkey, userInput, threadRoot string, snap settingsSnapshot) (string, error) {
	limit := snap.recentContextCount
	var events []store.TimelineEvent
	var err error
	if threadRoot != "" {
		events, err = p.store.TimelineInThread(personaPubkey, userPubkey, threadRoot, limit)
	} else {
		events, err = p.store.TimelineWithUser(personaPubkey, userPubkey, limit)
	}
	if err != nil {
		return "", fmt.Errorf("load timeline: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}

	timelineText := contextengine.RenderTimeline(events, p.resolveName)
	if contextengine.Overflows(timelineText, snap.summaryThreshold) {
		summary, err := p.summarizer.SummarizeIfNeeded(ctx, personaPubkey, userInput, timelineText, snap.summaryThreshold, snap.maxSummaryTokens)
		if err != nil {
			return "", fmt.Errorf("summarize timeline: %w", err)
		}
		if summary != "" {
			return fmt.Sprintf("【会話の要約】\n%s\n\n【現在の発言】\n%s", summary, userInput), nil
		}
	}
	return fmt.Sprintf("【会話履歴】\n%s\n\n【現在の発言】\n%s", timelineText, userInput), nil
}

func (p *Pipeline) buildSystemPrompt(personality string, hasMention bool, userDisplayName string, answerLength int) string {
	base, override := extractPersonalityOverride(personality)

	var prompt string
	if override != "" {
		prompt = fmt.Sprintf("これはあなたの人格です。'%s'\n%s", base, override)
	} else {
		prompt = fmt.Sprintf("これはあなたの人格です。'%s'\nこの人格を演じて次の行の文章に対して%d文字程度で返信してください。ユーザーから文字数指定があった場合はそちらを優先してください。", base, answerLength)
	}

	switch {
	case !hasMention:
		prompt += "次の行の文章はSNSでの投稿です。あなたがたまたま見かけたものであなた宛の文章ではないのでその点に注意して回答してください。"
	case userDisplayName != "":
		prompt += fmt.Sprintf("話しかけてきた相手の名前は「%s」です。", userDisplayName)
	}
	return prompt
}

// extractPersonalityOverride pulls a "<<...>>"-delimited instruction out of
// a persona's prompt field, returning the prompt with that span removed
// alongside the extracted text, grounded on
// original_source/src/gpt.rs::get_reply's start_delimiter/end_delimiter
// handling: a persona prompt may embed its own reply instructions instead
// of relying on the default "respond in N characters" framing.
func extractPersonalityOverride(personality string) (base, override string) {
	const startDelim, endDelim = "<<", ">>"
	start := strings.Index(personality, startDelim)
	if start < 0 {
		return personality, ""
	}
	end := strings.Index(personality, endDelim)
	if end < 0 || end < start {
		return personality, ""
	}
	contentStart := start + len(startDelim)
	override = personality[contentStart:end]
	if override == "" {
		return personality, ""
	}
	base = personality[:start] + personality[end+len(endDelim):]
	return base, override
}

func (p *Pipeline) resolveName(pubkey string) string {
	if v, ok := p.nameCache.Load(pubkey); ok {
		return v.(string)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	name := ""
	if profile, err := p.relay.GetProfile(ctx, pubkey); err == nil && profile != nil {
		name = profile.DisplayName
		if name == "" {
			name = profile.Name
		}
	}
	p.nameCache.Store(pubkey, name)
	return name
}

func (p *Pipeline) publish(ctx context.Context, chosen store.Persona, evt *nostr.Event, content string, hasMention bool) (*nostr.Event, error) {
	if hasMention {
		return p.relay.PublishReply(ctx, chosen.SecretKey, content, evt)
	}
	if evt.Kind != nostr.KindTextNote {
		return nil, nil
	}
	return p.relay.PublishStandalone(ctx, chosen.SecretKey, content)
}

func (p *Pipeline) logOutgoing(sent *nostr.Event, personaPubkey string, hasConversationLog bool) {
	eventJSON, err := json.Marshal(sent)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal outgoing event")
		return
	}
	eventType := "bot_post"
	if hasConversationLog {
		eventType = "bot_reply"
	}
	refID, err := p.store.InsertEvent(sent.ID, string(eventJSON), sent.PubKey, sent.Kind, sent.Content, int64(sent.CreatedAt), "ja", eventType)
	if err != nil {
		if !errors.Is(err, core.ErrDuplicateEventID) {
			p.log.Warn().Err(err).Msg("failed to save bot event")
		}
		return
	}
	if !hasConversationLog {
		return
	}
	threadRoot := nip10.ThreadRootID(tagsToSlices(sent.Tags))
	if _, err := p.store.InsertConversationLog(personaPubkey, refID, threadRoot, nil, true, false); err != nil {
		p.log.Warn().Err(err).Msg("failed to log bot utterance")
	}
}

func choosePersona(personas []store.Persona, mentioned *persona.Candidate, rnd Rand) *store.Persona {
	if mentioned != nil {
		for i := range personas {
			if personas[i].Pubkey == mentioned.Pubkey {
				return &personas[i]
			}
		}
		return nil
	}
	if len(personas) == 0 {
		return nil
	}
	return &personas[rnd.Intn(len(personas))]
}

func pubkeysOf(personas []store.Persona) []string {
	out := make([]string, len(personas))
	for i, p := range personas {
		out[i] = p.Pubkey
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func tagsToSlices(tags nostr.Tags) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = []string(t)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
