// Package admincmd parses and executes administrator-issued text commands
// embedded in ordinary Nostr events (spec §4.J): persona lifecycle
// (add/update/enable/disable/delete), settings overrides, and the global
// pause switch. Grounded on
// original_source/src/commands.rs::command_handler's admin-pubkey-gated,
// first-line-keyword dispatch, generalized from its ad hoc Japanese
// substring checks ("new", "get kind 0", ...) to an explicit "!noun verb"
// convention.
package admincmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/core"
	"github.com/kojira/nostr-chan-go/internal/store"
)

// defaultAirReplySingleRatio is the ratio given to a persona created by a
// "!persona add" command that omits the optional ratio line; "!persona
// update" keeps the persona's existing ratio instead.
const defaultAirReplySingleRatio = 50

// PersonaStore is the subset of *store.Store persona lifecycle commands need.
type PersonaStore interface {
	AddPersona(pubkey, secretKey, prompt, profileJSON string, airReplySingleRatio int) error
	UpdatePersona(pubkey, secretKey, prompt, profileJSON string, airReplySingleRatio int) error
	SetPersonaStatus(pubkey string, status store.PersonaStatus) error
	DeletePersona(pubkey string) error
	GetPersona(pubkey string) (*store.Persona, error)
}

// SettingsStore is the subset of *settings.Settings (plus the raw DB
// lookup it wraps) admin settings commands need.
type SettingsStore interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
}

// TokenUsageStore is the subset of *store.Store "!tokens report" needs.
type TokenUsageStore interface {
	TokenUsageTotals(personaPubkey string) (map[core.TokenCategory]store.TokenUsageRecord, error)
}

// RelayClient is the subset of *relay.Client admin commands need: signing
// and publishing confirmation replies, and broadcasting persona profiles.
type RelayClient interface {
	PublishReply(ctx context.Context, secretKey, content string, target *nostr.Event) (*nostr.Event, error)
	PublishProfile(ctx context.Context, secretKey, profileJSON string) (*nostr.Event, error)
}

// KeyGenerator produces a fresh secp256k1 keypair for "!persona add".
type KeyGenerator func() (secretKey, pubkey string, err error)

// GenerateKeypair is the default KeyGenerator, grounded on
// original_source/src/commands.rs::admin_new's Keys::generate().
func GenerateKeypair() (secretKey, pubkey string, err error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", "", fmt.Errorf("derive pubkey for generated persona: %w", err)
	}
	return sk, pk, nil
}

// Handler dispatches admin commands found in event content.
type Handler struct {
	personas     PersonaStore
	settings     SettingsStore
	relay        RelayClient
	tokenUsage   TokenUsageStore
	model        string
	admins       map[string]bool
	generateKeys KeyGenerator
	log          zerolog.Logger
}

// New builds a Handler. adminPubkeys is the allowlist from spec §6
// (config.bot.admin_pubkeys); only events authored by one of these pubkeys
// are ever dispatched. model prices "!tokens report" totals against the
// configured gpt.model rate (spec §4.A token accounting).
func New(personas PersonaStore, settings SettingsStore, relay RelayClient, tokenUsage TokenUsageStore, model string, adminPubkeys []string, generateKeys KeyGenerator, log zerolog.Logger) *Handler {
	admins := make(map[string]bool, len(adminPubkeys))
	for _, p := range adminPubkeys {
		admins[p] = true
	}
	if generateKeys == nil {
		generateKeys = GenerateKeypair
	}
	return &Handler{
		personas:     personas,
		settings:     settings,
		relay:        relay,
		tokenUsage:   tokenUsage,
		model:        model,
		admins:       admins,
		generateKeys: generateKeys,
		log:          log.With().Str("component", "admincmd").Logger(),
	}
}

// Handle inspects evt and, if it is a recognized admin command from an
// allowlisted pubkey, executes it and returns handled=true. Any other
// event (non-admin author, or content that doesn't match a known command)
// returns handled=false so the caller can fall through to the ordinary
// reply pipeline, mirroring command_handler's role as a first-look filter
// ahead of normal persona mention handling.
func (h *Handler) Handle(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona) (handled bool, err error) {
	if !h.admins[evt.PubKey] {
		return false, nil
	}
	lines := strings.Split(evt.Content, "\n")
	if len(lines) == 0 {
		return false, nil
	}
	head := strings.TrimSpace(lines[0])

	switch {
	case strings.HasPrefix(head, "!persona add"):
		return true, h.personaAdd(ctx, evt, lines)
	case strings.HasPrefix(head, "!persona update"):
		return true, h.personaUpdate(ctx, evt, lines, actingPersona)
	case strings.HasPrefix(head, "!persona enable"):
		return true, h.personaSetStatus(ctx, evt, actingPersona, store.PersonaActive)
	case strings.HasPrefix(head, "!persona disable"):
		return true, h.personaSetStatus(ctx, evt, actingPersona, store.PersonaDisabled)
	case strings.HasPrefix(head, "!persona delete"):
		return true, h.personaDelete(ctx, evt, actingPersona)
	case strings.HasPrefix(head, "!settings set"):
		return true, h.settingsSet(ctx, evt, lines, actingPersona)
	case strings.HasPrefix(head, "!settings get"):
		return true, h.settingsGet(ctx, evt, lines, actingPersona)
	case strings.HasPrefix(head, "!pause on"):
		return true, h.pause(ctx, evt, actingPersona, true)
	case strings.HasPrefix(head, "!pause off"):
		return true, h.pause(ctx, evt, actingPersona, false)
	case strings.HasPrefix(head, "!tokens report"):
		return true, h.tokensReport(ctx, evt, actingPersona)
	default:
		return false, nil
	}
}

// personaProfile is the subset of kind-0 metadata admincmd reads back out
// of a profile JSON blob to compose a confirmation message.
type personaProfile struct {
	DisplayName string `json:"display_name"`
}

// personaAdd implements "!persona add", expecting:
//
//	!persona add
//	<system prompt>
//	<profile JSON>
//	[air_reply_single_ratio]
//
// grounded on original_source/src/commands.rs::admin_new: generate a
// keypair, store the persona, broadcast its kind-0 profile, then introduce
// itself by replying as the new persona.
func (h *Handler) personaAdd(ctx context.Context, evt *nostr.Event, lines []string) error {
	if len(lines) < 3 {
		return fmt.Errorf("!persona add requires a prompt line and a profile JSON line")
	}
	prompt := lines[1]
	profileJSON := lines[2]
	ratio := defaultAirReplySingleRatio
	if len(lines) > 3 {
		if n, err := parseRatio(lines[3]); err == nil {
			ratio = n
		}
	}

	secretKey, pubkey, err := h.generateKeys()
	if err != nil {
		return err
	}
	if err := h.personas.AddPersona(pubkey, secretKey, prompt, profileJSON, ratio); err != nil {
		return fmt.Errorf("add persona: %w", err)
	}
	if _, err := h.relay.PublishProfile(ctx, secretKey, profileJSON); err != nil {
		h.log.Warn().Err(err).Str("pubkey", pubkey).Msg("failed to broadcast new persona profile")
	}

	var profile personaProfile
	greeting := "コンゴトモヨロシク！"
	if err := json.Unmarshal([]byte(profileJSON), &profile); err == nil && profile.DisplayName != "" {
		greeting = fmt.Sprintf("%sです。%s", profile.DisplayName, greeting)
	}
	_, err = h.relay.PublishReply(ctx, secretKey, greeting, evt)
	return err
}

// personaUpdate implements "!persona update <pubkey>", replacing the
// prompt and profile of an existing persona and rebroadcasting its kind-0
// metadata (original_source/src/commands.rs::admin_update_kind0).
func (h *Handler) personaUpdate(ctx context.Context, evt *nostr.Event, lines []string, actingPersona *store.Persona) error {
	pubkey := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), "!persona update"))
	if pubkey == "" || len(lines) < 3 {
		return fmt.Errorf("!persona update <pubkey> requires a prompt line and a profile JSON line")
	}
	existing, err := h.personas.GetPersona(pubkey)
	if err != nil {
		return fmt.Errorf("look up persona %s: %w", pubkey, err)
	}
	if existing == nil {
		return fmt.Errorf("update persona %s: %w", pubkey, core.ErrNotFound)
	}

	prompt := lines[1]
	profileJSON := lines[2]
	ratio := existing.AirReplySingleRatio
	if len(lines) > 3 {
		if n, err := parseRatio(lines[3]); err == nil {
			ratio = n
		}
	}
	if err := h.personas.UpdatePersona(pubkey, existing.SecretKey, prompt, profileJSON, ratio); err != nil {
		return fmt.Errorf("update persona %s: %w", pubkey, err)
	}
	if _, err := h.relay.PublishProfile(ctx, existing.SecretKey, profileJSON); err != nil {
		h.log.Warn().Err(err).Str("pubkey", pubkey).Msg("failed to rebroadcast updated persona profile")
	}
	return h.confirm(ctx, evt, actingPersona, "データベースの情報を更新してブロードキャストしました")
}

func (h *Handler) personaSetStatus(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona, status store.PersonaStatus) error {
	pubkey := commandArg(evt.Content, string(statusVerb(status)))
	if pubkey == "" {
		return fmt.Errorf("%s requires a pubkey argument", statusVerb(status))
	}
	if err := h.personas.SetPersonaStatus(pubkey, status); err != nil {
		return fmt.Errorf("set persona %s status to %s: %w", pubkey, status, err)
	}
	return h.confirm(ctx, evt, actingPersona, fmt.Sprintf("ペルソナの状態を%sにしました", status))
}

func statusVerb(status store.PersonaStatus) string {
	if status == store.PersonaActive {
		return "!persona enable"
	}
	return "!persona disable"
}

func (h *Handler) personaDelete(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona) error {
	pubkey := commandArg(evt.Content, "!persona delete")
	if pubkey == "" {
		return fmt.Errorf("!persona delete requires a pubkey argument")
	}
	if err := h.personas.DeletePersona(pubkey); err != nil {
		return fmt.Errorf("delete persona %s: %w", pubkey, err)
	}
	return h.confirm(ctx, evt, actingPersona, "ペルソナを削除しました")
}

func (h *Handler) settingsSet(ctx context.Context, evt *nostr.Event, lines []string, actingPersona *store.Persona) error {
	arg := commandArg(evt.Content, "!settings set")
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return fmt.Errorf("!settings set <key> <value> requires both a key and a value")
	}
	key := fields[0]
	value := strings.Join(fields[1:], " ")
	if err := h.settings.Set(key, value); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return h.confirm(ctx, evt, actingPersona, fmt.Sprintf("%s を %s に設定しました", key, value))
}

func (h *Handler) settingsGet(ctx context.Context, evt *nostr.Event, lines []string, actingPersona *store.Persona) error {
	key := commandArg(evt.Content, "!settings get")
	if key == "" {
		return fmt.Errorf("!settings get <key> requires a key argument")
	}
	value, ok, err := h.settings.Get(key)
	if err != nil {
		return fmt.Errorf("get setting %s: %w", key, err)
	}
	if !ok {
		return h.confirm(ctx, evt, actingPersona, fmt.Sprintf("%s には設定がありません（ファイルのデフォルト値を使用中）", key))
	}
	return h.confirm(ctx, evt, actingPersona, fmt.Sprintf("%s = %s", key, value))
}

func (h *Handler) pause(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona, on bool) error {
	value := "false"
	message := "一時停止を解除しました"
	if on {
		value = "true"
		message = "一時停止しました"
	}
	if err := h.settings.Set("global_pause", value); err != nil {
		return fmt.Errorf("set global_pause: %w", err)
	}
	return h.confirm(ctx, evt, actingPersona, message)
}

// tokensReport implements "!tokens report <pubkey>", summing recorded
// prompt/completion tokens per category for a persona and pricing the
// total against the configured model's published rate (spec §4.A/§4.J).
func (h *Handler) tokensReport(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona) error {
	pubkey := commandArg(evt.Content, "!tokens report")
	if pubkey == "" {
		return fmt.Errorf("!tokens report requires a persona pubkey argument")
	}
	totals, err := h.tokenUsage.TokenUsageTotals(pubkey)
	if err != nil {
		return fmt.Errorf("load token usage totals for %s: %w", pubkey, err)
	}
	if len(totals) == 0 {
		return h.confirm(ctx, evt, actingPersona, fmt.Sprintf("%s の利用記録はありません", pubkey))
	}

	var lines []string
	var totalCost float64
	for _, category := range core.AllTokenCategories() {
		rec, ok := totals[category]
		if !ok || (rec.PromptTokens == 0 && rec.CompletionTokens == 0) {
			continue
		}
		cost := core.EstimateCostUSD(h.model, rec.PromptTokens, rec.CompletionTokens)
		totalCost += cost
		lines = append(lines, fmt.Sprintf("%s: prompt=%d completion=%d ($%.4f)", category, rec.PromptTokens, rec.CompletionTokens, cost))
	}
	lines = append(lines, fmt.Sprintf("合計: $%.4f (%s)", totalCost, h.model))
	return h.confirm(ctx, evt, actingPersona, strings.Join(lines, "\n"))
}

// confirm replies to the triggering event as actingPersona, if one was
// resolved; with no persona in context (e.g. the first "!persona add" in
// an otherwise empty database) the confirmation is simply skipped, since
// personaAdd already replies as the persona it just created.
func (h *Handler) confirm(ctx context.Context, evt *nostr.Event, actingPersona *store.Persona, message string) error {
	if actingPersona == nil {
		return nil
	}
	_, err := h.relay.PublishReply(ctx, actingPersona.SecretKey, message, evt)
	return err
}

// commandArg returns the text following prefix on content's first line,
// trimmed of surrounding whitespace.
func commandArg(content, prefix string) string {
	lines := strings.SplitN(content, "\n", 2)
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), prefix))
}

func parseRatio(s string) (int, error) {
	s = strings.TrimSpace(s)
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
