package admincmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/core"
	"github.com/kojira/nostr-chan-go/internal/store"
)

type fakePersonaStore struct {
	added    []store.Persona
	updated  []store.Persona
	statuses map[string]store.PersonaStatus
	deleted  []string
	byPubkey map[string]*store.Persona
}

func newFakePersonaStore() *fakePersonaStore {
	return &fakePersonaStore{statuses: map[string]store.PersonaStatus{}, byPubkey: map[string]*store.Persona{}}
}

func (f *fakePersonaStore) AddPersona(pubkey, secretKey, prompt, profileJSON string, ratio int) error {
	f.added = append(f.added, store.Persona{Pubkey: pubkey, SecretKey: secretKey, Prompt: prompt, ProfileJSON: profileJSON, AirReplySingleRatio: ratio})
	f.byPubkey[pubkey] = &store.Persona{Pubkey: pubkey, SecretKey: secretKey, Prompt: prompt, ProfileJSON: profileJSON, AirReplySingleRatio: ratio}
	return nil
}

func (f *fakePersonaStore) UpdatePersona(pubkey, secretKey, prompt, profileJSON string, ratio int) error {
	f.updated = append(f.updated, store.Persona{Pubkey: pubkey, SecretKey: secretKey, Prompt: prompt, ProfileJSON: profileJSON, AirReplySingleRatio: ratio})
	return nil
}

func (f *fakePersonaStore) SetPersonaStatus(pubkey string, status store.PersonaStatus) error {
	f.statuses[pubkey] = status
	return nil
}

func (f *fakePersonaStore) DeletePersona(pubkey string) error {
	f.deleted = append(f.deleted, pubkey)
	return nil
}

func (f *fakePersonaStore) GetPersona(pubkey string) (*store.Persona, error) {
	return f.byPubkey[pubkey], nil
}

type fakeSettingsStore struct {
	values map[string]string
	set    map[string]string
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{values: map[string]string{}, set: map[string]string{}}
}

func (f *fakeSettingsStore) Set(key, value string) error {
	f.set[key] = value
	f.values[key] = value
	return nil
}

func (f *fakeSettingsStore) Get(key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

type publishedReply struct {
	secretKey string
	content   string
	target    *nostr.Event
}

type fakeRelay struct {
	replies  []publishedReply
	profiles []string
	failNext bool
}

func (f *fakeRelay) PublishReply(ctx context.Context, secretKey, content string, target *nostr.Event) (*nostr.Event, error) {
	if f.failNext {
		return nil, errors.New("publish failed")
	}
	f.replies = append(f.replies, publishedReply{secretKey: secretKey, content: content, target: target})
	return &nostr.Event{ID: "reply"}, nil
}

func (f *fakeRelay) PublishProfile(ctx context.Context, secretKey, profileJSON string) (*nostr.Event, error) {
	f.profiles = append(f.profiles, profileJSON)
	return &nostr.Event{ID: "profile"}, nil
}

type fakeTokenUsageStore struct {
	totals map[string]map[core.TokenCategory]store.TokenUsageRecord
}

func newFakeTokenUsageStore() *fakeTokenUsageStore {
	return &fakeTokenUsageStore{totals: map[string]map[core.TokenCategory]store.TokenUsageRecord{}}
}

func (f *fakeTokenUsageStore) TokenUsageTotals(personaPubkey string) (map[core.TokenCategory]store.TokenUsageRecord, error) {
	return f.totals[personaPubkey], nil
}

func fixedKeys() (string, string, error) {
	return "sk-fixed", "pk-fixed", nil
}

func newHandler(personas PersonaStore, settings SettingsStore, relay RelayClient, admin string) *Handler {
	return New(personas, settings, relay, newFakeTokenUsageStore(), "gpt-4o-mini", []string{admin}, fixedKeys, zerolog.Nop())
}

func TestHandleIgnoresNonAdminAuthor(t *testing.T) {
	h := newHandler(newFakePersonaStore(), newFakeSettingsStore(), &fakeRelay{}, "admin-pubkey")
	evt := &nostr.Event{PubKey: "someone-else", Content: "!persona add\nprompt\n{}"}

	handled, err := h.Handle(context.Background(), evt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled {
		t.Fatal("expected non-admin author's event to be left unhandled")
	}
}

func TestHandleIgnoresUnrecognizedContent(t *testing.T) {
	h := newHandler(newFakePersonaStore(), newFakeSettingsStore(), &fakeRelay{}, "admin-pubkey")
	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "hello there"}

	handled, err := h.Handle(context.Background(), evt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled {
		t.Fatal("expected ordinary chat content to be left unhandled")
	}
}

func TestPersonaAddCreatesPersonaAndGreetsAsIt(t *testing.T) {
	personas := newFakePersonaStore()
	relay := &fakeRelay{}
	h := newHandler(personas, newFakeSettingsStore(), relay, "admin-pubkey")
	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!persona add\nyou are Miku\n{\"display_name\":\"Miku\"}"}

	handled, err := h.Handle(context.Background(), evt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handled {
		t.Fatal("expected !persona add to be handled")
	}
	if len(personas.added) != 1 {
		t.Fatalf("expected exactly one persona to be added, got %d", len(personas.added))
	}
	if personas.added[0].Pubkey != "pk-fixed" || personas.added[0].SecretKey != "sk-fixed" {
		t.Fatalf("expected the generated keypair to be stored, got %+v", personas.added[0])
	}
	if personas.added[0].AirReplySingleRatio != defaultAirReplySingleRatio {
		t.Fatalf("expected default air reply ratio, got %d", personas.added[0].AirReplySingleRatio)
	}
	if len(relay.replies) != 1 || relay.replies[0].secretKey != "sk-fixed" {
		t.Fatalf("expected the new persona to introduce itself, got %+v", relay.replies)
	}
	if relay.replies[0].content == "" {
		t.Fatal("expected a non-empty greeting")
	}
	if len(relay.profiles) != 1 {
		t.Fatalf("expected the new profile to be broadcast, got %d", len(relay.profiles))
	}
}

func TestPersonaUpdateRejectsUnknownPubkey(t *testing.T) {
	h := newHandler(newFakePersonaStore(), newFakeSettingsStore(), &fakeRelay{}, "admin-pubkey")
	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!persona update unknown-pubkey\nprompt\n{}"}

	handled, err := h.Handle(context.Background(), evt, nil)
	if !handled {
		t.Fatal("expected !persona update to be dispatched even when it fails")
	}
	if err == nil {
		t.Fatal("expected an error for an unknown persona pubkey")
	}
}

func TestPersonaDisableSetsStatus(t *testing.T) {
	personas := newFakePersonaStore()
	acting := &store.Persona{Pubkey: "actor", SecretKey: "actor-sk"}
	relay := &fakeRelay{}
	h := newHandler(personas, newFakeSettingsStore(), relay, "admin-pubkey")
	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!persona disable target-pubkey"}

	handled, err := h.Handle(context.Background(), evt, acting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handled {
		t.Fatal("expected !persona disable to be handled")
	}
	if personas.statuses["target-pubkey"] != store.PersonaDisabled {
		t.Fatalf("expected target-pubkey to be disabled, got %v", personas.statuses)
	}
	if len(relay.replies) != 1 {
		t.Fatal("expected a confirmation reply signed by the acting persona")
	}
}

func TestSettingsSetAndGetRoundTrip(t *testing.T) {
	settings := newFakeSettingsStore()
	acting := &store.Persona{Pubkey: "actor", SecretKey: "actor-sk"}
	relay := &fakeRelay{}
	h := newHandler(newFakePersonaStore(), settings, relay, "admin-pubkey")

	setEvt := &nostr.Event{PubKey: "admin-pubkey", Content: "!settings set reaction_percent 40"}
	if _, err := h.Handle(context.Background(), setEvt, acting); err != nil {
		t.Fatalf("unexpected error setting: %v", err)
	}
	if settings.set["reaction_percent"] != "40" {
		t.Fatalf("expected reaction_percent=40, got %q", settings.set["reaction_percent"])
	}

	getEvt := &nostr.Event{PubKey: "admin-pubkey", Content: "!settings get reaction_percent"}
	handled, err := h.Handle(context.Background(), getEvt, acting)
	if err != nil || !handled {
		t.Fatalf("unexpected get result: handled=%v err=%v", handled, err)
	}
	if len(relay.replies) != 2 {
		t.Fatalf("expected two confirmation replies, got %d", len(relay.replies))
	}
}

func TestPauseOnAndOffSetsGlobalPause(t *testing.T) {
	settings := newFakeSettingsStore()
	acting := &store.Persona{Pubkey: "actor", SecretKey: "actor-sk"}
	h := newHandler(newFakePersonaStore(), settings, &fakeRelay{}, "admin-pubkey")

	onEvt := &nostr.Event{PubKey: "admin-pubkey", Content: "!pause on"}
	if _, err := h.Handle(context.Background(), onEvt, acting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.values["global_pause"] != "true" {
		t.Fatalf("expected global_pause=true, got %q", settings.values["global_pause"])
	}

	offEvt := &nostr.Event{PubKey: "admin-pubkey", Content: "!pause off"}
	if _, err := h.Handle(context.Background(), offEvt, acting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.values["global_pause"] != "false" {
		t.Fatalf("expected global_pause=false, got %q", settings.values["global_pause"])
	}
}

func TestTokensReportSummarizesAndPricesUsage(t *testing.T) {
	tokenUsage := newFakeTokenUsageStore()
	tokenUsage.totals["persona1"] = map[core.TokenCategory]store.TokenUsageRecord{
		core.CategoryMentionReply: {PromptTokens: 1000, CompletionTokens: 500},
	}
	relay := &fakeRelay{}
	h := New(newFakePersonaStore(), newFakeSettingsStore(), relay, tokenUsage, "gpt-4o-mini", []string{"admin-pubkey"}, fixedKeys, zerolog.Nop())
	acting := &store.Persona{Pubkey: "actor", SecretKey: "actor-sk"}

	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!tokens report persona1"}
	handled, err := h.Handle(context.Background(), evt, acting)
	if err != nil || !handled {
		t.Fatalf("unexpected result: handled=%v err=%v", handled, err)
	}
	if len(relay.replies) != 1 {
		t.Fatalf("expected one confirmation reply, got %d", len(relay.replies))
	}
	if !strings.Contains(relay.replies[0].content, "mention_reply") || !strings.Contains(relay.replies[0].content, "合計") {
		t.Fatalf("expected a per-category breakdown and a total, got %q", relay.replies[0].content)
	}
}

func TestTokensReportWithUnknownPersonaReportsNoUsage(t *testing.T) {
	relay := &fakeRelay{}
	h := New(newFakePersonaStore(), newFakeSettingsStore(), relay, newFakeTokenUsageStore(), "gpt-4o-mini", []string{"admin-pubkey"}, fixedKeys, zerolog.Nop())
	acting := &store.Persona{Pubkey: "actor", SecretKey: "actor-sk"}

	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!tokens report nobody"}
	if _, err := h.Handle(context.Background(), evt, acting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(relay.replies) != 1 || !strings.Contains(relay.replies[0].content, "利用記録はありません") {
		t.Fatalf("expected a no-usage confirmation, got %+v", relay.replies)
	}
}

func TestConfirmSkipsReplyWithoutActingPersona(t *testing.T) {
	settings := newFakeSettingsStore()
	relay := &fakeRelay{}
	h := newHandler(newFakePersonaStore(), settings, relay, "admin-pubkey")
	evt := &nostr.Event{PubKey: "admin-pubkey", Content: "!pause on"}

	if _, err := h.Handle(context.Background(), evt, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(relay.replies) != 0 {
		t.Fatal("expected no confirmation reply when no acting persona is in context")
	}
}
