// Package relay is a façade over github.com/nbd-wtf/go-nostr's SimplePool,
// adapting the wire protocol to the narrow operations components F/G need:
// subscribe, publish, one-shot fetch, follower lookup, and profile-metadata
// lookup. Grounded on
// other_examples/..._sandwichfarm-nophr__internal-sync-engine (pool usage,
// context-scoped subscriptions) and original_source/src/util.rs
// (is_follower, get_kind0, reply_to, send_to semantics).
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

// Client wraps a SimplePool bound to a fixed read/write relay set.
type Client struct {
	pool        *nostr.SimplePool
	readRelays  []string
	writeRelays []string
	log         zerolog.Logger
}

// New builds a Client over the given read and write relay URL lists (spec
// §6 RelayServersConfig).
func New(readRelays, writeRelays []string, log zerolog.Logger) *Client {
	return &Client{
		pool:        nostr.NewSimplePool(context.Background()),
		readRelays:  readRelays,
		writeRelays: writeRelays,
		log:         log,
	}
}

// Subscribe opens a long-lived subscription across every read relay and
// streams matching events until ctx is canceled.
func (c *Client) Subscribe(ctx context.Context, filter nostr.Filter) <-chan *nostr.Event {
	out := make(chan *nostr.Event, 256)
	sub := c.pool.SubscribeMany(ctx, c.readRelays, filter)
	go func() {
		defer close(out)
		for ie := range sub {
			select {
			case out <- ie.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// defaultFetchTimeout bounds one-shot queries, grounded on
// original_source/src/util.rs's 10-second get_events_of timeout.
const defaultFetchTimeout = 10 * time.Second

// Fetch runs a bounded one-shot query against every read relay and returns
// the union of results, deduplicated by event id.
func (c *Client) Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	seen := make(map[string]bool)
	var out []*nostr.Event
	for ie := range c.pool.SubscribeMany(ctx, c.readRelays, filter) {
		if seen[ie.Event.ID] {
			continue
		}
		seen[ie.Event.ID] = true
		out = append(out, ie.Event)
	}
	return out, nil
}

// IsFollower reports whether userPubkey's most recent kind-3 contact list
// contains a p-tag for personaPubkey (spec §4.C, grounded on
// original_source/src/util.rs::is_follower).
func (c *Client) IsFollower(ctx context.Context, userPubkey, personaPubkey string) (bool, error) {
	events, err := c.Fetch(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindFollowList},
		Authors: []string{userPubkey},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("fetch contact list for %s: %w", userPubkey, err)
	}
	if len(events) == 0 {
		return false, nil
	}
	return hasFollowTag(newestEvent(events), personaPubkey), nil
}

// newestEvent returns the event with the largest CreatedAt; events must be
// non-empty.
func newestEvent(events []*nostr.Event) *nostr.Event {
	newest := events[0]
	for _, e := range events[1:] {
		if e.CreatedAt > newest.CreatedAt {
			newest = e
		}
	}
	return newest
}

// hasFollowTag reports whether a kind-3 contact list event p-tags pubkey.
func hasFollowTag(contactList *nostr.Event, pubkey string) bool {
	for _, tag := range contactList.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
			return true
		}
	}
	return false
}

// Metadata is the parsed content of a kind-0 event.
type Metadata struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
}

// GetProfile fetches the most recent kind-0 metadata event for pubkey
// (grounded on original_source/src/util.rs::get_kind0).
func (c *Client) GetProfile(ctx context.Context, pubkey string) (*Metadata, error) {
	events, err := c.Fetch(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch profile for %s: %w", pubkey, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	newest := newestEvent(events)
	var m Metadata
	if err := json.Unmarshal([]byte(newest.Content), &m); err != nil {
		return nil, fmt.Errorf("unmarshal profile metadata for %s: %w", pubkey, err)
	}
	return &m, nil
}

// PublishStandalone signs and publishes a fresh text note with secretKey
// (grounded on original_source/src/util.rs::send_to).
func (c *Client) PublishStandalone(ctx context.Context, secretKey, content string) (*nostr.Event, error) {
	return c.publish(ctx, secretKey, content, nil)
}

// PublishReply signs and publishes a text note tagged as a reply to target
// (grounded on original_source/src/util.rs::reply_to): an "e" tag to the
// target event id and a "p" tag to its author.
func (c *Client) PublishReply(ctx context.Context, secretKey, content string, target *nostr.Event) (*nostr.Event, error) {
	return c.publish(ctx, secretKey, content, replyTags(target))
}

func replyTags(target *nostr.Event) nostr.Tags {
	return nostr.Tags{
		{"e", target.ID},
		{"p", target.PubKey},
	}
}

// PublishProfile signs and publishes a kind-0 metadata event carrying
// profileJSON as its content (grounded on
// original_source/src/util.rs::send_kind0), used by admin commands that
// create or update a persona's public profile.
func (c *Client) PublishProfile(ctx context.Context, secretKey, profileJSON string) (*nostr.Event, error) {
	pubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}
	evt := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindProfileMetadata,
		Content:   profileJSON,
	}
	if err := evt.Sign(secretKey); err != nil {
		return nil, fmt.Errorf("sign profile event: %w", err)
	}

	var lastErr error
	published := false
	for _, url := range c.writeRelays {
		relay, err := c.pool.EnsureRelay(url)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("relay", url).Msg("failed to connect to write relay")
			continue
		}
		if err := relay.Publish(ctx, evt); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("relay", url).Msg("profile publish failed")
			continue
		}
		published = true
	}
	if !published {
		return nil, fmt.Errorf("publish profile to all write relays failed: %w", lastErr)
	}
	return &evt, nil
}

func (c *Client) publish(ctx context.Context, secretKey, content string, tags nostr.Tags) (*nostr.Event, error) {
	pubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}
	evt := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      tags,
		Content:   content,
	}
	if err := evt.Sign(secretKey); err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}

	var lastErr error
	published := false
	for _, url := range c.writeRelays {
		relay, err := c.pool.EnsureRelay(url)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("relay", url).Msg("failed to connect to write relay")
			continue
		}
		if err := relay.Publish(ctx, evt); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("relay", url).Msg("publish failed")
			continue
		}
		published = true
	}
	if !published {
		return nil, fmt.Errorf("publish to all write relays failed: %w", lastErr)
	}
	return &evt, nil
}
