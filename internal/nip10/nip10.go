// Package nip10 reads the NIP-10 thread-marking tags ("e"/"p") off an
// event's tag list, grounded on
// original_source/src/database/events.rs (extract_mentioned_pubkeys,
// extract_thread_root_id, detect_bot_conversation).
package nip10

// MentionedPubkeys returns every pubkey named in a "p" tag, in tag order.
func MentionedPubkeys(tags [][]string) []string {
	var out []string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "p" {
			out = append(out, tag[1])
		}
	}
	return out
}

// ThreadRootID returns the event id marked "root" by an "e" tag, or "" if
// none is marked.
func ThreadRootID(tags [][]string) string {
	for _, tag := range tags {
		if len(tag) >= 4 && tag[0] == "e" && tag[3] == "root" {
			return tag[1]
		}
	}
	return ""
}

// IsBotConversation reports whether any of mentionedPubkeys names one of
// the running bots, meaning this event is bot-to-bot traffic rather than a
// human addressing a persona.
func IsBotConversation(mentionedPubkeys, allBotPubkeys []string) bool {
	botSet := make(map[string]bool, len(allBotPubkeys))
	for _, pk := range allBotPubkeys {
		botSet[pk] = true
	}
	for _, pk := range mentionedPubkeys {
		if botSet[pk] {
			return true
		}
	}
	return false
}
