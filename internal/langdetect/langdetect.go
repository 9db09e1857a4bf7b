// Package langdetect makes the single language call the pipeline needs:
// is this content Japanese. The original bot used whatlang for full
// language identification; nothing in this pipeline reads a language tag
// other than "is it ja", so this is narrowed to a script check over
// Hiragana/Katakana runes rather than carrying a general-purpose detector.
package langdetect

import "unicode"

// IsJapanese reports whether content contains at least one Hiragana or
// Katakana rune. Kanji alone is not sufficient since Chinese text also
// uses CJK ideographs; the kana scripts are what original_source/src
// treats as the Japanese signal worth reacting to with an air-reply.
func IsJapanese(content string) bool {
	for _, r := range content {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// Code returns the language tag the events table stores: "ja" or "".
func Code(content string) string {
	if IsJapanese(content) {
		return "ja"
	}
	return ""
}
