package callflow

import (
	"strings"
	"unicode"
)

const (
	DefaultRepromptMessage  = "I'm sorry, I didn't catch that. Could you please repeat?"
	PresenceRecoveryMessage = "Yes, I can hear you. How can I help you today?"
)

// presenceKeywords are what callers say when they think nobody is listening.
var presenceKeywords = []string{
	"hello",
	"hi",
	"hey",
	"are you there",
	"anyone there",
	"can you hear me",
}

// RecoveryMessage picks the line to speak when no usable transcript arrived.
// Partial or noisy text containing a presence check gets an acknowledgment,
// everything else gets the generic re-prompt.
func RecoveryMessage(text string) string {
	normalized := " " + normalizeWords(text) + " "
	for _, keyword := range presenceKeywords {
		if strings.Contains(normalized, " "+keyword+" ") {
			return PresenceRecoveryMessage
		}
	}
	return DefaultRepromptMessage
}

// normalizeWords lowercases text and joins its words with single spaces, so
// keywords only match on word boundaries ("hi" does not match "this").
func normalizeWords(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(words, " ")
}
