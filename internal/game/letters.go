// internal/game/letters.go
//
// Letter-slot keys and letter-question binding.
//
// A main answer can repeat letters, so each occurrence gets its own key
// "<LETTER>_<n>" where n counts the earlier occurrences of that letter.
// Keys are produced by one left-to-right scan that skips whitespace; the
// binding step and reveal tracking both go through SlotKeys so they agree.

package game

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"
)

// SlotKeys returns the letter-slot keys of answer in left-to-right order.
func SlotKeys(answer string) []string {
	counts := make(map[rune]int)
	keys := make([]string, 0, len(answer))
	for _, r := range NormalizeAnswer(answer) {
		if unicode.IsSpace(r) {
			continue
		}
		keys = append(keys, slotKey(r, counts[r]))
		counts[r]++
	}
	return keys
}

func slotKey(r rune, n int) string { return fmt.Sprintf("%c_%d", r, n) }

// SlotLetter returns the letter part of a slot key ("L_1" -> "L").
func SlotLetter(key string) string {
	if i := strings.LastIndexByte(key, '_'); i > 0 {
		return key[:i]
	}
	return key
}

// NormalizeAnswer trims and uppercases a main answer.
func NormalizeAnswer(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidMainAnswer reports whether s (already normalized) has at least one
// letter and contains only A–Z, spaces and apostrophes.
func ValidMainAnswer(s string) bool {
	letters := 0
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r == ' ' || r == '\'':
		default:
			return false
		}
	}
	return letters > 0
}

// AssignLetterQuestions shuffles pool with rng (the package source when nil)
// and binds its entries to the slot keys of answer in order. Entries beyond
// the number of slots are returned as the unassigned remainder.
//
// This must run once per round before the game is written; it is not safe
// to call inside a retryable transaction body.
func AssignLetterQuestions(round int, answer string, pool []LetterQuestion, rng *rand.Rand) (map[string]LetterQuestion, []LetterQuestion, error) {
	keys := SlotKeys(answer)
	if len(pool) < len(keys) {
		return nil, nil, &InsufficientQuestionPoolError{Round: round, Need: len(keys), Have: len(pool)}
	}

	shuffled := append([]LetterQuestion(nil), pool...)
	swap := func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] }
	if rng != nil {
		rng.Shuffle(len(shuffled), swap)
	} else {
		rand.Shuffle(len(shuffled), swap)
	}

	bound := make(map[string]LetterQuestion, len(keys))
	for i, k := range keys {
		bound[k] = shuffled[i]
	}
	rest := shuffled[len(keys):]
	if len(rest) == 0 {
		rest = nil
	}
	return bound, rest, nil
}
