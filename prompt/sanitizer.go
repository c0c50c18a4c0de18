// Package prompt normalizes user-supplied text before it enters the
// requirements analyzer or is concatenated into a worker prompt.
package prompt

import (
	"regexp"
	"strings"

	"github.com/c360studio/agentgraph/agerr"
)

// DefaultDescriptionCap is the default per-field truncation size (characters).
const DefaultDescriptionCap = 2000

// DefaultPromptMaxBytes is the default hard ceiling for any outbound prompt.
const DefaultPromptMaxBytes = 100_000

const ellipsis = "..."

// repeatedPrefixPattern matches "user requested:"-style prefixes, case
// insensitively, possibly repeated, at the start of a clause.
var repeatedPrefixPattern = regexp.MustCompile(`(?i)^\s*(user requested:|user request:)\s*`)

// sentenceSplitPattern splits on sentence terminators while keeping the
// terminator attached to the preceding sentence.
var sentenceSplitPattern = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Sanitizer cleans and size-bounds prompt text. The zero value is usable
// and applies DefaultDescriptionCap.
type Sanitizer struct {
	// DescriptionCap is the per-field truncation size in characters.
	// Zero means DefaultDescriptionCap.
	DescriptionCap int
}

// New creates a Sanitizer with the given per-field truncation cap. A cap of
// zero selects DefaultDescriptionCap.
func New(descriptionCap int) *Sanitizer {
	return &Sanitizer{DescriptionCap: descriptionCap}
}

func (s *Sanitizer) cap() int {
	if s.DescriptionCap <= 0 {
		return DefaultDescriptionCap
	}
	return s.DescriptionCap
}

// Clean removes repeated "user requested:"-style prefixes, deduplicates
// identical sentences (preserving first-occurrence order), collapses
// whitespace, and truncates to the configured cap, appending an ellipsis on
// truncation. Clean is idempotent: Clean(Clean(x)) == Clean(x).
func (s *Sanitizer) Clean(text string) string {
	stripped := stripRepeatedPrefixes(text)
	collapsed := whitespacePattern.ReplaceAllString(strings.TrimSpace(stripped), " ")
	deduped := dedupeSentences(collapsed)
	return truncate(deduped, s.cap())
}

// ExtractCore returns everything before the first occurrence of a repeated
// prefix marker, then Cleans it.
func (s *Sanitizer) ExtractCore(text string) string {
	loc := findFirstRepeatedPrefix(text)
	core := text
	if loc >= 0 {
		core = text[:loc]
	}
	return s.Clean(core)
}

// ValidateSize enforces a hard byte ceiling on any prompt handed to the LLM
// or a worker. context is included in the returned error for diagnostics.
// It returns a boolean warning flag (true once 80% of the ceiling is
// reached) alongside any error.
func ValidateSize(data []byte, maxBytes int, context string) (warn bool, err error) {
	if maxBytes <= 0 {
		maxBytes = DefaultPromptMaxBytes
	}
	n := len(data)
	if n > maxBytes {
		return false, agerr.PayloadTooLarge(
			"prompt for " + context + " exceeds the configured size ceiling").
			WithDetail("bytes", n).WithDetail("max_bytes", maxBytes)
	}
	return n >= (maxBytes*8)/10, nil
}

// stripRepeatedPrefixes removes every leading occurrence of the
// "user requested:" marker, including repeats produced by careless
// concatenation upstream.
func stripRepeatedPrefixes(text string) string {
	out := text
	for {
		stripped := repeatedPrefixPattern.ReplaceAllString(out, "")
		// Also strip the marker when it reoccurs mid-string, joined by the
		// same punctuation the caller used to concatenate repeats.
		next := removeInlineRepeats(stripped)
		if next == out {
			return next
		}
		out = next
	}
}

// inlineRepeatPattern matches the marker reappearing after a colon-joined
// repeat, e.g. "Build site: User requested: Build site".
var inlineRepeatPattern = regexp.MustCompile(`(?i)\s*:?\s*user requested:\s*`)

func removeInlineRepeats(text string) string {
	// Replace with a sentence terminator (not a colon) so the repeated
	// segments the marker used to separate become distinct sentences for
	// dedupeSentences to collapse.
	return inlineRepeatPattern.ReplaceAllString(text, ". ")
}

// findFirstRepeatedPrefix returns the index where the marker *reappears*
// after its first occurrence, or -1 if it never repeats. A match sitting
// at index 0 is the text's own leading marker, not a repeat, so it is
// skipped in favor of the next match after it.
func findFirstRepeatedPrefix(text string) int {
	first := inlineRepeatPattern.FindStringIndex(text)
	if first == nil {
		return -1
	}
	if first[0] != 0 {
		return first[0]
	}
	rest := inlineRepeatPattern.FindStringIndex(text[first[1]:])
	if rest == nil {
		return -1
	}
	return first[1] + rest[0]
}

// dedupeSentences splits on sentence terminators and removes exact
// duplicate sentences (case-sensitive, trimmed), preserving the order of
// first occurrence.
func dedupeSentences(text string) string {
	parts := sentenceSplitPattern.Split(text, -1)
	seen := make(map[string]bool, len(parts))
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		kept = append(kept, p)
	}
	return strings.Join(kept, ". ")
}

// truncate bounds text to cap characters (runes), appending an ellipsis
// when truncation occurs. The result never exceeds cap + len(ellipsis).
func truncate(text string, cap int) string {
	runes := []rune(text)
	if len(runes) <= cap {
		return text
	}
	return string(runes[:cap]) + ellipsis
}
