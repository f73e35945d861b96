package service

import (
	"regexp"
	"strings"
)

// TriggerMatcher scans note bodies for the configured trigger phrase
// and slices out the instruction that follows it.
type TriggerMatcher struct {
	phrase  string
	pattern *regexp.Regexp
}

// NewTriggerMatcher compiles a matcher for the given phrase. The
// phrase is quoted before compilation, so custom phrases containing
// regex metacharacters match literally.
func NewTriggerMatcher(phrase string) *TriggerMatcher {
	quoted := regexp.QuoteMeta(phrase)
	// The phrase must begin a token: preceded by start-of-string or
	// whitespace, followed by end-of-string or a whitespace run and
	// the instruction. "not-@ai" is not a trigger.
	pattern := regexp.MustCompile(`(?is)(?:^|\s)` + quoted + `(?:$|\s+(.*))`)
	return &TriggerMatcher{phrase: phrase, pattern: pattern}
}

func (m *TriggerMatcher) Phrase() string {
	return m.phrase
}

// Match reports whether the note contains the trigger phrase and, if
// so, returns the trimmed instruction text after it. ok=false means
// the note is not addressed to the bridge at all, which is distinct
// from a matched trigger with an empty instruction.
func (m *TriggerMatcher) Match(note string) (instruction string, ok bool) {
	groups := m.pattern.FindStringSubmatch(note)
	if groups == nil {
		return "", false
	}
	return strings.TrimSpace(groups[1]), true
}
