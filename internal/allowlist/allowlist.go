// ABOUTME: Sender allow-list used to decide whether an inbound event is processed
// ABOUTME: Patterns are regular expressions matched against the whole sender ID

package allowlist

import (
	"fmt"
	"regexp"
)

// Filter decides whether events from a sender should be processed.
// A Filter with no pattern rejects every external sender.
type Filter struct {
	pattern string
	re      *regexp.Regexp
}

// New compiles pattern into a Filter. An empty pattern yields a
// default-deny filter. The pattern must match the entire sender ID.
func New(pattern string) (*Filter, error) {
	f := &Filter{pattern: pattern}
	if pattern == "" {
		return f, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compiling allow list %q: %w", pattern, err)
	}
	f.re = re
	return f, nil
}

// Pattern returns the configured pattern, or "" when none is set.
func (f *Filter) Pattern() string {
	return f.pattern
}

// Allows reports whether an event sent by sender should be processed by the
// bot whose own ID is self. Self-authored events are never allowed.
func (f *Filter) Allows(sender, self string) bool {
	if sender == self {
		return false
	}
	if f == nil || f.re == nil {
		return false
	}
	return f.re.MatchString(sender)
}

// IsAllowed is the one-shot form of New(pattern).Allows(sender, self).
// It returns an error only when the pattern does not compile.
func IsAllowed(pattern, sender, self string) (bool, error) {
	f, err := New(pattern)
	if err != nil {
		return false, err
	}
	return f.Allows(sender, self), nil
}
