// ABOUTME: Command prefix derivation and command-name extraction from message bodies
// ABOUTME: Pure string helpers shared by the dispatcher and the help renderer

package dispatch

import (
	"strings"
	"unicode/utf8"
)

// CommandPrefix derives the prefix that marks a message as a command.
// With no override it is "!<name> ". A single-character prefix is used as
// is; any longer prefix gets a trailing space unless it already has one.
func CommandPrefix(override, name string) string {
	prefix := override
	if prefix == "" {
		prefix = "!" + name + " "
	}
	if utf8.RuneCountInString(prefix) == 1 || strings.HasSuffix(prefix, " ") {
		return prefix
	}
	return prefix + " "
}

// IsCommand reports whether text starts with prefix.
func IsCommand(prefix, text string) bool {
	return strings.HasPrefix(text, prefix)
}

// GetCommand returns the first whitespace-delimited token after prefix.
// ok is false when text is not a command or nothing follows the prefix.
func GetCommand(prefix, text string) (name string, ok bool) {
	rest, found := strings.CutPrefix(text, prefix)
	if !found {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Args returns everything after the command name, trimmed.
func Args(prefix, text string) string {
	rest, found := strings.CutPrefix(text, prefix)
	if !found {
		return ""
	}
	rest = strings.TrimLeft(rest, " \t\n\r")
	if i := strings.IndexAny(rest, " \t\n\r"); i >= 0 {
		return strings.TrimSpace(rest[i:])
	}
	return ""
}
