// Package pattern implements glob matching over dotted topic names.
//
// Patterns follow shell fnmatch rules. Wildcards are not segment aware: '*'
// matches any run of characters including the '.' separator, '?' matches
// exactly one character and '[...]' matches a character class ('[!...]'
// negates it). Every other character, '{', ',' and '\' included, is literal,
// as is a '[' that is never closed. Because the transport can only filter
// on literal prefixes, BroadestLiteralPrefix derives the tightest prefix a
// pattern allows; the full pattern is always re-checked locally.
package pattern

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// Separator splits a topic into segments.
const Separator = "."

// metaChars are the bytes that make a segment non-literal.
const metaChars = "*?["

var ErrInvalidPattern = errors.New("invalid topic pattern")

// Pattern is a compiled topic glob.
type Pattern struct {
	source string
	prefix string
	g      glob.Glob
}

// Compile parses a pattern. The zero-length pattern only matches the empty
// topic. Only patterns that are not valid UTF-8 or hold a NUL are rejected.
func Compile(p string) (*Pattern, error) {
	if !utf8.ValidString(p) {
		return nil, fmt.Errorf("%w %q: not valid UTF-8", ErrInvalidPattern, p)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return nil, fmt.Errorf("%w %q: contains NUL", ErrInvalidPattern, p)
	}
	g, err := glob.Compile(translate(p))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
	}
	return &Pattern{
		source: p,
		prefix: BroadestLiteralPrefix(p),
		g:      g,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(p string) *Pattern {
	c, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.source }

// Prefix returns the coarse transport filter for the pattern.
func (p *Pattern) Prefix() string { return p.prefix }

// Match reports whether topic matches the whole pattern.
func (p *Pattern) Match(topic string) bool {
	return p.g.Match(topic)
}

// Matches compiles pattern and matches it against topic. An invalid pattern
// matches nothing.
func Matches(p, topic string) bool {
	c, err := Compile(p)
	if err != nil {
		return false
	}
	return c.Match(topic)
}

// IsLiteral reports whether s contains no wildcard metacharacter.
func IsLiteral(s string) bool {
	return !strings.ContainsAny(s, metaChars)
}

// BroadestLiteralPrefix returns the leading literal segments of p joined by
// '.', with a trailing '.' when the pattern continues with a wildcard segment.
// A fully literal pattern is returned unchanged; a pattern whose first segment
// holds a wildcard yields "" (receive everything).
func BroadestLiteralPrefix(p string) string {
	if IsLiteral(p) {
		return p
	}
	segments := strings.Split(p, Separator)
	literal := make([]string, 0, len(segments))
	for _, seg := range segments {
		if !IsLiteral(seg) {
			break
		}
		literal = append(literal, seg)
	}
	if len(literal) == 0 {
		return ""
	}
	return strings.Join(literal, Separator) + Separator
}
