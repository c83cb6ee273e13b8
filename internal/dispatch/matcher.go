package dispatch

import (
	"regexp"
	"strings"

	"github.com/nugget/melocore/internal/obevent"
)

// MatchKind selects how a single pattern is compared against a
// message's text body.
type MatchKind int

const (
	MatchStart MatchKind = iota
	MatchContain
	MatchEnd
	MatchFull
	MatchRegex
)

// LogicMode combines multiple pattern results into one verdict, per
// spec §4.5.
type LogicMode int

const (
	LogicAND LogicMode = iota
	LogicOR
	LogicNOT
	LogicXOR
)

// Matcher matches a message event's text body against a sequence of
// patterns of one MatchKind, combined by Mode.
type Matcher struct {
	Kind     MatchKind
	Patterns []string
	Mode     LogicMode

	compiled []*regexp.Regexp
}

// NewMatcher builds a Matcher, pre-compiling regex patterns when
// Kind is MatchRegex.
func NewMatcher(kind MatchKind, mode LogicMode, patterns ...string) *Matcher {
	m := &Matcher{Kind: kind, Patterns: patterns, Mode: mode}
	if kind == MatchRegex {
		m.compiled = make([]*regexp.Regexp, len(patterns))
		for i, p := range patterns {
			m.compiled[i] = regexp.MustCompile(p)
		}
	}
	return m
}

func (m *Matcher) matchOne(text, pattern string, idx int) bool {
	switch m.Kind {
	case MatchStart:
		return strings.HasPrefix(text, pattern)
	case MatchContain:
		return strings.Contains(text, pattern)
	case MatchEnd:
		return strings.HasSuffix(text, pattern)
	case MatchFull:
		return text == pattern
	case MatchRegex:
		return m.compiled[idx].MatchString(text)
	default:
		return false
	}
}

// Match evaluates the matcher against a message event's text body.
func (m *Matcher) Match(e *obevent.MessageEvent) bool {
	text := e.Text()
	switch m.Mode {
	case LogicAND:
		for i, p := range m.Patterns {
			if !m.matchOne(text, p, i) {
				return false
			}
		}
		return len(m.Patterns) > 0
	case LogicOR:
		for i, p := range m.Patterns {
			if m.matchOne(text, p, i) {
				return true
			}
		}
		return false
	case LogicNOT:
		for i, p := range m.Patterns {
			if m.matchOne(text, p, i) {
				return false
			}
		}
		return true
	case LogicXOR:
		matched := 0
		for i, p := range m.Patterns {
			if m.matchOne(text, p, i) {
				matched++
			}
		}
		return matched == 1
	default:
		return false
	}
}
