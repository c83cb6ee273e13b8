// Package cqcode implements the CQ-string <-> segment-list isomorphism
// described in spec §4.2: tokenizing "[CQ:type,k=v,...]" entities out of
// plain text, the four-pair escape scheme, and numeric coercion of
// entity values.
package cqcode

import (
	"strconv"
	"strings"

	"github.com/nugget/melocore/internal/obevent"
)

// escape pairs, applied in this order for encode and reverse order for
// decode so that "&amp;" round-trips through "&" without re-escaping the
// literal ampersand introduced by the other pairs.
var escapePairs = []struct{ raw, esc string }{
	{"&", "&amp;"},
	{"[", "&#91;"},
	{"]", "&#93;"},
	{",", "&#44;"},
}

// escape applies the four CQ escape pairs to s.
func escape(s string) string {
	for _, p := range escapePairs {
		s = strings.ReplaceAll(s, p.raw, p.esc)
	}
	return s
}

// unescape reverses escape. Pairs are applied in reverse registration
// order so "&amp;" is restored last, after "&#91;"/"&#93;"/"&#44;" have
// already consumed their own literal "&".
func unescape(s string) string {
	for i := len(escapePairs) - 1; i >= 0; i-- {
		p := escapePairs[i]
		s = strings.ReplaceAll(s, p.esc, p.raw)
	}
	return s
}

// coerce converts a raw CQ entity value string to int64, float64, or
// string, per spec §4.2's numeric coercion rule.
func coerce(v string) any {
	if isInteger(v) {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func isInteger(v string) bool {
	if v == "" {
		return false
	}
	i := 0
	if v[0] == '-' {
		i = 1
		if len(v) == 1 {
			return false
		}
	}
	for ; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

// stringify renders a coerced value back to its CQ string form.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}

// Encode serializes a segment list to a CQ string. Text segments emit raw
// text; other segments emit "[CQ:<type>,k=v,...]" with escaped values.
// Node segments recursively serialize their nested content.
func Encode(segs []obevent.Segment) string {
	var sb strings.Builder
	for _, seg := range segs {
		encodeOne(&sb, seg)
	}
	return sb.String()
}

func encodeOne(sb *strings.Builder, seg obevent.Segment) {
	if seg.Kind == obevent.KindText {
		if t, ok := seg.Data["text"].(string); ok {
			sb.WriteString(t)
		}
		return
	}

	sb.WriteString("[CQ:")
	sb.WriteString(seg.Kind)

	keys := sortedKeys(seg.Data)
	for _, k := range keys {
		sb.WriteByte(',')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(escape(stringify(seg.Data[k])))
	}

	if seg.Kind == obevent.KindNode {
		sb.WriteString(",content=")
		sb.WriteString(escape(Encode(seg.Content)))
	}

	sb.WriteString("]")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "content" {
			continue
		}
		keys = append(keys, k)
	}
	// Simple insertion sort; key sets are small (a handful of fields).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// token is an intermediate parse result, held before the pure-text
// anti-escape decision (below) is made: raw entity text, not yet
// anti-escaped or coerced.
type token struct {
	kind string
	raw  string // raw text value, valid only when kind == obevent.KindText
	kvs  []rawKV
}

type rawKV struct{ key, raw string }

// Decode parses a CQ string into a segment list: text runs between
// entities become implicit text segments; each "[CQ:...]" entity becomes
// a typed segment with anti-escaped, coerced values.
//
// Per original_source's _cq_to_dicts (segment.py:101-104), anti-escape is
// skipped entirely when the whole string resolves to exactly one text
// token — a pure-text message was never escaped on the wire to begin
// with, so there is nothing to reverse.
func Decode(s string) []obevent.Segment {
	tokens := tokenize(s)

	if len(tokens) == 1 && tokens[0].kind == obevent.KindText {
		return []obevent.Segment{obevent.Text(tokens[0].raw)}
	}

	segs := make([]obevent.Segment, 0, len(tokens))
	for _, tok := range tokens {
		segs = append(segs, tok.resolve())
	}
	return segs
}

func tokenize(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "[CQ:")
		if start < 0 {
			if rest := s[i:]; rest != "" {
				tokens = append(tokens, token{kind: obevent.KindText, raw: rest})
			}
			break
		}
		start += i
		if start > i {
			tokens = append(tokens, token{kind: obevent.KindText, raw: s[i:start]})
		}
		end := strings.Index(s[start:], "]")
		if end < 0 {
			// Unterminated entity: treat the remainder as literal text.
			tokens = append(tokens, token{kind: obevent.KindText, raw: s[start:]})
			break
		}
		end += start
		tokens = append(tokens, parseEntity(s[start+len("[CQ:"):end]))
		i = end + 1
	}
	return tokens
}

func parseEntity(entity string) token {
	parts := strings.Split(entity, ",")
	tok := token{kind: parts[0]}
	for _, kv := range parts[1:] {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		tok.kvs = append(tok.kvs, rawKV{kv[:eq], kv[eq+1:]})
	}
	if tok.kind == obevent.KindText {
		// An explicit [CQ:text,text=...] entity carries its value in kvs;
		// surface it through raw too so Decode's single-token pure-text
		// check treats it the same as an implicit text run.
		for _, kv := range tok.kvs {
			if kv.key == "text" {
				tok.raw = kv.raw
			}
		}
	}
	return tok
}

// resolve anti-escapes and coerces a token into its final segment. Called
// only once Decode has determined the pure-text shortcut does not apply.
func (t token) resolve() obevent.Segment {
	if t.kind == obevent.KindText {
		return obevent.Text(unescape(t.raw))
	}
	data := make(map[string]any, len(t.kvs))
	var content []obevent.Segment
	for _, kv := range t.kvs {
		v := unescape(kv.raw)
		if t.kind == obevent.KindNode && kv.key == "content" {
			content = Decode(v)
			continue
		}
		data[kv.key] = coerce(v)
	}
	return obevent.Segment{Kind: t.kind, Data: data, Content: content}
}
