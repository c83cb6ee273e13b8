package dispatch

import (
	"strings"

	"github.com/nugget/melocore/internal/obevent"
)

// ParseArgs is a parser's output for one matched command invocation,
// stored on the session (spec §3's "args"; session.Session.Args()).
type ParseArgs struct {
	Command string
	Raw     string
	Values  []any
}

// ArgFormatter coerces and validates one positional argument, per spec
// §4.5: a default value (optionally triggered by a sentinel token
// rather than parsed from input), and callbacks for conversion,
// validation, and lack-of-argument failures.
type ArgFormatter struct {
	// Convert parses the raw token into a typed value. Nil passes the
	// raw string through unchanged.
	Convert func(raw string) (any, error)
	// Validate rejects a converted value. Nil accepts everything.
	Validate func(v any) error
	// Default is used when the argument is absent, or when the raw
	// token equals DefaultTrigger.
	Default any
	// DefaultTrigger is a sentinel token (e.g. "_") that selects
	// Default instead of converting the literal text.
	DefaultTrigger string
	// OnConvertError, OnValidateError, and OnMissing are invoked (if
	// set) when the corresponding failure occurs; the position still
	// resolves to Default afterward.
	OnConvertError  func(raw string, err error)
	OnValidateError func(v any, err error)
	OnMissing       func()
}

// Parser parses "<cmd_start><name><sep>arg1<sep>arg2…" into a ParseArgs
// record, per spec §4.5. A handler may declare a Matcher or a Parser,
// never both.
type Parser struct {
	// CmdStart is the required leading token, e.g. "/" or "!". Empty
	// means no prefix is required.
	CmdStart string
	// Names lists accepted command names; empty accepts any name.
	Names []string
	// Sep separates the command name and its arguments; defaults to a
	// single space.
	Sep string
	// Formatters coerces/validates each positional argument in order.
	Formatters []ArgFormatter
}

// NewParser builds a Parser with the given prefix and accepted names.
func NewParser(cmdStart string, names ...string) *Parser {
	return &Parser{CmdStart: cmdStart, Names: names, Sep: " "}
}

// WithFormatters attaches positional argument formatters and returns p
// for chaining.
func (p *Parser) WithFormatters(f ...ArgFormatter) *Parser {
	p.Formatters = f
	return p
}

// Parse attempts to parse a message event's text body. ok is false if
// the text doesn't start with CmdStart or the command name isn't in
// Names (when Names is non-empty).
func (p *Parser) Parse(e *obevent.MessageEvent) (*ParseArgs, bool) {
	text := strings.TrimSpace(e.Text())
	if p.CmdStart != "" {
		if !strings.HasPrefix(text, p.CmdStart) {
			return nil, false
		}
		text = text[len(p.CmdStart):]
	}

	sep := p.Sep
	if sep == "" {
		sep = " "
	}
	fields := strings.Split(text, sep)
	if len(fields) == 0 || fields[0] == "" {
		return nil, false
	}
	name := fields[0]
	args := fields[1:]

	if len(p.Names) > 0 && !containsName(p.Names, name) {
		return nil, false
	}

	values := make([]any, len(p.Formatters))
	for i, f := range p.Formatters {
		if i >= len(args) {
			if f.OnMissing != nil {
				f.OnMissing()
			}
			values[i] = f.Default
			continue
		}
		raw := args[i]
		if f.DefaultTrigger != "" && raw == f.DefaultTrigger {
			values[i] = f.Default
			continue
		}

		var v any = raw
		if f.Convert != nil {
			converted, err := f.Convert(raw)
			if err != nil {
				if f.OnConvertError != nil {
					f.OnConvertError(raw, err)
				}
				values[i] = f.Default
				continue
			}
			v = converted
		}
		if f.Validate != nil {
			if err := f.Validate(v); err != nil {
				if f.OnValidateError != nil {
					f.OnValidateError(v, err)
				}
				values[i] = f.Default
				continue
			}
		}
		values[i] = v
	}

	return &ParseArgs{Command: name, Raw: e.Text(), Values: values}, true
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
