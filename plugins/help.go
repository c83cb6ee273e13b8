package plugins

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/melocore/internal/dispatch"
	"github.com/nugget/melocore/internal/obevent"
)

// helpMarkdown is the embedded help document rendered by "/help"
// (SPEC_FULL §2's goldmark wiring): no plugin here needs fancy
// rendering, but stripping goldmark's HTML render down to a plain-text
// flow is a natural worked example of wiring a markdown dependency into
// a message segment.
const helpMarkdown = `# melocore

Commands:

- **/echo** *text* — repeats text back to you.
- **/chat** — starts a conversation; your next message in this group is echoed once.
- **/issue** *title* — files a GitHub issue (if the forge plugin is configured).
`

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// RegisterHelp wires a handler that replies to "/help" with the
// markdown help document rendered via goldmark and stripped to plain
// text for a text segment (CQ-string message content has no markup of
// its own).
func RegisterHelp(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Handler{
		Name:     "help",
		Channel:  obevent.PostMessage,
		Priority: 1,
		Parser:   dispatch.NewParser("/", "help"),
		Body: func(ctx *dispatch.Ctx) error {
			msg, ok := ctx.Event.(*obevent.MessageEvent)
			if !ok {
				return nil
			}
			text, err := renderHelpText()
			if err != nil {
				return err
			}
			action := obevent.NewAction("send_msg", map[string]any{
				"message_type": msg.SubType,
				"user_id":      msg.UserID,
				"group_id":     msg.GroupID,
				"message":      []obevent.Segment{obevent.Text(text)},
			})
			_, err = ctx.Send(action)
			return err
		},
	})
}

// renderHelpText runs goldmark over helpMarkdown and strips the
// resulting HTML tags, leaving a flat text body suitable for a single
// text segment.
func renderHelpText() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(helpMarkdown), &buf); err != nil {
		return "", err
	}
	plain := htmlTag.ReplaceAllString(buf.String(), "\n")
	lines := strings.Split(plain, "\n")
	out := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n"), nil
}
