// Package plugins holds the example plugins that exercise the dispatch
// checker/matcher/parser API end to end (SPEC_FULL §0's plugins/
// directory): echo, help, and the forge issue-filing plugin.
package plugins

import (
	"strings"

	"github.com/nugget/melocore/internal/dispatch"
	"github.com/nugget/melocore/internal/obevent"
	"github.com/nugget/melocore/internal/session"
)

// RegisterEcho wires a single handler that replies to "/echo <text>"
// with the same text, demonstrating the plain Parser path (no session
// rule: every invocation is a fresh one-shot session).
func RegisterEcho(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Handler{
		Name:     "echo",
		Channel:  obevent.PostMessage,
		Priority: 10,
		Parser:   dispatch.NewParser("/", "echo"),
		Body: func(ctx *dispatch.Ctx) error {
			args, _ := ctx.Args().(*dispatch.ParseArgs)
			text := "echo"
			if args != nil {
				text = strings.Join(stringsOf(args.Values), " ")
			}
			msg, ok := ctx.Event.(*obevent.MessageEvent)
			if !ok {
				return nil
			}
			action := obevent.NewAction("send_msg", map[string]any{
				"message_type": msg.SubType,
				"user_id":      msg.UserID,
				"group_id":     msg.GroupID,
				"message":      []obevent.Segment{obevent.Text(text)},
			})
			_, err := ctx.Send(action)
			return err
		},
	})
}

func stringsOf(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RegisterConversation wires a ruled, suspend/resume handler
// demonstrating spec §4.4 and scenario S2: the first "/chat" message
// from a user in a group starts a session that parks waiting for the
// user's next message in the same group, echoing it back once before
// the session expires.
func RegisterConversation(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Handler{
		Name:        "chat",
		Channel:     obevent.PostMessage,
		Priority:    5,
		Parser:      dispatch.NewParser("/", "chat"),
		SessionRule: session.NewAttrRule("group_id", "sender.user_id"),
		DirectRouse: true,
		Hold:        false,
		Body: func(ctx *dispatch.Ctx) error {
			if err := ctx.Hup(0); err != nil {
				return err
			}
			// The session's bound event is refreshed by try_attach while
			// this body was parked (spec §4.4.3); ctx.Event still reflects
			// the event that started the session, so read it fresh here.
			msg, ok := ctx.Session.Event().(*obevent.MessageEvent)
			if !ok {
				return nil
			}
			action := obevent.NewAction("send_msg", map[string]any{
				"message_type": msg.SubType,
				"user_id":      msg.UserID,
				"group_id":     msg.GroupID,
				"message":      []obevent.Segment{obevent.Text("you said: " + msg.Text())},
			})
			_, err := ctx.Send(action)
			return err
		},
	})
}
