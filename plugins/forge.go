package plugins

import (
	"fmt"
	"strings"

	"github.com/nugget/melocore/internal/dispatch"
	"github.com/nugget/melocore/internal/forge"
	"github.com/nugget/melocore/internal/obevent"
)

// RegisterForge wires "/issue <title>" to file a GitHub issue via
// provider, gated by roles at LevelWhite or above, demonstrating the
// checker/parser/hook API against a real third-party API client
// (SPEC_FULL §2/§3.5).
func RegisterForge(d *dispatch.Dispatcher, provider forge.ForgeProvider, repo string, roles dispatch.Roles) {
	d.Register(&dispatch.Handler{
		Name:     "forge-issue",
		Channel:  obevent.PostMessage,
		Priority: 10,
		Checker:  dispatch.AccessLevelChecker(roles, dispatch.LevelWhite),
		Parser:   dispatch.NewParser("/", "issue"),
		Body: func(ctx *dispatch.Ctx) error {
			msg, ok := ctx.Event.(*obevent.MessageEvent)
			if !ok {
				return nil
			}
			args, _ := ctx.Args().(*dispatch.ParseArgs)
			title := "untitled"
			if args != nil {
				if joined := strings.Join(stringsOf(args.Values), " "); joined != "" {
					title = joined
				}
			}

			issue, err := provider.CreateIssue(ctx.Context, repo, &forge.Issue{
				Title: title,
				Body:  fmt.Sprintf("Filed via melocore by user %d.", msg.UserID),
			})
			reply := fmt.Sprintf("failed to file issue: %v", err)
			if err == nil {
				reply = fmt.Sprintf("filed #%d: %s", issue.Number, issue.URL)
			}

			action := obevent.NewAction("send_msg", map[string]any{
				"message_type": msg.SubType,
				"user_id":      msg.UserID,
				"group_id":     msg.GroupID,
				"message":      []obevent.Segment{obevent.Text(reply)},
			})
			_, sendErr := ctx.Send(action)
			if sendErr != nil {
				return sendErr
			}
			return nil
		},
	})
}
