package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/melocore/internal/correlator"
	"github.com/nugget/melocore/internal/obevent"
	"github.com/nugget/melocore/internal/session"
)

type nopSender struct{}

func (nopSender) Send(ctx context.Context, action *obevent.Action) (*correlator.ActionHandle, error) {
	return nil, nil
}

func textEvent(selfID int64, text string) *obevent.MessageEvent {
	return obevent.NewMessageEvent(selfID, time.Now(), nil, "group", 1, 100, 200,
		obevent.Sender{UserID: 100}, text, []obevent.Segment{obevent.Text(text)}, 0)
}

// TestDispatch_BlockStopsLowerPriority covers scenario S3: a blocking
// handler's successful spawn raises permit above every lower-priority
// handler for the same event.
func TestDispatch_BlockStopsLowerPriority(t *testing.T) {
	d := New(nopSender{}, session.New(), nil)

	var mu sync.Mutex
	var ran []string
	record := func(name string) HandlerFunc {
		return func(cx *Ctx) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}
	}

	d.Register(&Handler{Name: "high", Channel: obevent.PostMessage, Priority: 10, Block: true, Body: record("high")})
	d.Register(&Handler{Name: "low", Channel: obevent.PostMessage, Priority: 5, Body: record("low")})

	d.Dispatch(context.Background(), textEvent(1, "hi"))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "high" {
		t.Fatalf("expected only the blocking high-priority handler to run, got %v", ran)
	}
}

// TestDispatch_TempHandlerFiresOnce covers scenario S4: a temp handler is
// invalidated after its first successful spawn and never fires again.
func TestDispatch_TempHandlerFiresOnce(t *testing.T) {
	d := New(nopSender{}, session.New(), nil)

	var count int
	var mu sync.Mutex
	h := &Handler{
		Name:    "once",
		Channel: obevent.PostMessage,
		Temp:    true,
		Body: func(cx *Ctx) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		},
	}
	d.Register(h)

	d.Dispatch(context.Background(), textEvent(1, "first"))
	d.Wait()
	d.Dispatch(context.Background(), textEvent(1, "second"))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected temp handler to fire exactly once, got %d", count)
	}
}

// TestDispatch_MatcherGate verifies handlers only spawn when their
// matcher accepts the message text.
func TestDispatch_MatcherGate(t *testing.T) {
	d := New(nopSender{}, session.New(), nil)

	var fired bool
	d.Register(&Handler{
		Name:    "greet",
		Channel: obevent.PostMessage,
		Matcher: NewMatcher(MatchStart, LogicAND, "!hello"),
		Body: func(cx *Ctx) error {
			fired = true
			return nil
		},
	})

	d.Dispatch(context.Background(), textEvent(1, "something else"))
	d.Wait()
	if fired {
		t.Fatalf("handler fired despite non-matching text")
	}

	d.Dispatch(context.Background(), textEvent(1, "!hello there"))
	d.Wait()
	if !fired {
		t.Fatalf("handler did not fire for matching text")
	}
}

// TestDispatch_AuditRecordsDecision checks that a dispatch round leaves a
// retrievable decision behind.
func TestDispatch_AuditRecordsDecision(t *testing.T) {
	d := New(nopSender{}, session.New(), nil)
	d.Register(&Handler{
		Name:    "anything",
		Channel: obevent.PostMessage,
		Body:    func(cx *Ctx) error { return nil },
	})

	d.Dispatch(context.Background(), textEvent(1, "hi"))
	d.Wait()

	recent := d.Audit().Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(recent))
	}
	if len(recent[0].HandlersMatched) != 1 || recent[0].HandlersMatched[0] != "anything" {
		t.Fatalf("expected handler 'anything' recorded as matched, got %v", recent[0].HandlersMatched)
	}
}
