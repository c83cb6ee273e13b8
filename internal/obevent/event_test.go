package obevent

import (
	"testing"
	"time"
)

func TestFlagBagZeroValue(t *testing.T) {
	var f FlagBag
	if _, ok := f.Get("plugin", "seen"); ok {
		t.Fatal("expected Get on empty bag to miss")
	}
	f.Set("plugin", "seen", true)
	v, ok := f.Get("plugin", "seen")
	if !ok || v != true {
		t.Fatalf("Get after Set: got (%v, %v)", v, ok)
	}
	if _, ok := f.Get("other", "seen"); ok {
		t.Fatal("expected Get under a different namespace to miss")
	}
}

func TestNewMessageEventFields(t *testing.T) {
	ts := time.Now()
	sender := Sender{UserID: 100, Nickname: "alice"}
	msg := NewMessageEvent(1, ts, nil, "group", 10, 100, 200, sender, "hi", []Segment{Text("hi")}, 0)

	if msg.Type() != PostMessage {
		t.Fatalf("Type() = %v, want %v", msg.Type(), PostMessage)
	}
	if msg.SelfID() != 1 || msg.Time() != ts {
		t.Fatalf("SelfID/Time mismatch: %d %v", msg.SelfID(), msg.Time())
	}
	if msg.UserID != 100 || msg.GroupID != 200 || msg.Sender.Nickname != "alice" {
		t.Fatalf("unexpected fields: %+v", msg)
	}
}

func TestMessageEventText(t *testing.T) {
	msg := NewMessageEvent(1, time.Now(), nil, "private", 1, 100, 0, Sender{}, "",
		[]Segment{Text("hello "), At(123), Text("world")}, 0)
	if got := msg.Text(); got != "hello world" {
		t.Fatalf("Text() = %q, want %q", got, "hello world")
	}
}

func TestGet(t *testing.T) {
	raw := map[string]any{
		"group_id": int64(200),
		"sender":   map[string]any{"user_id": int64(100)},
	}
	e := NewOtherEvent(1, time.Now(), raw)

	if v, ok := Get(e, "group_id"); !ok || v != int64(200) {
		t.Fatalf("Get(group_id) = (%v, %v)", v, ok)
	}
	if v, ok := Get(e, "sender.user_id"); !ok || v != int64(100) {
		t.Fatalf("Get(sender.user_id) = (%v, %v)", v, ok)
	}
	if _, ok := Get(e, "sender.card"); ok {
		t.Fatal("expected missing nested key to miss")
	}
	if _, ok := Get(e, "group_id.bogus"); ok {
		t.Fatal("expected indexing into a non-map value to miss")
	}
}

func TestNewNoticeRequestMetaEvents(t *testing.T) {
	notice := NewNoticeEvent(1, time.Now(), nil, "group_increase", "", 100, 200, map[string]any{"k": "v"})
	if notice.Type() != PostNotice || notice.NoticeType != "group_increase" {
		t.Fatalf("unexpected notice event: %+v", notice)
	}

	req := NewRequestEvent(1, time.Now(), nil, "friend", "", 100, 0, "hi", "flag-1")
	if req.Type() != PostRequest || req.Flag != "flag-1" {
		t.Fatalf("unexpected request event: %+v", req)
	}

	meta := NewMetaEvent(1, time.Now(), nil, "heartbeat", "")
	if meta.Type() != PostMeta || meta.MetaEventType != "heartbeat" {
		t.Fatalf("unexpected meta event: %+v", meta)
	}
}
