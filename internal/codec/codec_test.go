package codec

import (
	"testing"

	"github.com/nugget/melocore/internal/obevent"
)

func TestIsEcho(t *testing.T) {
	echo, err := ParseFrame([]byte(`{"status":"ok","retcode":0,"echo":"abc","data":{"message_id":42}}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !IsEcho(echo) {
		t.Fatal("expected echo frame to be detected")
	}

	event, err := ParseFrame([]byte(`{"post_type":"message","self_id":1}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if IsEcho(event) {
		t.Fatal("expected event frame not to be detected as echo")
	}
}

func TestDecodeEvent_MessageListForm(t *testing.T) {
	payload := []byte(`{
		"post_type": "message",
		"message_type": "group",
		"sub_type": "normal",
		"self_id": 10001,
		"time": 1700000000,
		"message_id": 55,
		"user_id": 222,
		"group_id": 333,
		"sender": {"user_id": 222, "nickname": "alice", "role": "member"},
		"message": [{"type":"text","data":{"text":"hi "}}, {"type":"at","data":{"qq":"123"}}]
	}`)
	raw, err := ParseFrame(payload)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	msg, ok := ev.(*obevent.MessageEvent)
	if !ok {
		t.Fatalf("expected *MessageEvent, got %T", ev)
	}
	if msg.GroupID != 333 || msg.UserID != 222 || msg.Sender.Nickname != "alice" {
		t.Errorf("unexpected message fields: %+v", msg)
	}
	if len(msg.Segments) != 2 || msg.Segments[0].Kind != obevent.KindText || msg.Segments[1].Kind != obevent.KindAt {
		t.Errorf("unexpected segments: %+v", msg.Segments)
	}
	if msg.Text() != "hi " {
		t.Errorf("Text() = %q, want %q", msg.Text(), "hi ")
	}
}

func TestDecodeEvent_UnknownPostType(t *testing.T) {
	raw, _ := ParseFrame([]byte(`{"post_type":"something_new","self_id":1}`))
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if _, ok := ev.(*obevent.OtherEvent); !ok {
		t.Fatalf("expected *OtherEvent for unknown post_type, got %T", ev)
	}
}

func TestEncodeAction_PrefersSegmentList(t *testing.T) {
	action := obevent.NewAction("send_msg", map[string]any{
		"user_id": int64(42),
		"message": []obevent.Segment{obevent.Text("hello"), obevent.At(123)},
	})
	action.Echo = "xyz"

	b, err := EncodeAction(action)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	s := string(b)
	if !containsAll(s, `"action":"send_msg"`, `"echo":"xyz"`, `"type":"text"`, `"type":"at"`) {
		t.Errorf("unexpected encoding: %s", s)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
