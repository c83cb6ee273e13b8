package obevent

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewAction(t *testing.T) {
	a := NewAction("send_msg", map[string]any{"message": "hi"})
	if a.Type != "send_msg" || a.NeedEcho || a.Echo != "" || a.Trigger != nil {
		t.Fatalf("unexpected action: %+v", a)
	}
}

func TestWithTrigger(t *testing.T) {
	a := NewAction("send_msg", nil)
	trigger := NewMessageEvent(1, time.Now(), nil, "group", 1, 100, 200, Sender{}, "hi", nil, 0)

	b := a.WithTrigger(trigger)
	if b.Trigger != trigger {
		t.Fatalf("WithTrigger did not set Trigger: %+v", b)
	}
	if a.Trigger != nil {
		t.Fatal("WithTrigger must not mutate the receiver")
	}
	if a == b {
		t.Fatal("WithTrigger must return a distinct copy")
	}
}

func TestEchoOKAndUnmarshal(t *testing.T) {
	ok := &Echo{Status: EchoOK, Data: json.RawMessage(`{"message_id":5}`)}
	if !ok.OK() {
		t.Fatal("expected EchoOK status to report OK")
	}
	var payload struct {
		MessageID int64 `json:"message_id"`
	}
	if err := ok.Unmarshal(&payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if payload.MessageID != 5 {
		t.Fatalf("unmarshaled message_id = %d, want 5", payload.MessageID)
	}

	failed := &Echo{Status: EchoFailed, Retcode: 100}
	if failed.OK() {
		t.Fatal("expected EchoFailed status to report not OK")
	}
	if err := failed.Unmarshal(&payload); err != nil {
		t.Fatalf("Unmarshal on empty data should no-op, got: %v", err)
	}
}
