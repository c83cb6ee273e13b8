package obevent

import "testing"

func TestSegmentConstructors(t *testing.T) {
	if s := Text("hi"); s.Kind != KindText || s.Data["text"] != "hi" {
		t.Fatalf("Text: %+v", s)
	}
	if s := At("all"); s.Kind != KindAt || s.Data["qq"] != "all" {
		t.Fatalf("At: %+v", s)
	}
	if s := Image("x.jpg"); s.Kind != KindImage || s.Data["file"] != "x.jpg" {
		t.Fatalf("Image: %+v", s)
	}
	if s := Reply(42); s.Kind != KindReply || s.Data["id"] != int64(42) {
		t.Fatalf("Reply: %+v", s)
	}
	if s := Record("voice.silk"); s.Kind != KindRecord || s.Data["file"] != "voice.silk" {
		t.Fatalf("Record: %+v", s)
	}
}

func TestNode(t *testing.T) {
	content := []Segment{Text("nested")}
	n := Node("bob", 7, content)
	if n.Kind != KindNode || n.Data["nickname"] != "bob" || n.Data["user_id"] != int64(7) {
		t.Fatalf("Node fields: %+v", n)
	}
	if len(n.Content) != 1 || n.Content[0].Data["text"] != "nested" {
		t.Fatalf("Node content: %+v", n.Content)
	}
}

func TestRegisterSegmentKind(t *testing.T) {
	RegisterSegmentKind("weather", func(data map[string]any) Segment {
		return Segment{Kind: "weather", Data: data}
	})
	build, ok := kindRegistry["weather"]
	if !ok {
		t.Fatal("expected weather kind to be registered")
	}
	s := build(map[string]any{"city": "nyc"})
	if s.Kind != "weather" || s.Data["city"] != "nyc" {
		t.Fatalf("built segment: %+v", s)
	}
}
