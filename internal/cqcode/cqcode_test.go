package cqcode

import (
	"math/rand"
	"testing"

	"github.com/nugget/melocore/internal/obevent"
)

func TestEncodeDecodeS6(t *testing.T) {
	got := Encode([]obevent.Segment{obevent.Text("a,b"), obevent.At(123)})
	want := "a,b[CQ:at,qq=123]"
	if got != want {
		t.Fatalf("Encode: got %q want %q", got, want)
	}

	segs := Decode("&#91;A&#93;[CQ:image,file=x.jpg]")
	if len(segs) != 2 {
		t.Fatalf("Decode: got %d segments, want 2", len(segs))
	}
	if segs[0].Kind != obevent.KindText || segs[0].Data["text"] != "[A]" {
		t.Fatalf("Decode: first segment = %+v", segs[0])
	}
	if segs[1].Kind != obevent.KindImage || segs[1].Data["file"] != "x.jpg" {
		t.Fatalf("Decode: second segment = %+v", segs[1])
	}
}

func TestNumericCoercion(t *testing.T) {
	segs := Decode("[CQ:at,qq=123]")
	if v, _ := segs[0].Data["qq"].(int64); v != 123 {
		t.Fatalf("expected int64 123, got %#v", segs[0].Data["qq"])
	}

	segs = Decode("[CQ:foo,x=1.5]")
	if v, _ := segs[0].Data["x"].(float64); v != 1.5 {
		t.Fatalf("expected float64 1.5, got %#v", segs[0].Data["x"])
	}

	segs = Decode("[CQ:foo,x=abc]")
	if v, _ := segs[0].Data["x"].(string); v != "abc" {
		t.Fatalf("expected string abc, got %#v", segs[0].Data["x"])
	}
}

func TestNodeNesting(t *testing.T) {
	node := obevent.Node("bob", 42, []obevent.Segment{obevent.Text("hi,there")})
	encoded := Encode([]obevent.Segment{node})

	decoded := Decode(encoded)
	if len(decoded) != 1 || decoded[0].Kind != obevent.KindNode {
		t.Fatalf("expected one node segment, got %+v", decoded)
	}
	if len(decoded[0].Content) != 1 || decoded[0].Content[0].Data["text"] != "hi,there" {
		t.Fatalf("node content mismatch: %+v", decoded[0].Content)
	}
}

// TestRoundTripProperty is a lightweight property check (spec §8 property
// 1): decode(encode(xs)) reproduces xs modulo numeric-string coercion, for
// randomly generated non-text segment sequences. Text-only inputs are
// covered separately since plain text is never escaped on output.
func TestRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	kinds := []string{obevent.KindAt, obevent.KindImage, obevent.KindReply, obevent.KindRecord}

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(5)
		var segs []obevent.Segment
		for i := 0; i < n; i++ {
			kind := kinds[rng.Intn(len(kinds))]
			val := rng.Intn(100000)
			key := "id"
			switch kind {
			case obevent.KindAt:
				key = "qq"
			case obevent.KindImage, obevent.KindRecord:
				key = "file"
			case obevent.KindReply:
				key = "id"
			}
			var data map[string]any
			if kind == obevent.KindImage || kind == obevent.KindRecord {
				data = map[string]any{key: "file" + itoa(val) + ".dat"}
			} else {
				data = map[string]any{key: int64(val)}
			}
			segs = append(segs, obevent.Segment{Kind: kind, Data: data})
		}

		encoded := Encode(segs)
		decoded := Decode(encoded)

		if len(decoded) != len(segs) {
			t.Fatalf("iter %d: length mismatch: got %d want %d (encoded=%q)", iter, len(decoded), len(segs), encoded)
		}
		for i := range segs {
			if decoded[i].Kind != segs[i].Kind {
				t.Fatalf("iter %d: kind mismatch at %d: got %s want %s", iter, i, decoded[i].Kind, segs[i].Kind)
			}
			for k, v := range segs[i].Data {
				if decoded[i].Data[k] != v {
					t.Fatalf("iter %d: field %s mismatch at %d: got %#v want %#v", iter, k, i, decoded[i].Data[k], v)
				}
			}
		}
	}
}

// TestPureTextSkipsAntiEscape covers spec §8 Testable Property 1 for the
// text-segment case the randomized property test above deliberately
// excludes: a message with zero "[CQ:...]" entities is never escaped on
// the wire, so decoding it must not anti-escape it either.
func TestPureTextSkipsAntiEscape(t *testing.T) {
	segs := []obevent.Segment{obevent.Text("a&amp;b")}
	encoded := Encode(segs)
	if encoded != "a&amp;b" {
		t.Fatalf("Encode: got %q want %q", encoded, "a&amp;b")
	}

	decoded := Decode(encoded)
	if len(decoded) != 1 || decoded[0].Data["text"] != "a&amp;b" {
		t.Fatalf("Decode(%q) = %+v, want unchanged pure text", encoded, decoded)
	}
}

// TestSingleTextEntitySkipsAntiEscape mirrors the same rule for an
// explicit single [CQ:text,...] entity with no other tokens in the
// message.
func TestSingleTextEntitySkipsAntiEscape(t *testing.T) {
	decoded := Decode("[CQ:text,text=a&#44;b]")
	if len(decoded) != 1 || decoded[0].Data["text"] != "a&#44;b" {
		t.Fatalf("Decode = %+v, want raw value preserved", decoded)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
