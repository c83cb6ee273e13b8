package obevent

// Segment kind tags, mirroring OneBot v11's CQ segment types.
const (
	KindText    = "text"
	KindAt      = "at"
	KindImage   = "image"
	KindReply   = "reply"
	KindRecord  = "record"
	KindVideo   = "video"
	KindFace    = "face"
	KindNode    = "node"
	KindForward = "forward"
)

// Segment is a typed, keyed-record piece of message content. Data holds
// the type-specific fields; Content holds the nested segment list used
// only by "node" segments (forward message nodes).
type Segment struct {
	Kind    string
	Data    map[string]any
	Content []Segment // populated only for KindNode
}

// Text builds a plain-text segment.
func Text(s string) Segment {
	return Segment{Kind: KindText, Data: map[string]any{"text": s}}
}

// At builds an @-mention segment. qq may be a numeric user id or "all".
func At(qq any) Segment {
	return Segment{Kind: KindAt, Data: map[string]any{"qq": qq}}
}

// Image builds an image segment referencing a file path, URL, or base64 blob.
func Image(file string) Segment {
	return Segment{Kind: KindImage, Data: map[string]any{"file": file}}
}

// Reply builds a reply-reference segment pointing at a prior message id.
func Reply(messageID int64) Segment {
	return Segment{Kind: KindReply, Data: map[string]any{"id": messageID}}
}

// Record builds a voice-message segment.
func Record(file string) Segment {
	return Segment{Kind: KindRecord, Data: map[string]any{"file": file}}
}

// Node builds a forward-message node nesting a sub-sequence of segments.
func Node(nickname string, userID int64, content []Segment) Segment {
	return Segment{
		Kind:    KindNode,
		Data:    map[string]any{"nickname": nickname, "user_id": userID},
		Content: content,
	}
}

// kindRegistry records the constructors plugins register for custom
// segment type-tags. The codec does not consult it, and this package has
// no lookup for it: every tag, registered or not, decodes as a generic
// Segment value.
var kindRegistry = map[string]func(data map[string]any) Segment{}

// RegisterSegmentKind installs a constructor for a custom segment kind.
// Intended to be called from plugin init(); last registration for a given
// kind wins.
func RegisterSegmentKind(kind string, build func(data map[string]any) Segment) {
	kindRegistry[kind] = build
}
