// Package obevent defines the OneBot-v11 event/action/echo data model:
// a closed set of tagged variants with a sparse flag-bag for plugin
// bookkeeping that never mutates event content.
package obevent

import (
	"sync"
	"time"
)

// PostType discriminates the top-level event channel.
type PostType string

// Channel values, mirroring OneBot v11's post_type field.
const (
	PostMessage PostType = "message"
	PostNotice  PostType = "notice"
	PostRequest PostType = "request"
	PostMeta    PostType = "meta_event"
	PostOther   PostType = "other"
)

// FlagBag is a lazily allocated (namespace, key) -> value map used by
// plugins to mark "already handled by X" without touching event content.
// The zero value is ready to use.
type FlagBag struct {
	mu   sync.Mutex
	vals map[string]map[string]any
}

// Set stores value under (namespace, key).
func (f *FlagBag) Set(namespace, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vals == nil {
		f.vals = make(map[string]map[string]any)
	}
	ns, ok := f.vals[namespace]
	if !ok {
		ns = make(map[string]any)
		f.vals[namespace] = ns
	}
	ns[key] = value
}

// Get retrieves the value stored under (namespace, key).
func (f *FlagBag) Get(namespace, key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns, ok := f.vals[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Event is the common interface satisfied by every event variant. Events
// are immutable after construction except for their flag-bag.
type Event interface {
	Time() time.Time
	SelfID() int64
	Type() PostType
	Raw() map[string]any
	Flags() *FlagBag
}

// base carries the fields common to every event variant.
type base struct {
	timestamp time.Time
	selfID    int64
	postType  PostType
	raw       map[string]any
	flags     FlagBag
}

func newBase(postType PostType, selfID int64, ts time.Time, raw map[string]any) base {
	if raw == nil {
		raw = make(map[string]any)
	}
	return base{timestamp: ts, selfID: selfID, postType: postType, raw: raw}
}

func (b *base) Time() time.Time    { return b.timestamp }
func (b *base) SelfID() int64      { return b.selfID }
func (b *base) Type() PostType     { return b.postType }
func (b *base) Raw() map[string]any { return b.raw }
func (b *base) Flags() *FlagBag    { return &b.flags }

// Sender describes the identity of a message's author.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"`
}

// MessageEvent is a chat message from a user or group.
type MessageEvent struct {
	base
	SubType    string // "private" | "group"
	MessageID  int64
	UserID     int64
	GroupID    int64 // zero for private messages
	Sender     Sender
	RawMessage string
	Segments   []Segment
	Font       int
}

// NoticeEvent is an unsolicited platform notification (join, poke, ...).
type NoticeEvent struct {
	base
	NoticeType string
	SubType    string
	UserID     int64
	GroupID    int64
	Extra      map[string]any
}

// RequestEvent is a friend/group request awaiting approval.
type RequestEvent struct {
	base
	RequestType string
	SubType     string
	UserID      int64
	GroupID     int64
	Comment     string
	Flag        string
}

// MetaEvent is a heartbeat or lifecycle signal from the endpoint itself.
type MetaEvent struct {
	base
	MetaEventType string
	SubType       string
}

// OtherEvent preserves any payload whose post_type is not recognized.
type OtherEvent struct {
	base
}

// NewMessageEvent constructs a MessageEvent, satisfying the "constructed
// exactly once per inbound frame" rule.
func NewMessageEvent(selfID int64, ts time.Time, raw map[string]any, subType string, msgID, userID, groupID int64, sender Sender, rawMsg string, segs []Segment, font int) *MessageEvent {
	return &MessageEvent{
		base:       newBase(PostMessage, selfID, ts, raw),
		SubType:    subType,
		MessageID:  msgID,
		UserID:     userID,
		GroupID:    groupID,
		Sender:     sender,
		RawMessage: rawMsg,
		Segments:   segs,
		Font:       font,
	}
}

// NewNoticeEvent constructs a NoticeEvent.
func NewNoticeEvent(selfID int64, ts time.Time, raw map[string]any, noticeType, subType string, userID, groupID int64, extra map[string]any) *NoticeEvent {
	return &NoticeEvent{
		base:       newBase(PostNotice, selfID, ts, raw),
		NoticeType: noticeType,
		SubType:    subType,
		UserID:     userID,
		GroupID:    groupID,
		Extra:      extra,
	}
}

// NewRequestEvent constructs a RequestEvent.
func NewRequestEvent(selfID int64, ts time.Time, raw map[string]any, reqType, subType string, userID, groupID int64, comment, flag string) *RequestEvent {
	return &RequestEvent{
		base:        newBase(PostRequest, selfID, ts, raw),
		RequestType: reqType,
		SubType:     subType,
		UserID:      userID,
		GroupID:     groupID,
		Comment:     comment,
		Flag:        flag,
	}
}

// NewMetaEvent constructs a MetaEvent.
func NewMetaEvent(selfID int64, ts time.Time, raw map[string]any, metaType, subType string) *MetaEvent {
	return &MetaEvent{
		base:          newBase(PostMeta, selfID, ts, raw),
		MetaEventType: metaType,
		SubType:       subType,
	}
}

// NewOtherEvent constructs an OtherEvent for unrecognized payloads.
func NewOtherEvent(selfID int64, ts time.Time, raw map[string]any) *OtherEvent {
	o := &OtherEvent{base: newBase(PostOther, selfID, ts, raw)}
	return o
}

// Text returns a MessageEvent's plain-text body, concatenating every
// text segment in order.
func (m *MessageEvent) Text() string {
	var sb []byte
	for _, seg := range m.Segments {
		if seg.Kind == KindText {
			if t, ok := seg.Data["text"].(string); ok {
				sb = append(sb, t...)
			}
		}
	}
	return string(sb)
}

// Get resolves a dotted path ("sender.user_id", "group_id") against the
// event's raw payload map, the representation AttrRule compares by.
func Get(e Event, path string) (any, bool) {
	parts := splitPath(path)
	var cur any = map[string]any(e.Raw())
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
