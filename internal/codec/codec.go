// Package codec resolves an inbound OneBot-v11 JSON payload to a concrete
// obevent.Event variant and serializes outbound obevent.Action values back
// to the wire, per spec §4.2. It sits above internal/obevent and
// internal/cqcode (both pure data-model packages) so that neither of them
// needs to know about the other's JSON framing.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nugget/melocore/internal/cqcode"
	"github.com/nugget/melocore/internal/obevent"
)

// ParseFrame unmarshals a raw inbound frame into its generic map form.
// Both event frames and echo frames are plain JSON objects at this
// level; ParseFrame does not distinguish them.
func ParseFrame(payload []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("codec: parse frame: %w", err)
	}
	return raw, nil
}

// IsEcho reports whether a parsed frame is an echo/response frame rather
// than an event: OneBot event frames always carry post_type, while
// action responses never do.
func IsEcho(raw map[string]any) bool {
	_, ok := raw["post_type"]
	return !ok
}

// DecodeEvent builds the concrete obevent.Event variant for a parsed
// event frame, reading post_type and the relevant subtype fields.
// Unrecognized post_types are preserved as an opaque OtherEvent rather
// than rejected.
func DecodeEvent(raw map[string]any) (obevent.Event, error) {
	postType, _ := raw["post_type"].(string)
	selfID := int64(asFloat(raw["self_id"]))
	ts := time.Unix(int64(asFloat(raw["time"])), 0)

	switch obevent.PostType(postType) {
	case obevent.PostMessage:
		return decodeMessage(raw, selfID, ts), nil
	case obevent.PostNotice:
		return decodeNotice(raw, selfID, ts), nil
	case obevent.PostRequest:
		return decodeRequest(raw, selfID, ts), nil
	case obevent.PostMeta:
		return decodeMeta(raw, selfID, ts), nil
	default:
		return obevent.NewOtherEvent(selfID, ts, raw), nil
	}
}

func decodeMessage(raw map[string]any, selfID int64, ts time.Time) *obevent.MessageEvent {
	subType, _ := raw["sub_type"].(string)
	msgID := int64(asFloat(raw["message_id"]))
	userID := int64(asFloat(raw["user_id"]))
	groupID := int64(asFloat(raw["group_id"]))
	rawMsg, _ := raw["raw_message"].(string)
	font := int(asFloat(raw["font"]))

	sender := obevent.Sender{UserID: userID}
	if sm, ok := raw["sender"].(map[string]any); ok {
		sender.UserID = int64(asFloat(sm["user_id"]))
		sender.Nickname, _ = sm["nickname"].(string)
		sender.Card, _ = sm["card"].(string)
		sender.Role, _ = sm["role"].(string)
	}

	segs := decodeMessageField(raw["message"])
	if segs == nil && rawMsg != "" {
		segs = cqcode.Decode(rawMsg)
	}
	if rawMsg == "" {
		rawMsg = cqcode.Encode(segs)
	}

	return obevent.NewMessageEvent(selfID, ts, raw, subType, msgID, userID, groupID, sender, rawMsg, segs, font)
}

// decodeMessageField accepts both wire forms OneBot allows for the
// "message" field: a CQ string, or a list of {type, data} segment
// objects (with "content" nesting a sub-list for forward nodes).
func decodeMessageField(v any) []obevent.Segment {
	switch m := v.(type) {
	case string:
		return cqcode.Decode(m)
	case []any:
		segs := make([]obevent.Segment, 0, len(m))
		for _, item := range m {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			kind, _ := obj["type"].(string)
			data, _ := obj["data"].(map[string]any)
			seg := obevent.Segment{Kind: kind, Data: data}
			if kind == obevent.KindNode {
				if content, ok := data["content"]; ok {
					seg.Content = decodeMessageField(content)
				}
			}
			segs = append(segs, seg)
		}
		return segs
	default:
		return nil
	}
}

func decodeNotice(raw map[string]any, selfID int64, ts time.Time) *obevent.NoticeEvent {
	noticeType, _ := raw["notice_type"].(string)
	subType, _ := raw["sub_type"].(string)
	userID := int64(asFloat(raw["user_id"]))
	groupID := int64(asFloat(raw["group_id"]))
	return obevent.NewNoticeEvent(selfID, ts, raw, noticeType, subType, userID, groupID, raw)
}

func decodeRequest(raw map[string]any, selfID int64, ts time.Time) *obevent.RequestEvent {
	reqType, _ := raw["request_type"].(string)
	subType, _ := raw["sub_type"].(string)
	userID := int64(asFloat(raw["user_id"]))
	groupID := int64(asFloat(raw["group_id"]))
	comment, _ := raw["comment"].(string)
	flag, _ := raw["flag"].(string)
	return obevent.NewRequestEvent(selfID, ts, raw, reqType, subType, userID, groupID, comment, flag)
}

func decodeMeta(raw map[string]any, selfID int64, ts time.Time) *obevent.MetaEvent {
	metaType, _ := raw["meta_event_type"].(string)
	subType, _ := raw["sub_type"].(string)
	return obevent.NewMetaEvent(selfID, ts, raw, metaType, subType)
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

// wireAction is the outbound JSON shape: {"action": ..., "params": ...,
// "echo": ...}. Echo is omitted when empty so fire-and-forget actions
// don't carry a stray field some endpoints reject.
type wireAction struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   string         `json:"echo,omitempty"`
}

// EncodeAction serializes an outbound action to its wire form. The list
// (segment) form is always preferred over a CQ string for any "message"
// parameter, per spec §6.
func EncodeAction(action *obevent.Action) ([]byte, error) {
	params := action.Params
	if segs, ok := params["message"].([]obevent.Segment); ok {
		params = cloneParams(params)
		params["message"] = encodeSegments(segs)
	}
	b, err := json.Marshal(wireAction{Action: action.Type, Params: params, Echo: action.Echo})
	if err != nil {
		return nil, fmt.Errorf("codec: encode action: %w", err)
	}
	return b, nil
}

func cloneParams(p map[string]any) map[string]any {
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// encodeSegments renders a segment list into the wire {type,data} list
// form, recursively handling node content.
func encodeSegments(segs []obevent.Segment) []map[string]any {
	out := make([]map[string]any, 0, len(segs))
	for _, seg := range segs {
		data := cloneParams(seg.Data)
		if seg.Kind == obevent.KindNode && seg.Content != nil {
			data["content"] = encodeSegments(seg.Content)
		}
		out = append(out, map[string]any{"type": seg.Kind, "data": data})
	}
	return out
}
