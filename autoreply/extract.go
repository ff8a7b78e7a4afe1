package autoreply

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bilireply/models"
)

// The message feed does not have a stable response shape. Everything in this
// file adapts whatever fetch_session_msgs returned into plain values; the
// matching side never sees raw payloads.

type rawMessage = map[string]any

type extractStrategy struct {
	name string
	find func(data map[string]any) []rawMessage
}

// messageStrategies are tried in order; the first one returning messages wins.
var messageStrategies = []extractStrategy{
	{name: "messages", find: arrayField("messages")},
	{name: "message_list", find: arrayField("message_list")},
	{name: "msg_list", find: arrayField("msg_list")},
	{name: "msgs", find: arrayField("msgs")},
	{name: "messages_list", find: nestedMessagesList},
}

func arrayField(name string) func(map[string]any) []rawMessage {
	return func(data map[string]any) []rawMessage {
		return toMessages(data[name])
	}
}

// nestedMessagesList looks for the first array inside a messages_list object.
// Keys are visited in sorted order so the pick is deterministic.
func nestedMessagesList(data map[string]any) []rawMessage {
	nested, ok := data["messages_list"].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(nested))
	for k := range nested {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, isArr := nested[k].([]any); isArr {
			return toMessages(nested[k])
		}
	}
	return nil
}

func toMessages(v any) []rawMessage {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]rawMessage, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// ExtractMessages returns the message array of a fetch_session_msgs payload and
// the strategy that found it ("" when none did).
func ExtractMessages(data map[string]any) ([]rawMessage, string) {
	if data == nil {
		return nil, ""
	}
	for _, s := range messageStrategies {
		if msgs := s.find(data); len(msgs) > 0 {
			return msgs, s.name
		}
	}
	return nil, ""
}

// needsSeqnoRefetch reports the "messages: null, has_more: 1" shape, which means
// the window has to be requested explicitly with begin/end seqno.
func needsSeqnoRefetch(data map[string]any) (begin, end int64, ok bool) {
	if data == nil {
		return 0, 0, false
	}
	v, present := data["messages"]
	if !present || v != nil {
		return 0, 0, false
	}
	if hasMore, _ := asInt64(data["has_more"]); hasMore != 1 {
		return 0, 0, false
	}
	begin, okBegin := asInt64(data["min_seqno"])
	end, okEnd := asInt64(data["max_seqno"])
	if !okBegin || !okEnd || begin == 0 || end == 0 {
		return 0, 0, false
	}
	return begin, end, true
}

// asString renders scalars the way they appear on the wire. Zero, false and
// empty values are reported as absent.
func asString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case json.Number:
		s := x.String()
		return s, s != "" && s != "0"
	case float64:
		if x == 0 {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(x, 10), x != 0
	case int:
		return strconv.Itoa(x), x != 0
	case bool:
		return "", false
	}
	return fmt.Sprint(v), true
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := asString(m[k]); ok {
			return s, true
		}
	}
	return "", false
}

// decodeObject accepts an object or a JSON string holding one.
func decodeObject(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case string:
		var out map[string]any
		dec := json.NewDecoder(strings.NewReader(x))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil || out == nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

// MessageID picks the platform id of a message: msg_key first, then the
// alternative id fields, then a nested msg_id, then last_msg.
func MessageID(msg rawMessage) (string, bool) {
	if id, ok := firstString(msg, "msg_key", "message_id", "id", "_id", "msg_seqno"); ok {
		return id, true
	}
	if v, present := msg["msg_id"]; present {
		if obj, isObj := v.(map[string]any); isObj {
			if id, ok := firstString(obj, "id", "msg_id"); ok {
				return id, true
			}
		} else if id, ok := asString(v); ok {
			return id, true
		}
	}
	if last, ok := decodeObject(msg["last_msg"]); ok {
		if id, ok := firstString(last, "msg_key", "msg_seqno", "key", "id", "message_id"); ok {
			return id, true
		}
	}
	return "", false
}

var textFields = []string{"content", "text", "message", "msg"}

// textFromObject takes the first text-like field, or the object re-encoded.
func textFromObject(obj map[string]any, fields []string) string {
	if s, ok := firstString(obj, fields...); ok {
		return s
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return ""
	}
	return string(b)
}

// textFromContent handles content that is either a JSON-encoded string, a plain
// string or an already decoded object.
func textFromContent(v any, fields []string) string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return ""
		}
		var parsed any
		dec := json.NewDecoder(strings.NewReader(x))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil || dec.More() {
			return x
		}
		switch p := parsed.(type) {
		case map[string]any:
			return textFromObject(p, fields)
		case string:
			return p
		case nil:
			return x
		}
		return x
	case map[string]any:
		return textFromObject(x, fields)
	}
	return ""
}

// MessageContent extracts the text of a message. Empty means nothing usable.
func MessageContent(msg rawMessage) string {
	if text := textFromContent(msg["content"], textFields); text != "" {
		return text
	}
	if text, ok := firstString(msg, "text", "message", "msg"); ok {
		return text
	}
	if last, ok := decodeObject(msg["last_msg"]); ok {
		return textFromContent(last["content"], textFields[:3])
	}
	return ""
}

func messageType(msg rawMessage) int64 {
	n, _ := asInt64(msg["msg_type"])
	return n
}

func senderID(msg rawMessage) string {
	s, _ := asString(msg["sender_uid"])
	return s
}

func receiverID(msg rawMessage) string {
	s, _ := asString(msg["receiver_id"])
	return s
}

// timestamp is in unix seconds; ok is false when the message has none.
func timestamp(msg rawMessage) (int64, bool) {
	n, ok := asInt64(msg["timestamp"])
	return n, ok && n > 0
}

func seqno(msg rawMessage) int64 {
	n, _ := asInt64(msg["msg_seqno"])
	return n
}

// TextMessages decodes up to limit text messages of a fetch payload, in feed
// order, as read and processed rows owned by userID.
func TextMessages(data map[string]any, userID int64, limit int) []models.Message {
	msgs, _ := ExtractMessages(data)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}

	var out []models.Message
	for _, m := range msgs {
		if messageType(m) != 1 {
			continue
		}
		id, ok := MessageID(m)
		if !ok {
			continue
		}
		row := models.Message{
			MessageID:   id,
			UserID:      userID,
			SenderID:    senderID(m),
			ReceiverID:  receiverID(m),
			Content:     MessageContent(m),
			IsRead:      true,
			IsProcessed: true,
		}
		if ts, ok := timestamp(m); ok {
			t := time.Unix(ts, 0)
			row.SentAt = &t
		}
		out = append(out, row)
	}
	return out
}
