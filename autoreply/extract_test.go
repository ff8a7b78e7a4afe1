package autoreply

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodePayload decodes the way the client does, numbers as json.Number.
func decodePayload(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestExtractMessages_StrategiesInOrder(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		strategy string
		count    int
	}{
		{"messages", `{"messages":[{"msg_key":1}],"msgs":[{"msg_key":2},{"msg_key":3}]}`, "messages", 1},
		{"empty messages falls through", `{"messages":[],"message_list":[{"a":1},{"a":2}]}`, "message_list", 2},
		{"msg_list", `{"msg_list":[{"a":1}]}`, "msg_list", 1},
		{"msgs", `{"msgs":[{"a":1}]}`, "msgs", 1},
		{"nested", `{"messages_list":{"b":[{"a":1},{"a":2}],"a":[{"a":3}],"c":"x"}}`, "messages_list", 1},
		{"nothing", `{"has_more":0}`, "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs, strategy := ExtractMessages(decodePayload(t, tc.payload))
			assert.Equal(t, tc.strategy, strategy)
			assert.Len(t, msgs, tc.count)
		})
	}

	msgs, strategy := ExtractMessages(nil)
	assert.Empty(t, msgs)
	assert.Empty(t, strategy)
}

func TestExtractMessages_NestedPicksSortedKey(t *testing.T) {
	msgs, _ := ExtractMessages(decodePayload(t, `{"messages_list":{"z":[{"k":"z"}],"a":[{"k":"a"}]}}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0]["k"])
}

func TestNeedsSeqnoRefetch(t *testing.T) {
	begin, end, ok := needsSeqnoRefetch(decodePayload(t, `{"messages":null,"has_more":1,"min_seqno":3,"max_seqno":9}`))
	assert.True(t, ok)
	assert.Equal(t, int64(3), begin)
	assert.Equal(t, int64(9), end)

	_, _, ok = needsSeqnoRefetch(decodePayload(t, `{"messages":null,"has_more":0,"min_seqno":3,"max_seqno":9}`))
	assert.False(t, ok)
	_, _, ok = needsSeqnoRefetch(decodePayload(t, `{"has_more":1,"min_seqno":3,"max_seqno":9}`))
	assert.False(t, ok)
	_, _, ok = needsSeqnoRefetch(decodePayload(t, `{"messages":null,"has_more":1}`))
	assert.False(t, ok)
}

func TestMessageID(t *testing.T) {
	cases := []struct {
		payload string
		want    string
		ok      bool
	}{
		{`{"msg_key":7306791564155428865,"msg_seqno":5}`, "7306791564155428865", true},
		{`{"message_id":"abc"}`, "abc", true},
		{`{"msg_key":0,"id":12}`, "12", true},
		{`{"msg_seqno":77}`, "77", true},
		{`{"msg_id":{"msg_id":"n1"}}`, "n1", true},
		{`{"msg_id":99}`, "99", true},
		{`{"last_msg":"{\"msg_key\":123}"}`, "123", true},
		{`{"last_msg":{"key":"k9"}}`, "k9", true},
		{`{"content":"x"}`, "", false},
	}
	for _, tc := range cases {
		id, ok := MessageID(decodePayload(t, tc.payload))
		assert.Equal(t, tc.ok, ok, tc.payload)
		assert.Equal(t, tc.want, id, tc.payload)
	}
}

func TestMessageContent(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"content":"{\"content\":\"hello\"}"}`, "hello"},
		{`{"content":"{\"text\":\"via text\"}"}`, "via text"},
		{`{"content":"{\"url\":\"http://img\"}"}`, `{"url":"http://img"}`},
		{`{"content":"plain words"}`, "plain words"},
		{`{"content":"123"}`, "123"},
		{`{"content":{"message":"obj"}}`, "obj"},
		{`{"content":"","text":"top text"}`, "top text"},
		{`{"msg":"top msg"}`, "top msg"},
		{`{"last_msg":{"content":"{\"content\":\"from last\"}"}}`, "from last"},
		{`{"last_msg":"{\"content\":\"last as string\"}"}`, "last as string"},
		{`{"msg_type":1}`, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MessageContent(decodePayload(t, tc.payload)), tc.payload)
	}
}

func TestTextMessages(t *testing.T) {
	data := decodePayload(t, `{"messages":[
		{"msg_key":11,"msg_type":1,"sender_uid":42,"receiver_id":100,"timestamp":1700000000,"content":"{\"content\":\"hi\"}"},
		{"msg_key":12,"msg_type":2,"sender_uid":42,"receiver_id":100,"content":"{\"url\":\"x\"}"},
		{"msg_type":1,"sender_uid":42,"content":"{\"content\":\"no id\"}"},
		{"msg_key":13,"msg_type":1,"sender_uid":100,"receiver_id":42,"content":"{\"content\":\"yo\"}"}
	]}`)

	rows := TextMessages(data, 7, 50)
	require.Len(t, rows, 2)
	assert.Equal(t, "11", rows[0].MessageID)
	assert.Equal(t, "hi", rows[0].Content)
	assert.Equal(t, "42", rows[0].SenderID)
	assert.Equal(t, int64(7), rows[0].UserID)
	assert.True(t, rows[0].IsRead)
	assert.True(t, rows[0].IsProcessed)
	require.NotNil(t, rows[0].SentAt)
	assert.Equal(t, int64(1700000000), rows[0].SentAt.Unix())
	assert.Nil(t, rows[1].SentAt)

	assert.Len(t, TextMessages(data, 7, 1), 1)
}
