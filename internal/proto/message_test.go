// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package proto_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloomers/node/internal/proto"
)

func Test_Message_RoundTrip(t *testing.T) {
	line := `{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":2,"echo":"hi"}}`

	var msg proto.Message
	require.NoError(t, json.Unmarshal([]byte(line), &msg))

	assert.Equal(t, "c1", msg.Src)
	assert.Equal(t, "n1", msg.Dest)
	assert.Equal(t, "echo", msg.Body.Type)
	require.NotNil(t, msg.Body.MsgID)
	assert.Equal(t, 2, *msg.Body.MsgID)
	assert.Nil(t, msg.Body.InReplyTo)

	var payload struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, msg.Body.Decode(&payload))
	assert.Equal(t, "hi", payload.Echo)

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)

	var roundTripped proto.Message
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, msg, roundTripped)
}

func Test_Message_MissingType(t *testing.T) {
	var msg proto.Message
	err := json.Unmarshal([]byte(`{"src":"c1","dest":"n1","body":{"echo":"hi"}}`), &msg)
	require.ErrorIs(t, err, proto.ErrMissingType)
}

func Test_Body_ExplicitFieldsWinOverPayload(t *testing.T) {
	body, err := proto.NewBody("echo_ok", struct {
		Echo string `json:"echo"`
	}{Echo: "hi"})
	require.NoError(t, err)

	id := 5
	inReplyTo := 2
	body.MsgID = &id
	body.InReplyTo = &inReplyTo

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(encoded, &m))
	assert.Equal(t, "echo_ok", m["type"])
	assert.Equal(t, float64(5), m["msg_id"])
	assert.Equal(t, float64(2), m["in_reply_to"])
	assert.Equal(t, "hi", m["echo"])
}
