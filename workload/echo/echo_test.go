// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package echo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloomers/node/internal/nodetest"
	"github.com/gloomers/node/workload/echo"
)

func Test_Echo_RoundTrip(t *testing.T) {
	h := nodetest.Start(echo.New)

	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":2,"echo":"hi"}}`))
	require.NoError(t, h.Close())

	out := h.Output()
	require.Len(t, out, 2)

	initOk := body(out[0])
	assert.Equal(t, "init_ok", initOk["type"])
	assert.Equal(t, float64(0), initOk["msg_id"])
	assert.Equal(t, float64(1), initOk["in_reply_to"])

	echoOk := body(out[1])
	assert.Equal(t, "echo_ok", echoOk["type"])
	assert.Equal(t, float64(1), echoOk["msg_id"])
	assert.Equal(t, float64(2), echoOk["in_reply_to"])
	assert.Equal(t, "hi", echoOk["echo"])
	assert.Equal(t, "n1", out[1]["src"])
	assert.Equal(t, "c1", out[1]["dest"])
}

func body(m map[string]any) map[string]any {
	b, _ := m["body"].(map[string]any)
	return b
}
