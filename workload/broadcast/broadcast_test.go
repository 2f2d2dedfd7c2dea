// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package broadcast_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gloomers/node/internal/nodetest"
	"github.com/gloomers/node/workload/broadcast"
)

func Test_Broadcast_DedupAndRead(t *testing.T) {
	h := nodetest.Start(broadcast.New)

	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"topology","msg_id":2,"topology":{"n1":["n2"],"n2":["n1"]}}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":3,"message":42}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":4,"message":42}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"read","msg_id":5}}`))
	require.NoError(t, h.Close())

	out := h.Output()

	var outboundBroadcasts, broadcastOks int
	var readOk map[string]any
	for _, m := range out {
		b := m["body"].(map[string]any)
		switch b["type"] {
		case "broadcast":
			if m["dest"] == "n2" {
				outboundBroadcasts++
				assert.Equal(t, float64(42), b["message"])
			}
		case "broadcast_ok":
			broadcastOks++
		case "read_ok":
			readOk = b
		}
	}

	assert.Equal(t, 1, outboundBroadcasts, "duplicate broadcasts must not cause a second fan-out")
	assert.Equal(t, 2, broadcastOks, "every broadcast request still gets its own ack")
	require.NotNil(t, readOk)
	assert.Equal(t, []any{float64(42)}, readOk["messages"])
}

func Test_Broadcast_RetransmitsUntilAcked(t *testing.T) {
	h := nodetest.Start(broadcast.New)

	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"topology","msg_id":2,"topology":{"n1":["n2"],"n2":["n1"]}}}`))
	require.NoError(t, h.Send(`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":3,"message":42}}`))

	h.Wait(1200 * time.Millisecond)

	var firstOutID float64
	firstSeen := false
	var retransmitted bool
	for _, m := range h.Output() {
		b := m["body"].(map[string]any)
		if b["type"] != "broadcast" || m["dest"] != "n2" {
			continue
		}
		id := b["msg_id"].(float64)
		if !firstSeen {
			firstOutID = id
			firstSeen = true
			continue
		}
		if id == firstOutID {
			retransmitted = true
		}
	}
	require.True(t, firstSeen)
	assert.True(t, retransmitted, "unacked broadcast should be retransmitted with the same msg_id")

	require.NoError(t, h.Send(fmt.Sprintf(`{"src":"n2","dest":"n1","body":{"type":"broadcast_ok","in_reply_to":%d}}`, int64(firstOutID))))
	h.Wait(1200 * time.Millisecond)

	countAfterAck := 0
	beforeAckTotal := 0
	for _, m := range h.Output() {
		b := m["body"].(map[string]any)
		if b["type"] == "broadcast" && m["dest"] == "n2" {
			beforeAckTotal++
		}
	}
	h.Wait(1200 * time.Millisecond)
	for _, m := range h.Output() {
		b := m["body"].(map[string]any)
		if b["type"] == "broadcast" && m["dest"] == "n2" {
			countAfterAck++
		}
	}
	assert.Equal(t, beforeAckTotal, countAfterAck, "no further retransmits once acked")

	require.NoError(t, h.Close())
}
