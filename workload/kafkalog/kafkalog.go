// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafkalog implements the Maelstrom kafka-log workload: an
// append-only per-key log backed entirely by the external lin-kv
// (linearizable offset allocation) and seq-kv (entry storage and commit
// tracking) services, reached over the node's own RPC facility.
package kafkalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gloomers/node/internal/kv"
	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/runtime"
)

// pollLimit caps how many consecutive entries poll returns per key in one
// call; spec only requires "≥ 3".
const pollLimit = 16

// Workload holds no state of its own: every fact about the log lives in
// lin-kv/seq-kv. The two Store handles are the only fields.
type Workload struct {
	lin *kv.Store
	seq *kv.Store
}

// New builds the kafka-log workload, wiring its KV stores to n's RPC
// facility.
func New(n *runtime.Node) *Workload {
	client := n.RPCClient()
	return &Workload{
		lin: kv.New(kv.Lin, client),
		seq: kv.New(kv.Seq, client),
	}
}

// Register installs the kafka-log handler set on n's router.
func (w *Workload) Register(n *runtime.Node) {
	n.Router().Handle("send", w.handleSend)
	n.Router().Handle("poll", w.handlePoll)
	n.Router().Handle("commit_offsets", w.handleCommitOffsets)
	n.Router().Handle("list_committed_offsets", w.handleListCommittedOffsets)
}

type sendPayload struct {
	Key string `json:"key"`
	Msg int    `json:"msg"`
}

type sendOkPayload struct {
	Offset int `json:"offset"`
}

func (w *Workload) handleSend(ctx context.Context, n *runtime.Node, msg proto.Message) error {
	var p sendPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	offset, err := w.allocateOffset(ctx, p.Key)
	if err != nil {
		return err
	}

	entryKey := fmt.Sprintf("%s:%d", p.Key, offset)
	if err := w.seq.Write(ctx, entryKey, p.Msg); err != nil {
		return err
	}

	latestKey := fmt.Sprintf("%s:latest", p.Key)
	if err := w.seq.Write(ctx, latestKey, offset); err != nil {
		n.Logger().WarnContext(ctx, "kafka-log: best-effort latest mirror write failed", "key", p.Key, "error", err)
	}

	return n.Reply(msg, "send_ok", sendOkPayload{Offset: offset})
}

// allocateOffset CASes lin-kv["<key>:latest"] up from its current value
// (or 1, on a cold key), retrying on every precondition failure until it
// wins a unique offset.
func (w *Workload) allocateOffset(ctx context.Context, key string) (int, error) {
	latestKey := fmt.Sprintf("%s:latest", key)

	curr, err := w.currentLatest(ctx, latestKey)
	if err != nil {
		return 0, err
	}

	for {
		next := curr + 1
		err := w.lin.CAS(ctx, latestKey, curr, next, true)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, kv.ErrPreconditionFailed) {
			return 0, err
		}
		curr = next
	}
}

func (w *Workload) currentLatest(ctx context.Context, latestKey string) (int, error) {
	raw, found, err := w.lin.Read(ctx, latestKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("kafkalog: decode latest offset: %w", err)
	}
	return v, nil
}

type pollPayload struct {
	Offsets map[string]int `json:"offsets"`
}

type pollOkPayload struct {
	Msgs map[string][][2]int `json:"msgs"`
}

func (w *Workload) handlePoll(ctx context.Context, n *runtime.Node, msg proto.Message) error {
	var p pollPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	result := make(map[string][][2]int, len(p.Offsets))
	for key, from := range p.Offsets {
		entries, err := w.pollKey(ctx, key, from)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			result[key] = entries
		}
	}

	return n.Reply(msg, "poll_ok", pollOkPayload{Msgs: result})
}

func (w *Workload) pollKey(ctx context.Context, key string, from int) ([][2]int, error) {
	var entries [][2]int
	for offset := from; len(entries) < pollLimit; offset++ {
		entryKey := fmt.Sprintf("%s:%d", key, offset)
		raw, found, err := w.seq.Read(ctx, entryKey)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}

		var value int
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("kafkalog: decode entry %s: %w", entryKey, err)
		}
		entries = append(entries, [2]int{offset, value})
	}
	return entries, nil
}

type commitOffsetsPayload struct {
	Offsets map[string]int `json:"offsets"`
}

type commitOffsetsOkPayload struct{}

func (w *Workload) handleCommitOffsets(ctx context.Context, n *runtime.Node, msg proto.Message) error {
	var p commitOffsetsPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	for key, offset := range p.Offsets {
		commitKey := fmt.Sprintf("commit:%s", key)
		if err := w.seq.Write(ctx, commitKey, offset); err != nil {
			return err
		}
	}

	return n.Reply(msg, "commit_offsets_ok", commitOffsetsOkPayload{})
}

type listCommittedOffsetsPayload struct {
	Keys []string `json:"keys"`
}

type listCommittedOffsetsOkPayload struct {
	Offsets map[string]int `json:"offsets"`
}

func (w *Workload) handleListCommittedOffsets(ctx context.Context, n *runtime.Node, msg proto.Message) error {
	var p listCommittedOffsetsPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	offsets := make(map[string]int, len(p.Keys))
	for _, key := range p.Keys {
		commitKey := fmt.Sprintf("commit:%s", key)
		raw, found, err := w.seq.Read(ctx, commitKey)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("kafkalog: decode commit offset %s: %w", commitKey, err)
		}
		offsets[key] = v
	}

	return n.Reply(msg, "list_committed_offsets_ok", listCommittedOffsetsOkPayload{Offsets: offsets})
}
