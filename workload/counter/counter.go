// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package counter implements the Maelstrom grow-only-counter workload:
// each node accumulates local deltas and periodically polls its peers for
// their own contribution, converging on a total that can never
// double-count a peer's delta.
package counter

import (
	"context"
	"time"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/ptr"
	"github.com/gloomers/node/internal/runtime"
)

// gossipInterval is how often this node asks every peer for its current
// contribution, per spec.
const gossipInterval = 5 * time.Second

// Workload tracks this node's own accumulated delta plus the last-known
// contribution of every peer. Only ever touched from the handler-driver
// goroutine.
type Workload struct {
	peers      []string
	local      int
	peerValues map[string]int
}

// New builds a counter workload with every other node in the cluster as a
// peer.
func New(n *runtime.Node) *Workload {
	peers := make([]string, 0, len(n.NodeIDs))
	for _, id := range n.NodeIDs {
		if id == n.ID {
			continue
		}
		peers = append(peers, id)
	}

	return &Workload{
		peers:      peers,
		peerValues: make(map[string]int),
	}
}

// Register installs the counter handler set on n's router.
func (w *Workload) Register(n *runtime.Node) {
	n.Router().Handle("add", w.handleAdd)
	n.Router().Handle("read", w.handleRead)
	n.Router().Handle("server_read", w.handleServerRead)
	n.Router().Handle("server_read_ok", w.handleServerReadOk)
}

// Timers asks every peer for its contribution on each gossip tick, via a
// synthetic server_read pushed onto the inbox as if the peer had sent it.
func (w *Workload) Timers(ctx context.Context, n *runtime.Node) {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range w.peers {
				msg, err := serverReadMessage(peer, n.ID, n.NextMsgID())
				if err != nil {
					n.Logger().WarnContext(ctx, "build server_read failed", "error", err)
					continue
				}
				select {
				case n.Inbox() <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func serverReadMessage(src, dest string, msgID int) (proto.Message, error) {
	body, err := proto.NewBody("server_read", struct{}{})
	if err != nil {
		return proto.Message{}, err
	}
	body.MsgID = ptr.Ref(msgID)
	return proto.Message{Src: src, Dest: dest, Body: body}, nil
}

type addPayload struct {
	Delta int `json:"delta"`
}

type addOkPayload struct{}

func (w *Workload) handleAdd(_ context.Context, n *runtime.Node, msg proto.Message) error {
	var p addPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}
	w.local += p.Delta
	return n.Reply(msg, "add_ok", addOkPayload{})
}

type readOkPayload struct {
	Value int `json:"value"`
}

func (w *Workload) handleRead(_ context.Context, n *runtime.Node, msg proto.Message) error {
	total := w.local
	for _, v := range w.peerValues {
		total += v
	}
	return n.Reply(msg, "read_ok", readOkPayload{Value: total})
}

type serverReadOkPayload struct {
	Value int `json:"value"`
}

func (w *Workload) handleServerRead(_ context.Context, n *runtime.Node, msg proto.Message) error {
	return n.Reply(msg, "server_read_ok", serverReadOkPayload{Value: w.local})
}

// handleServerReadOk stores the replying peer's contribution. The peer's
// own Timers injected a server_read addressed as if from this node, and the
// peer's reply to it arrives here, so msg.Src is that peer, matching spec's
// "keyed by the reply's src" rule.
func (w *Workload) handleServerReadOk(_ context.Context, _ *runtime.Node, msg proto.Message) error {
	var p serverReadOkPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}
	w.peerValues[msg.Src] = p.Value
	return nil
}
