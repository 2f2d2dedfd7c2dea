// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package broadcast implements the Maelstrom broadcast workload: values are
// disseminated to every node through a flooded topology, deduped by a seen
// set, and retransmitted on a timer until each neighbor acknowledges.
package broadcast

import (
	"context"
	"time"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/ptr"
	"github.com/gloomers/node/internal/runtime"
)

// retransmitInterval is how often unacked broadcasts are re-sent. Maelstrom
// tolerates anything in roughly the 1-6s band; 1s keeps convergence fast
// without flooding the wire.
const retransmitInterval = time.Second

// Workload holds one node's view of the flood: its neighbors, the values
// it has already seen, and the outbound broadcasts still awaiting an ack.
// All fields are only ever touched from the handler-driver goroutine
// (runtime's RPC-reply demux never reaches here), so none of this needs a
// mutex.
type Workload struct {
	neighbors []string
	seen      map[int]struct{}
	seenOrder []int
	unacked   map[int]proto.Message
}

// New builds an empty broadcast workload. neighbors populate once the
// topology message arrives.
func New(_ *runtime.Node) *Workload {
	return &Workload{
		seen:    make(map[int]struct{}),
		unacked: make(map[int]proto.Message),
	}
}

// retransmitTickType is the synthetic payload type Timers pushes onto the
// inbox. It never appears on the wire; it exists so the actual retransmit
// (iterating w.unacked) happens on the handler-driver goroutine instead of
// racing with it from Timers' own goroutine (spec.md §9).
const retransmitTickType = "retransmit_tick"

// Register installs the broadcast handler set on n's router.
func (w *Workload) Register(n *runtime.Node) {
	n.Router().Handle("topology", w.handleTopology)
	n.Router().Handle("broadcast", w.handleBroadcast)
	n.Router().Handle("broadcast_ok", w.handleBroadcastOk)
	n.Router().Handle("read", w.handleRead)
	n.Router().Handle(retransmitTickType, w.handleRetransmitTick)
}

// Timers pushes a synthetic retransmit_tick into the inbox on every tick;
// the actual resend of w.unacked happens in handleRetransmitTick, on the
// handler-driver goroutine, so workload state stays single-writer.
func (w *Workload) Timers(ctx context.Context, n *runtime.Node) {
	ticker := time.NewTicker(retransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick, err := retransmitTickMessage(n.ID)
			if err != nil {
				n.Logger().WarnContext(ctx, "build retransmit tick failed", "error", err)
				continue
			}
			select {
			case n.Inbox() <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

func retransmitTickMessage(selfID string) (proto.Message, error) {
	body, err := proto.NewBody(retransmitTickType, struct{}{})
	if err != nil {
		return proto.Message{}, err
	}
	return proto.Message{Src: selfID, Dest: selfID, Body: body}, nil
}

func (w *Workload) handleRetransmitTick(ctx context.Context, n *runtime.Node, _ proto.Message) error {
	for _, msg := range w.unacked {
		if err := n.Resend(msg); err != nil {
			n.Logger().WarnContext(ctx, "broadcast retransmit failed", "error", err)
		}
	}
	return nil
}

type topologyPayload struct {
	Topology map[string][]string `json:"topology"`
}

type topologyOkPayload struct{}

func (w *Workload) handleTopology(_ context.Context, n *runtime.Node, msg proto.Message) error {
	var p topologyPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	neighbors, ok := p.Topology[n.ID]
	if !ok {
		return runtime.Fatal(errMissingSelfInTopology{node: n.ID})
	}

	w.neighbors = neighbors
	return n.Reply(msg, "topology_ok", topologyOkPayload{})
}

type broadcastPayload struct {
	Message int `json:"message"`
}

type broadcastOkPayload struct{}

func (w *Workload) handleBroadcast(_ context.Context, n *runtime.Node, msg proto.Message) error {
	var p broadcastPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}

	if err := n.Reply(msg, "broadcast_ok", broadcastOkPayload{}); err != nil {
		return err
	}

	if _, dup := w.seen[p.Message]; dup {
		return nil
	}
	w.seen[p.Message] = struct{}{}
	w.seenOrder = append(w.seenOrder, p.Message)

	for _, neighbor := range w.neighbors {
		if neighbor == n.ID || neighbor == msg.Src {
			continue
		}

		id := n.NextMsgID()
		body, err := proto.NewBody("broadcast", broadcastPayload{Message: p.Message})
		if err != nil {
			return err
		}
		body.MsgID = ptr.Ref(id)

		out := proto.Message{Src: n.ID, Dest: neighbor, Body: body}
		if err := n.Resend(out); err != nil {
			return err
		}
		w.unacked[id] = out
	}
	return nil
}

func (w *Workload) handleBroadcastOk(_ context.Context, _ *runtime.Node, msg proto.Message) error {
	if msg.Body.InReplyTo == nil {
		return nil
	}
	delete(w.unacked, *msg.Body.InReplyTo)
	return nil
}

type readOkPayload struct {
	Messages []int `json:"messages"`
}

func (w *Workload) handleRead(_ context.Context, n *runtime.Node, msg proto.Message) error {
	values := make([]int, len(w.seenOrder))
	copy(values, w.seenOrder)
	return n.Reply(msg, "read_ok", readOkPayload{Messages: values})
}

type errMissingSelfInTopology struct{ node string }

func (e errMissingSelfInTopology) Error() string {
	return "broadcast: topology message missing entry for " + e.node
}
