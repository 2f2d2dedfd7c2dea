// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package runtime

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/rpc"
	"github.com/gloomers/node/internal/transport"
)

// Node is the per-process runtime handle every workload is built against:
// identity, the router, the RPC facility, and the inbox background tasks
// use to inject synthetic messages (spec.md §4.3).
type Node struct {
	ID      string
	NodeIDs []string

	router *Router
	rpc    *rpc.Client
	table  *rpc.Table
	inbox  chan proto.Message

	idSeq atomic.Int64

	log    *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	messagesHandled metric.Int64Counter
}

func newNode(id string, nodeIDs []string, out *transport.Writer, log *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Node {
	n := &Node{
		ID:      id,
		NodeIDs: nodeIDs,
		router:  NewRouter(),
		table:   rpc.NewTable(),
		inbox:   make(chan proto.Message),
		log:     log,
		tracer:  tracer,
		meter:   meter,
	}
	n.rpc = rpc.NewClient(id, out, n.table, n.NextMsgID, log, tracer, meter)

	counter, err := meter.Int64Counter(
		"gloomers.node.messages_handled",
		metric.WithDescription("messages dispatched to a workload handler"),
	)
	if err == nil {
		n.messagesHandled = counter
	}
	return n
}

// NextMsgID returns a fresh, strictly increasing msg_id for this node. 0 is
// reserved for the init_ok reply and is never returned here.
func (n *Node) NextMsgID() int {
	return int(n.idSeq.Add(1))
}

// Router exposes the type-tag dispatch table a workload registers its
// handlers against during construction.
func (n *Node) Router() *Router {
	return n.router
}

// RPCClient exposes the node's RPC facility directly, for workloads (like
// kafka-log's internal/kv stores) that need to build request/reply
// operations beyond Send/Reply/SyncCall.
func (n *Node) RPCClient() *rpc.Client {
	return n.rpc
}

// Logger returns this node's structured logger.
func (n *Node) Logger() *slog.Logger {
	return n.log
}

// Tracer returns this node's OTel tracer for handler-level spans.
func (n *Node) Tracer() trace.Tracer {
	return n.tracer
}

// Inbox returns the send side of the runtime's internal message queue.
// Background timers push synthetic messages here (spec.md §9) so that all
// workload-state mutation still happens on the single handler-driver
// goroutine.
func (n *Node) Inbox() chan<- proto.Message {
	return n.inbox
}

// Send transmits a fire-and-forget message to dest with a fresh msg_id.
func (n *Node) Send(dest, typ string, payload any) (int, error) {
	return n.rpc.Send(dest, typ, payload)
}

// Reply answers req, swapping src/dst and setting in_reply_to to req's
// msg_id (spec.md §3).
func (n *Node) Reply(req proto.Message, typ string, payload any) error {
	return n.rpc.Reply(req, typ, payload)
}

// Resend retransmits msg verbatim, preserving its original msg_id. Used for
// broadcast retransmission (spec.md §4.5).
func (n *Node) Resend(msg proto.Message) error {
	return n.rpc.Resend(msg)
}

// SyncCall sends a message to dest and blocks for the matching reply,
// demuxed by the node's input reader (spec.md §4.4).
func (n *Node) SyncCall(ctx context.Context, dest, typ string, payload any) (proto.Message, error) {
	return n.rpc.SyncCall(ctx, dest, typ, payload)
}

func (n *Node) deliverReply(msg proto.Message) bool {
	return n.table.Deliver(msg)
}
