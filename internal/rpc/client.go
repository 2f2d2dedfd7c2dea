// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/ptr"
	"github.com/gloomers/node/internal/transport"
)

// ErrTimeout is returned by SyncCall when the caller's context is done
// before a matching reply arrives. The table entry is always removed
// before returning it.
var ErrTimeout = errors.New("rpc: timed out waiting for reply")

// Client sends messages on behalf of a single node and, for SyncCall,
// blocks until the matching reply is delivered by the node's input demux
// (see internal/runtime).
type Client struct {
	selfID string
	out    *transport.Writer
	table  *Table
	nextID func() int

	log    *slog.Logger
	tracer trace.Tracer

	roundTrips metric.Int64Counter
}

// NewClient builds a Client. nextID must return a fresh, strictly
// increasing id on every call; the node runtime owns that sequence since
// it's shared across Send, Reply, and SyncCall. meter is used to register
// the rpc.round_trips counter (mirroring queue/kafka/metrics.go's
// messagesProcessed/messagesCommitted counters); a failing registration
// leaves the counter nil and SyncCall simply skips recording.
func NewClient(selfID string, out *transport.Writer, table *Table, nextID func() int, log *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	c := &Client{
		selfID: selfID,
		out:    out,
		table:  table,
		nextID: nextID,
		log:    log,
		tracer: tracer,
	}

	counter, err := meter.Int64Counter(
		"gloomers.node.rpc.round_trips",
		metric.WithDescription("completed SyncCall round trips, by outcome"),
		metric.WithUnit("{call}"),
	)
	if err == nil {
		c.roundTrips = counter
	}
	return c
}

// Send transmits a new message to dest with a fresh msg_id and no
// correlation bookkeeping; the caller doesn't expect (or want) a reply.
func (c *Client) Send(dest, typ string, payload any) (int, error) {
	id := c.nextID()
	body, err := proto.NewBody(typ, payload)
	if err != nil {
		return 0, err
	}
	body.MsgID = ptr.Ref(id)

	msg := proto.Message{Src: c.selfID, Dest: dest, Body: body}
	if err := c.out.Write(msg); err != nil {
		return 0, err
	}
	return id, nil
}

// Reply answers req with a fresh msg_id and in_reply_to set to req's
// msg_id, src/dst swapped (spec.md §3's into_reply invariant).
func (c *Client) Reply(req proto.Message, typ string, payload any) error {
	id := c.nextID()
	body, err := proto.NewBody(typ, payload)
	if err != nil {
		return err
	}
	body.MsgID = ptr.Ref(id)
	body.InReplyTo = req.Body.MsgID

	return c.out.Write(proto.Message{Src: req.Dest, Dest: req.Src, Body: body})
}

// Resend retransmits msg exactly as given, including its original msg_id.
// Used for broadcast retransmission, where a new msg_id would break
// correlation with the eventual broadcast_ok (spec.md §4.5).
func (c *Client) Resend(msg proto.Message) error {
	return c.out.Write(msg)
}

// SyncCall sends a fresh message to dest and blocks until the matching
// reply is delivered, ctx is done, or the write itself fails. On timeout
// the table entry is removed and ErrTimeout is returned.
func (c *Client) SyncCall(ctx context.Context, dest, typ string, payload any) (proto.Message, error) {
	id := c.nextID()
	body, err := proto.NewBody(typ, payload)
	if err != nil {
		return proto.Message{}, err
	}
	body.MsgID = ptr.Ref(id)

	ctx, span := c.tracer.Start(ctx, "rpc.sync_call", trace.WithAttributes(
		attribute.String("rpc.dest", dest),
		attribute.String("rpc.type", typ),
	))
	defer span.End()

	ch := c.table.Register(id)
	msg := proto.Message{Src: c.selfID, Dest: dest, Body: body}
	if err := c.out.Write(msg); err != nil {
		c.table.Cancel(id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return proto.Message{}, err
	}

	select {
	case reply := <-ch:
		c.recordRoundTrip(ctx, dest, typ, "ok")
		return reply, nil
	case <-ctx.Done():
		c.table.Cancel(id)
		err := fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.recordRoundTrip(ctx, dest, typ, "timeout")
		return proto.Message{}, err
	}
}

// recordRoundTrip increments the rpc.round_trips counter, if registered.
func (c *Client) recordRoundTrip(ctx context.Context, dest, typ, outcome string) {
	if c.roundTrips == nil {
		return
	}
	c.roundTrips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.dest", dest),
		attribute.String("rpc.type", typ),
		attribute.String("rpc.outcome", outcome),
	))
}
