// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/ptr"
	"github.com/gloomers/node/internal/transport"
)

// Workload is what a payload-type family (echo, unique-ids, broadcast,
// grow-only counter, kafka-log) implements to plug into a Node. Register
// installs handlers on the node's Router; it runs once, after the init
// handshake, so handlers can read n.ID/n.NodeIDs.
type Workload interface {
	Register(n *Node)
}

// TimerWorkload is implemented by a Workload that also runs background
// tasks — broadcast's periodic retransmit, for instance. Timers pushes
// synthetic messages onto n.Inbox() until ctx is done; it must return
// promptly once ctx is canceled (spec.md §9). Workloads with nothing to
// run on a timer (echo, unique-ids, kafka-log) simply don't implement
// this interface; Run's type assertion skips the timer task for them.
type TimerWorkload interface {
	Workload
	Timers(ctx context.Context, n *Node)
}

// Options configures Run beyond the workload itself.
type Options struct {
	Log    *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

func (o *Options) setDefaults() {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("gloomers/node")
	}
	if o.Meter == nil {
		o.Meter = metricnoop.NewMeterProvider().Meter("gloomers/node")
	}
}

// Run drives a node end to end: it performs the Maelstrom init handshake on
// r, registers build's handlers on the resulting Node, then fans out the
// input reader/demux, the handler driver, and (if build implements
// TimerWorkload) the background timer task across a conc pool, returning
// once the input is exhausted, a fatal handler error occurs, or ctx is
// canceled. The reader task checks for cancellation only between lines, so
// after a fatal error or cancellation Run returns once the next non-reply
// line or EOF arrives on r.
func Run[W Workload](ctx context.Context, r io.Reader, w io.Writer, build func(n *Node) W, opts Options) error {
	opts.setDefaults()

	in := transport.NewReader(r)
	out := transport.NewWriter(w)

	n, err := handshake(in, out, opts)
	if err != nil {
		return err
	}

	wl := build(n)
	wl.Register(n)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		defer cancel()
		return readLoop(ctx, n, in)
	})

	p.Go(func(ctx context.Context) error {
		return driveLoop(ctx, n, opts.Log)
	})

	if tw, ok := any(wl).(TimerWorkload); ok {
		p.Go(func(ctx context.Context) error {
			tw.Timers(ctx, n)
			return nil
		})
	}

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handshake reads the mandatory init message, builds the Node around it,
// and replies init_ok with msg_id 0 (spec.md §4.3).
func handshake(in *transport.Reader, out *transport.Writer, opts Options) (*Node, error) {
	msg, err := in.Read()
	if err != nil {
		return nil, err
	}
	if msg.Body.Type != "init" {
		return nil, Fatal(&unexpectedInitError{Got: msg.Body.Type})
	}

	var init proto.Init
	if err := msg.Body.Decode(&init); err != nil {
		return nil, Fatal(err)
	}
	if init.NodeID == "" {
		return nil, Fatal(errMissingSelf)
	}

	n := newNode(init.NodeID, init.NodeIDs, out, opts.Log.With(slog.String("node_id", init.NodeID)), opts.Tracer, opts.Meter)

	replyBody, err := proto.NewBody("init_ok", proto.InitOk{})
	if err != nil {
		return nil, Fatal(err)
	}
	replyBody.MsgID = ptr.Ref(0)
	replyBody.InReplyTo = msg.Body.MsgID

	if err := out.Write(proto.Message{Src: init.NodeID, Dest: msg.Src, Body: replyBody}); err != nil {
		return nil, err
	}
	return n, nil
}

// readLoop is the node's only consumer of in. Replies correlated to an
// outstanding SyncCall are demuxed here, straight to their waiter, so a
// handler blocked on its own SyncCall (kafka-log's offset CAS loop, for
// instance) never stalls reply delivery. Everything else is forwarded to
// the inbox for the single driver goroutine to dispatch.
func readLoop(ctx context.Context, n *Node, in *transport.Reader) error {
	for {
		msg, err := in.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var derr *transport.DecodeError
		if errors.As(err, &derr) {
			n.log.WarnContext(ctx, "dropping unparsable line", slog.Any("error", err))
			continue
		}
		if err != nil {
			return err
		}

		if n.deliverReply(msg) {
			continue
		}

		select {
		case n.inbox <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// driveLoop is the single goroutine that dispatches to workload handlers,
// making the workload's own state single-writer with no locking (spec.md
// §9). A handler error is logged and dropped; a Fatal one terminates Run.
func driveLoop(ctx context.Context, n *Node, log *slog.Logger) error {
	for {
		select {
		case msg := <-n.inbox:
			dctx, span := n.tracer.Start(ctx, "runtime.dispatch", trace.WithAttributes(
				attribute.String("message.type", msg.Body.Type),
			))
			err := n.router.Dispatch(dctx, n, msg)
			if err != nil {
				span.RecordError(err)
			}
			span.End()
			if err == nil {
				if n.messagesHandled != nil {
					n.messagesHandled.Add(ctx, 1)
				}
				continue
			}

			if IsFatal(err) {
				return err
			}

			var unknown *ErrUnknownType
			if errors.As(err, &unknown) {
				log.WarnContext(ctx, "no handler for message type", slog.String("type", unknown.Type))
				continue
			}

			log.ErrorContext(ctx, "handler error", slog.String("type", msg.Body.Type), slog.Any("error", err))
		case <-ctx.Done():
			// Drain whatever is already queued so a handler mid-SyncCall that
			// just unblocked doesn't wedge the pool shutting down.
			for {
				select {
				case msg := <-n.inbox:
					_ = n.router.Dispatch(ctx, n, msg)
				default:
					return nil
				}
			}
		}
	}
}

var errMissingSelf = errors.New("runtime: init message missing node_id")

type unexpectedInitError struct{ Got string }

func (e *unexpectedInitError) Error() string {
	return "runtime: expected init as first message, got " + e.Got
}
