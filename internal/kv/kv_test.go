// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kv_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/gloomers/node/internal/kv"
	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/rpc"
	"github.com/gloomers/node/internal/transport"
)

// safeBuffer lets a fake-peer goroutine poll the client's output
// concurrently with the client writing to it.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}

// newStoreWithPeer wires a kv.Store to a fake lin-kv/seq-kv peer that
// replies according to fn for every request it observes.
func newStoreWithPeer(t *testing.T, node string, fn func(body map[string]any) (typ string, payload map[string]any)) *kv.Store {
	t.Helper()
	buf := &safeBuffer{}
	table := rpc.NewTable()
	nextID := 0
	client := rpc.NewClient("n1", transport.NewWriter(buf), table, func() int {
		nextID++
		return nextID
	}, slog.Default(), tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			data := buf.drain()
			for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
				if len(line) == 0 {
					continue
				}
				var msg proto.Message
				if err := json.Unmarshal(line, &msg); err != nil {
					continue
				}
				var body map[string]any
				_ = msg.Body.Decode(&body)

				typ, payload := fn(body)
				replyBody, _ := proto.NewBody(typ, payload)
				replyBody.InReplyTo = msg.Body.MsgID
				reply := proto.Message{Src: node, Dest: "n1", Body: replyBody}
				table.Deliver(reply)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	return kv.New(node, client)
}

func Test_Store_Read_Miss(t *testing.T) {
	store := newStoreWithPeer(t, "lin-kv", func(map[string]any) (string, map[string]any) {
		return "error", map[string]any{"code": proto.ErrCodeKeyDoesNotExist, "text": "not found"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, found, err := store.Read(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_Store_Read_Hit(t *testing.T) {
	store := newStoreWithPeer(t, "lin-kv", func(map[string]any) (string, map[string]any) {
		return "read_ok", map[string]any{"value": 42}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, found, err := store.Read(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)

	var v int
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, 42, v)
}

func Test_Store_CAS_PreconditionFailed(t *testing.T) {
	store := newStoreWithPeer(t, "lin-kv", func(map[string]any) (string, map[string]any) {
		return "error", map[string]any{"code": proto.ErrCodePreconditionFailed, "text": "cas failed"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := store.CAS(ctx, "a:latest", 0, 1, true)
	assert.True(t, errors.Is(err, kv.ErrPreconditionFailed))
}

func Test_Store_CAS_Success(t *testing.T) {
	store := newStoreWithPeer(t, "lin-kv", func(map[string]any) (string, map[string]any) {
		return "cas_ok", map[string]any{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, store.CAS(ctx, "a:latest", 0, 1, true))
}
