// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nodetest drives a runtime.Workload through runtime.Run over an
// in-memory pipe and captures its wire output, so workload packages can
// assert on the literal scenarios without reimplementing process plumbing
// in every _test.go file.
package nodetest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gloomers/node/internal/runtime"
)

// safeBuffer is a mutex-guarded byte sink: handler/timer writers and a
// mid-run assertion both touch it, so a bare bytes.Buffer would race.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Harness is a running node backed by a pipe that stays open until Close,
// so timer-driven behavior (retransmission, gossip) can be observed
// mid-run instead of only after EOF.
type Harness struct {
	pw   *io.PipeWriter
	out  *safeBuffer
	done chan error
}

// Start launches build under runtime.Run. Lines written via Send are fed
// to the node as they arrive; output is captured continuously.
func Start[W runtime.Workload](build func(n *runtime.Node) W) *Harness {
	pr, pw := io.Pipe()
	out := &safeBuffer{}
	done := make(chan error, 1)

	go func() {
		done <- runtime.Run(context.Background(), pr, out, build, runtime.Options{})
	}()

	return &Harness{pw: pw, out: out, done: done}
}

// Send writes one line (a JSON object, without its trailing newline) to
// the node's input.
func (h *Harness) Send(line string) error {
	_, err := h.pw.Write([]byte(line + "\n"))
	return err
}

// Wait pauses the calling goroutine so background timers (retransmit,
// gossip) get a chance to fire.
func (h *Harness) Wait(d time.Duration) {
	time.Sleep(d)
}

// Output returns every line written so far, decoded as generic JSON
// objects, in emission order.
func (h *Harness) Output() []map[string]any {
	raw := h.out.String()
	var lines []map[string]any
	for _, l := range splitLines(raw) {
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			continue
		}
		lines = append(lines, m)
	}
	return lines
}

// OutputSince returns every output line after the first n already consumed
// by a caller, plus the new total, so a fake peer (like internal/kv's
// lin-kv/seq-kv) can poll for outbound requests and reply to each exactly
// once.
func (h *Harness) OutputSince(n int) ([]map[string]any, int) {
	all := h.Output()
	if n >= len(all) {
		return nil, len(all)
	}
	return all[n:], len(all)
}

// Close ends the node's input (EOF) and waits for Run to return.
func (h *Harness) Close() error {
	_ = h.pw.Close()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		return context.DeadlineExceeded
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
