// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package rpc implements synchronous request/reply semantics over the
// node's asynchronous transport: an outstanding msg_id is registered
// against a one-shot delivery channel, and the runtime's input demux
// delivers the matching in_reply_to straight to it, never to the workload.
package rpc

import (
	"github.com/gloomers/node/concurrent"
	"github.com/gloomers/node/internal/proto"
)

// Table tracks msg_ids this node originated and is still awaiting a reply
// for. It's the concurrent structure in this module: Register runs on
// whatever goroutine issues the call, Deliver runs on the input-reader
// goroutine, and they race by design.
type Table struct {
	waiters *concurrent.Cache[int, chan proto.Message]
}

// NewTable returns an empty correlation table.
func NewTable() *Table {
	return &Table{waiters: concurrent.NewCache[int, chan proto.Message]()}
}

// Register installs a one-shot delivery slot for msgID and returns the
// channel Deliver will send the matching reply to. The channel is buffered
// by one so Deliver never blocks on a caller that's about to time out.
func (t *Table) Register(msgID int) <-chan proto.Message {
	ch := make(chan proto.Message, 1)
	t.waiters.Set(msgID, ch)
	return ch
}

// Cancel removes msgID's entry, e.g. after a timeout. Canceling an entry
// that already received its reply (or never existed) is a no-op.
func (t *Table) Cancel(msgID int) {
	t.waiters.Delete(msgID)
}

// Deliver routes msg to the waiter registered under msg.Body.InReplyTo, if
// any, removing the entry. It reports whether a waiter was found; a false
// return means msg should fall through to ordinary workload dispatch
// (spec.md §9: unexpected "_ok" replies are silently ignored there).
func (t *Table) Deliver(msg proto.Message) bool {
	if msg.Body.InReplyTo == nil {
		return false
	}

	ch, ok := t.waiters.GetAndDelete(*msg.Body.InReplyTo)
	if !ok {
		return false
	}

	ch <- msg
	return true
}
