// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package runtime is the node's concurrent core: the init handshake, the
// input demultiplexer, the handler driver, and the per-payload-type router
// every workload registers against (spec.md §4.3).
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/gloomers/node/internal/proto"
)

// HandlerFunc processes one inbound message of a given body.type.
type HandlerFunc func(ctx context.Context, n *Node, msg proto.Message) error

// Router dispatches a decoded Message to the HandlerFunc registered for
// its body.type, the generalization of job.Handler/HandlerFunc (single
// handler per app) to one handler per payload tag, which is what
// spec.md §4.1's tag-in-object dispatch needs.
type Router struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for messages whose body.type equals typ, overwriting
// any previous registration.
func (r *Router) Handle(typ string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// ErrUnknownType is returned by Dispatch for a body.type with no registered
// handler. The caller (the node's driver) logs and drops the message rather
// than treating this as fatal (spec.md §7).
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("runtime: no handler registered for type %q", e.Type)
}

// Dispatch invokes the handler registered for msg.Body.Type.
func (r *Router) Dispatch(ctx context.Context, n *Node, msg proto.Message) error {
	r.mu.Lock()
	h, ok := r.handlers[msg.Body.Type]
	r.mu.Unlock()

	if !ok {
		return &ErrUnknownType{Type: msg.Body.Type}
	}
	return h(ctx, n, msg)
}
