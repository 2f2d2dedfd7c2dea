// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package echo implements the Maelstrom echo workload: every echo payload
// is reflected back to the sender unchanged. It carries no state.
package echo

import (
	"context"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/runtime"
)

// Workload is the echo node's (stateless) handler set.
type Workload struct{}

// New builds the echo workload. n is unused; echo needs no node identity
// or RPC facility, but the constructor shape matches every other workload
// so runtime.Run can build any of them the same way.
func New(_ *runtime.Node) Workload {
	return Workload{}
}

// Register installs the echo handler on n's router.
func (Workload) Register(n *runtime.Node) {
	n.Router().Handle("echo", handleEcho)
}

type echoPayload struct {
	Echo string `json:"echo"`
}

func handleEcho(_ context.Context, n *runtime.Node, msg proto.Message) error {
	var p echoPayload
	if err := msg.Body.Decode(&p); err != nil {
		return err
	}
	return n.Reply(msg, "echo_ok", p)
}
