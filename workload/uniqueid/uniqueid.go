// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package uniqueid implements the Maelstrom unique-ids workload: every
// generate request gets a globally unique id formed from this node's id
// and a local strictly-increasing counter, rather than a random UUID —
// uniqueness across nodes falls directly out of node ids already being
// unique.
package uniqueid

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/runtime"
)

// Workload generates ids of the form "<node_id>-<k>", k starting at 1.
type Workload struct {
	nodeID string
	seq    atomic.Int64
}

// New builds the unique-ids workload bound to n's node id.
func New(n *runtime.Node) *Workload {
	return &Workload{nodeID: n.ID}
}

// Register installs the generate handler on n's router.
func (w *Workload) Register(n *runtime.Node) {
	n.Router().Handle("generate", w.handleGenerate)
}

type generateOkPayload struct {
	ID string `json:"id"`
}

func (w *Workload) handleGenerate(_ context.Context, n *runtime.Node, msg proto.Message) error {
	k := w.seq.Add(1)
	return n.Reply(msg, "generate_ok", generateOkPayload{ID: fmt.Sprintf("%s-%d", w.nodeID, k)})
}
