// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kv implements the three RPC operations the node can perform
// against the external lin-kv/seq-kv services (spec.md §4.4, §6). Those
// services aren't part of this module; only the client side of their
// protocol is.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gloomers/node/internal/proto"
	"github.com/gloomers/node/internal/rpc"
)

// Node names Maelstrom addresses the two KV services under.
const (
	Lin = "lin-kv"
	Seq = "seq-kv"
)

// ErrNotFound is returned by nothing directly; Read reports a miss via its
// bool return instead, per spec.md §4.4 ("the caller decides fallback").
// It exists so callers that do want to treat a miss as an error can wrap
// one consistently.
var ErrNotFound = errors.New("kv: key does not exist")

// ErrPreconditionFailed is returned by CAS when the stored value didn't
// match "from" (or the key didn't exist and create_if_not_exists was
// false). It's a retryable optimistic-concurrency event, not a fatal error
// (spec.md §7).
var ErrPreconditionFailed = errors.New("kv: cas precondition failed")

// Error wraps an unrecognized Maelstrom error reply.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kv: error %d: %s", e.Code, e.Text)
}

// Store is a handle to one of the two external KV services, reached over
// the node's RPC facility.
type Store struct {
	node   string
	client *rpc.Client
}

// New returns a Store addressing the KV service named by node (Lin or Seq).
func New(node string, client *rpc.Client) *Store {
	return &Store{node: node, client: client}
}

type readPayload struct {
	Key string `json:"key"`
}

type readOkPayload struct {
	Value json.RawMessage `json:"value"`
}

// Read fetches key's value. A missing key is reported as (nil, false, nil),
// not an error — the caller decides what absence means.
func (s *Store) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	reply, err := s.client.SyncCall(ctx, s.node, "read", readPayload{Key: key})
	if err != nil {
		return nil, false, err
	}

	if reply.Body.Type == "error" {
		var e proto.Error
		if derr := reply.Body.Decode(&e); derr != nil {
			return nil, false, derr
		}
		if e.Code == proto.ErrCodeKeyDoesNotExist {
			return nil, false, nil
		}
		return nil, false, &Error{Code: e.Code, Text: e.Text}
	}

	var ok readOkPayload
	if err := reply.Body.Decode(&ok); err != nil {
		return nil, false, err
	}
	return ok.Value, true, nil
}

type writePayload struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Write unconditionally stores value under key.
func (s *Store) Write(ctx context.Context, key string, value any) error {
	reply, err := s.client.SyncCall(ctx, s.node, "write", writePayload{Key: key, Value: value})
	if err != nil {
		return err
	}
	return errorOrUnexpected(reply, "write_ok")
}

type casPayload struct {
	Key               string `json:"key"`
	From              any    `json:"from"`
	To                any    `json:"to"`
	CreateIfNotExists bool   `json:"create_if_not_exists"`
}

// CAS stores to under key iff the current value equals from (or the key is
// absent and createIfNotExists is set). A mismatch returns
// ErrPreconditionFailed.
func (s *Store) CAS(ctx context.Context, key string, from, to any, createIfNotExists bool) error {
	reply, err := s.client.SyncCall(ctx, s.node, "cas", casPayload{
		Key:               key,
		From:              from,
		To:                to,
		CreateIfNotExists: createIfNotExists,
	})
	if err != nil {
		return err
	}

	if reply.Body.Type == "error" {
		var e proto.Error
		if derr := reply.Body.Decode(&e); derr != nil {
			return derr
		}
		if e.Code == proto.ErrCodePreconditionFailed {
			return ErrPreconditionFailed
		}
		return &Error{Code: e.Code, Text: e.Text}
	}

	return errorOrUnexpected(reply, "cas_ok")
}

func errorOrUnexpected(reply proto.Message, wantType string) error {
	if reply.Body.Type == wantType {
		return nil
	}
	if reply.Body.Type == "error" {
		var e proto.Error
		if err := reply.Body.Decode(&e); err != nil {
			return err
		}
		return &Error{Code: e.Code, Text: e.Text}
	}
	return fmt.Errorf("kv: unexpected reply type %q, wanted %q", reply.Body.Type, wantType)
}
