// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package proto implements the Maelstrom wire envelope: one JSON object per
// line, with a tag-in-object payload discriminated by body.type.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is the envelope every line on stdin/stdout conforms to.
type Message struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	Body Body   `json:"body"`
}

// Body carries the correlation fields common to every payload plus the
// payload itself, flattened into the same JSON object on the wire.
type Body struct {
	Type      string
	MsgID     *int
	InReplyTo *int

	// Payload holds the body object as read off the wire, including
	// type/msg_id/in_reply_to, re-encoded with sorted keys so a decode,
	// encode, decode round trip reproduces it byte for byte. Decode extracts
	// payload-specific fields from it; MarshalJSON re-merges it with the
	// explicit fields above so a modified Type/MsgID/InReplyTo always takes
	// precedence.
	Payload json.RawMessage
}

// NewBody builds a Body for payload v, tagged typ. v should only define the
// payload-specific fields; MsgID/InReplyTo are set by the caller afterwards.
func NewBody(typ string, v any) (Body, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Body{}, fmt.Errorf("proto: marshal %s payload: %w", typ, err)
	}
	return Body{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload-specific fields of b into v. Fields in v
// that don't appear on the wire are left unset; extra wire fields (type,
// msg_id, in_reply_to, or anything a future revision adds) are ignored.
func (b Body) Decode(v any) error {
	if len(b.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(b.Payload, v)
}

type bodyEnvelope struct {
	Type      string `json:"type"`
	MsgID     *int   `json:"msg_id,omitempty"`
	InReplyTo *int   `json:"in_reply_to,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Body) UnmarshalJSON(data []byte) error {
	var env bodyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Type == "" {
		return ErrMissingType
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	canonical, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	b.Type = env.Type
	b.MsgID = env.MsgID
	b.InReplyTo = env.InReplyTo
	b.Payload = canonical
	return nil
}

// MarshalJSON implements json.Marshaler, merging Payload's fields with the
// explicit Type/MsgID/InReplyTo, which always win over whatever Payload
// happened to carry for those three keys.
func (b Body) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	if len(b.Payload) > 0 {
		if err := json.Unmarshal(b.Payload, &merged); err != nil {
			return nil, fmt.Errorf("proto: remarshal payload: %w", err)
		}
	}

	typeJSON, err := json.Marshal(b.Type)
	if err != nil {
		return nil, err
	}
	merged["type"] = typeJSON
	delete(merged, "msg_id")
	delete(merged, "in_reply_to")

	if b.MsgID != nil {
		idJSON, err := json.Marshal(*b.MsgID)
		if err != nil {
			return nil, err
		}
		merged["msg_id"] = idJSON
	}
	if b.InReplyTo != nil {
		irJSON, err := json.Marshal(*b.InReplyTo)
		if err != nil {
			return nil, err
		}
		merged["in_reply_to"] = irJSON
	}

	return json.Marshal(merged)
}

// ErrMissingType is returned when a decoded body has no "type" field.
var ErrMissingType = errors.New("proto: body missing type field")
