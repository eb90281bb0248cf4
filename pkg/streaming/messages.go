// Package streaming defines the WebSocket protocol spoken between a remote
// anchor store and its clients.
//
// Every request carries an ID. The server answers it with exactly one "ack"
// or "error" envelope echoing that ID. A subscribe request's ID also names
// the subscription: its initial set travels in the ack, every later set in
// a "snapshot" envelope with the same ID.
package streaming

import (
	"encoding/json"

	"github.com/fieldsync/anchor/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeAppend      = "append"
	TypeList        = "list"
	TypeDeleteAll   = "delete_all"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeAck      = "ack"
	TypeError    = "error"
	TypeSnapshot = "snapshot"
)

// Error codes carried in ErrorPayload so clients can map them back to
// storage sentinel errors.
const (
	CodeEmptyLabel = "empty_label"
	CodeNoOwner    = "no_owner"
	CodeClosed     = "closed"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OwnerPayload scopes list, delete_all and subscribe requests.
type OwnerPayload struct {
	OwnerID string `json:"ownerId"`
}

// AppendPayload is the body of an append request.
type AppendPayload struct {
	OwnerID string            `json:"ownerId"`
	Fields  core.AnchorFields `json:"fields"`
}

// AppendResult is the ack body of an append request.
type AppendResult struct {
	ID string `json:"id"`
}

// UnsubscribePayload names the subscription to cancel.
type UnsubscribePayload struct {
	Subscription string `json:"subscription"`
}

// SnapshotPayload is the full anchor set of one owner, newest first. It is
// the ack body of list and subscribe and the body of snapshot pushes.
type SnapshotPayload struct {
	Anchors []core.Anchor `json:"anchors"`
	Error   string        `json:"error,omitempty"`
}

// ErrorPayload is the body of an error response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals payload into an Envelope. A nil payload is omitted.
func NewEnvelope(msgType, id string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, ID: id}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}
