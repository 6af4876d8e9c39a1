package wire

import (
	"encoding/json"
	"fmt"
)

// frame is the on-the-wire shape of every envelope: a type discriminator
// plus an opaque payload, the standard Go idiom for encoding a
// discriminated union over encoding/json.
type frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes env into its wire frame.
func Encode(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s payload: %w", env.Kind(), err)
	}
	out, err := json.Marshal(frame{Type: env.Kind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return out, nil
}

// Decode parses a wire frame back into its concrete Envelope type. Unknown
// message types are a protocol violation: spec.md §7 item 5 calls for
// "drop and log", so callers should treat a non-nil error from Decode as
// exactly that signal rather than a fatal condition.
func Decode(data []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}

	switch f.Type {
	case KindEstablishRequest:
		var m EstablishRequest
		return &m, unmarshalPayload(f.Payload, &m)
	case KindEstablishResponse:
		var m EstablishResponse
		return &m, unmarshalPayload(f.Payload, &m)
	case KindSyncRequest:
		var m SyncRequest
		return &m, unmarshalPayload(f.Payload, &m)
	case KindSyncResponse:
		var m SyncResponse
		return &m, unmarshalPayload(f.Payload, &m)
	case KindUpdate:
		var m Update
		return &m, unmarshalPayload(f.Payload, &m)
	case KindDirectoryRequest:
		var m DirectoryRequest
		return &m, unmarshalPayload(f.Payload, &m)
	case KindDirectoryResponse:
		var m DirectoryResponse
		return &m, unmarshalPayload(f.Payload, &m)
	case KindNewDoc:
		var m NewDoc
		return &m, unmarshalPayload(f.Payload, &m)
	case KindDeleteRequest:
		var m DeleteRequest
		return &m, unmarshalPayload(f.Payload, &m)
	case KindDeleteResponse:
		var m DeleteResponse
		return &m, unmarshalPayload(f.Payload, &m)
	case KindEphemeral:
		var m Ephemeral
		return &m, unmarshalPayload(f.Payload, &m)
	case KindBatch:
		return decodeBatch(f.Payload)
	default:
		return nil, fmt.Errorf("wire: unknown message type %q", f.Type)
	}
}

func unmarshalPayload(data json.RawMessage, into Envelope) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("wire: decode %T: %w", into, err)
	}
	return nil
}

type batchWire struct {
	Messages []json.RawMessage `json:"messages"`
}

func decodeBatch(payload json.RawMessage) (Envelope, error) {
	var w batchWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("wire: decode batch: %w", err)
	}
	out := Batch{Messages: make([]Envelope, 0, len(w.Messages))}
	for i, raw := range w.Messages {
		env, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("wire: decode batch message %d: %w", i, err)
		}
		if env.Kind() == KindBatch {
			return nil, fmt.Errorf("wire: batch message %d is itself a batch, which is forbidden", i)
		}
		out.Messages = append(out.Messages, env)
	}
	return &out, nil
}
