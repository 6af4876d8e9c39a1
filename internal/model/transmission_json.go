package model

import (
	"encoding/json"
	"fmt"

	"github.com/driftsync/core/internal/clock"
)

func (k TransmissionKind) wireString() string {
	switch k {
	case TransmissionUpToDate:
		return "up-to-date"
	case TransmissionSnapshot:
		return "snapshot"
	case TransmissionUpdate:
		return "update"
	case TransmissionUnavailable:
		return "unavailable"
	default:
		return "unavailable"
	}
}

func transmissionKindFromWire(s string) (TransmissionKind, error) {
	switch s {
	case "up-to-date":
		return TransmissionUpToDate, nil
	case "snapshot":
		return TransmissionSnapshot, nil
	case "update":
		return TransmissionUpdate, nil
	case "unavailable":
		return TransmissionUnavailable, nil
	default:
		return 0, fmt.Errorf("model: unknown transmission kind %q", s)
	}
}

type transmissionWire struct {
	Kind    string       `json:"kind"`
	Version clock.Vector `json:"version,omitempty"`
	Bytes   []byte       `json:"bytes,omitempty"`
}

// MarshalJSON encodes Transmission as the tagged union spec.md §4.2
// describes: {kind, version?, bytes?}, with "unavailable" carrying no
// payload at all. Binary payloads ride in the "bytes" field, which
// encoding/json base64-encodes automatically to survive text framing;
// binary-capable transports may instead take the raw Bytes slice directly
// off the struct and skip this codec.
func (t Transmission) MarshalJSON() ([]byte, error) {
	w := transmissionWire{Kind: t.Kind.wireString()}
	if t.Kind != TransmissionUnavailable {
		w.Version = t.Version
	}
	if t.Kind == TransmissionSnapshot || t.Kind == TransmissionUpdate {
		w.Bytes = t.Bytes
	}
	return json.Marshal(w)
}

func (t *Transmission) UnmarshalJSON(data []byte) error {
	var w transmissionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := transmissionKindFromWire(w.Kind)
	if err != nil {
		return err
	}
	t.Kind = kind
	t.Version = w.Version
	t.Bytes = w.Bytes
	return nil
}
