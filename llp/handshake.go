package llp

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/logline/types"
)

// Handshake is the identity record sent once at the start of every connection.
//
// Encoded as a msgpack array in fixed field order: each string is a
// length-prefixed UTF-8 field, so the record is compact and self-describing.
// The protocol version trails the four identity fields.
type Handshake struct {
	_msgpack struct{} `msgpack:",as_array"`

	ServiceName string `msgpack:"service_name"`
	DeviceID    string `msgpack:"device_id"`
	AgentID     string `msgpack:"agent_id"`
	FilePath    string `msgpack:"file_path"`
	Version     uint8  `msgpack:"version"`
}

// NewHandshake creates a handshake record at the current protocol version.
func NewHandshake(serviceName, deviceID, agentID, filePath string) Handshake {
	return Handshake{
		ServiceName: serviceName,
		DeviceID:    deviceID,
		AgentID:     agentID,
		FilePath:    filePath,
		Version:     types.ProtocolVersion,
	}
}

// Validate checks that all identity fields are present and valid UTF-8.
func (h Handshake) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"service_name", h.ServiceName},
		{"device_id", h.DeviceID},
		{"agent_id", h.AgentID},
		{"file_path", h.FilePath},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("handshake %s must be non-empty", f.name)
		}
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("handshake %s is not valid UTF-8", f.name)
		}
	}
	return nil
}

// MarshalHandshake encodes the handshake record into a frame payload.
func MarshalHandshake(h Handshake) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	payload, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return payload, nil
}

// EncodeHandshake returns the complete Handshake frame.
func EncodeHandshake(h Handshake) ([]byte, error) {
	payload, err := MarshalHandshake(h)
	if err != nil {
		return nil, err
	}
	return Encode(TypeHandshake, payload)
}

// UnmarshalHandshake decodes a Handshake frame payload.
func UnmarshalHandshake(payload []byte) (Handshake, error) {
	var h Handshake
	if len(payload) == 0 {
		return h, errors.New("decode handshake: empty payload")
	}
	if err := msgpack.Unmarshal(payload, &h); err != nil {
		return h, fmt.Errorf("decode handshake: %w", err)
	}
	return h, nil
}
