package llp

import (
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/logline/types"
)

func TestHandshake_RoundTrip(t *testing.T) {
	h := NewHandshake("payment-service", "host-a", "4f1c2a9e0b7d3e6f", "/var/log/payment.log")

	frame, err := EncodeHandshake(h)
	if err != nil {
		t.Fatalf("EncodeHandshake failed: %v", err)
	}

	decoded, n, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(frame) {
		t.Errorf("consumed %d of %d bytes", n, len(frame))
	}
	if decoded.Type != TypeHandshake {
		t.Fatalf("Type = %v, want handshake", decoded.Type)
	}

	got, err := UnmarshalHandshake(decoded.Payload)
	if err != nil {
		t.Fatalf("UnmarshalHandshake failed: %v", err)
	}
	if got.ServiceName != h.ServiceName || got.DeviceID != h.DeviceID ||
		got.AgentID != h.AgentID || got.FilePath != h.FilePath {
		t.Errorf("decoded = %+v, want %+v", got, h)
	}
	if got.Version != types.ProtocolVersion {
		t.Errorf("Version = %d, want %d", got.Version, types.ProtocolVersion)
	}
}

func TestHandshake_FixedFieldOrder(t *testing.T) {
	h := NewHandshake("svc", "dev", "id", "/f")
	payload, err := MarshalHandshake(h)
	if err != nil {
		t.Fatalf("MarshalHandshake failed: %v", err)
	}

	// Decoding generically must yield a positional array, not a map.
	var fields []any
	if err := msgpack.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("payload is not a msgpack array: %v", err)
	}
	want := []string{"svc", "dev", "id", "/f"}
	if len(fields) != len(want)+1 {
		t.Fatalf("fields = %d, want %d", len(fields), len(want)+1)
	}
	for i, w := range want {
		if fields[i] != w {
			t.Errorf("field %d = %v, want %q", i, fields[i], w)
		}
	}
}

func TestHandshake_Validate(t *testing.T) {
	tests := []struct {
		name string
		h    Handshake
		want string
	}{
		{"missing service", NewHandshake("", "d", "a", "/f"), "service_name"},
		{"missing device", NewHandshake("s", "", "a", "/f"), "device_id"},
		{"missing agent", NewHandshake("s", "d", "", "/f"), "agent_id"},
		{"missing path", NewHandshake("s", "d", "a", ""), "file_path"},
		{"invalid utf8", NewHandshake("s", "d\xff", "a", "/f"), "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalHandshake(tt.h)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestUnmarshalHandshake_Empty(t *testing.T) {
	if _, err := UnmarshalHandshake(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
