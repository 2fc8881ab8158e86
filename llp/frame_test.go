package llp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncode_Layout(t *testing.T) {
	buf, err := Encode(TypeLogData, []byte("hello\n"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(buf) != HeaderSize+6 {
		t.Fatalf("len = %d, want %d", len(buf), HeaderSize+6)
	}
	if got := binary.BigEndian.Uint32(buf[:4]); got != 6 {
		t.Errorf("length prefix = %d, want 6 (payload only)", got)
	}
	if buf[4] != 0x02 {
		t.Errorf("type byte = 0x%02x, want 0x02", buf[4])
	}
	if string(buf[HeaderSize:]) != "hello\n" {
		t.Errorf("payload = %q", buf[HeaderSize:])
	}
}

func TestEncode_KeepaliveEmpty(t *testing.T) {
	buf, err := Encode(TypeKeepalive, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0, 0, 0, 0, 0xFF}
	if !bytes.Equal(buf, want) {
		t.Errorf("keepalive = %x, want %x", buf, want)
	}
}

func TestEncode_RejectsOversize(t *testing.T) {
	_, err := Encode(TypeLogData, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	// Exactly at the limit is fine.
	if _, err := Encode(TypeLogData, make([]byte, MaxPayloadSize)); err != nil {
		t.Fatalf("payload at limit rejected: %v", err)
	}
}

func TestEncode_RejectsUnknownType(t *testing.T) {
	_, err := Encode(FrameType(0x7E), []byte("x"))
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorUnknownType {
		t.Fatalf("expected FrameErrorUnknownType, got %v", err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     FrameType
		payload []byte
	}{
		{"handshake", TypeHandshake, []byte{0x94, 0xa1, 'a'}},
		{"log data", TypeLogData, []byte("2026-10-19 INFO started\n")},
		{"empty log data", TypeLogData, []byte{}},
		{"binary log data", TypeLogData, []byte{0x00, 0xff, 0x10, '\n'}},
		{"keepalive", TypeKeepalive, []byte{}},
		{"max payload", TypeLogData, bytes.Repeat([]byte{'x'}, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.typ, tt.payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			frame, n, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != len(buf) {
				t.Errorf("consumed = %d, want %d", n, len(buf))
			}
			if frame.Type != tt.typ {
				t.Errorf("Type = %v, want %v", frame.Type, tt.typ)
			}
			if frame.Length != uint32(len(tt.payload)) {
				t.Errorf("Length = %d, want %d", frame.Length, len(tt.payload))
			}
			if !bytes.Equal(frame.Payload, tt.payload) {
				t.Error("payload mismatch")
			}
		})
	}
}

func TestDecode_NeedMoreBytes(t *testing.T) {
	buf, _ := Encode(TypeLogData, []byte("abcdef"))

	for i := 0; i < len(buf); i++ {
		_, n, err := Decode(buf[:i])
		if !errors.Is(err, ErrNeedMoreBytes) {
			t.Fatalf("prefix len %d: expected ErrNeedMoreBytes, got %v", i, err)
		}
		if n != 0 {
			t.Fatalf("prefix len %d: consumed %d bytes on incomplete frame", i, n)
		}
	}
}

func TestDecode_Incremental(t *testing.T) {
	var stream []byte
	for _, p := range []string{"one\n", "two\n", "three\n"} {
		stream, _ = AppendFrame(stream, TypeLogData, []byte(p))
	}
	stream, _ = AppendFrame(stream, TypeKeepalive, nil)

	// Feed one byte at a time, decoding whenever possible.
	var pending []byte
	var got []Frame
	for _, b := range stream {
		pending = append(pending, b)
		for {
			frame, n, err := Decode(pending)
			if errors.Is(err, ErrNeedMoreBytes) {
				break
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			frame.Payload = append([]byte(nil), frame.Payload...)
			got = append(got, frame)
			pending = pending[n:]
		}
	}

	if len(got) != 4 {
		t.Fatalf("decoded %d frames, want 4", len(got))
	}
	if string(got[2].Payload) != "three\n" {
		t.Errorf("frame 2 payload = %q", got[2].Payload)
	}
	if got[3].Type != TypeKeepalive {
		t.Errorf("frame 3 type = %v, want keepalive", got[3].Type)
	}
	if len(pending) != 0 {
		t.Errorf("%d bytes left over", len(pending))
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		buf := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(buf, MaxPayloadSize+1)
		buf[4] = byte(TypeLogData)
		_, _, err := Decode(buf)
		if !IsMalformed(err) {
			t.Fatalf("expected malformed error, got %v", err)
		}
		var frameErr *FrameError
		if errors.As(err, &frameErr) && frameErr.Kind != FrameErrorTooLarge {
			t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		buf := []byte{0, 0, 0, 1, 0x03, 'x'}
		_, _, err := Decode(buf)
		if !IsMalformed(err) {
			t.Fatalf("expected malformed error, got %v", err)
		}
	})

	t.Run("unknown type detected before payload arrives", func(t *testing.T) {
		buf := []byte{0, 0, 0, 9, 0x42}
		_, _, err := Decode(buf)
		if !IsMalformed(err) {
			t.Fatalf("expected malformed error, got %v", err)
		}
	})
}

func TestFrameDecoder_Stream(t *testing.T) {
	var stream bytes.Buffer
	if _, err := WriteFrame(&stream, TypeHandshake, []byte{0x90}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := WriteFrame(&stream, TypeKeepalive, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	dec := NewFrameDecoder(&stream)

	f1, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1 failed: %v", err)
	}
	if f1.Type != TypeHandshake || f1.Length != 1 {
		t.Errorf("frame 1 = %+v", f1)
	}

	f2, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2 failed: %v", err)
	}
	if f2.Type != TypeKeepalive || len(f2.Payload) != 0 {
		t.Errorf("frame 2 = %+v", f2)
	}

	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF at clean end, got %v", err)
	}
}

func TestFrameDecoder_PartialFrame(t *testing.T) {
	buf, _ := Encode(TypeLogData, []byte("truncated payload"))
	dec := NewFrameDecoder(bytes.NewReader(buf[:len(buf)-3]))

	_, err := dec.ReadFrame()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
	if IsMalformed(err) {
		t.Error("partial frame must not be classified as malformed")
	}
}

func TestFrameDecoder_RejectsOversizeWithoutAllocating(t *testing.T) {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, 0xFFFFFFFF)
	header[4] = byte(TypeLogData)

	_, err := NewFrameDecoder(bytes.NewReader(header)).ReadFrame()
	if !IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestFrameType_String(t *testing.T) {
	if TypeLogData.String() != "log_data" {
		t.Errorf("String() = %q", TypeLogData.String())
	}
	if FrameType(0x10).String() != "unknown(0x10)" {
		t.Errorf("String() = %q", FrameType(0x10).String())
	}
}
