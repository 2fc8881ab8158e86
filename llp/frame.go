// Package llp implements the Logline Protocol (LLP) frame codec.
//
// Frame layout, all integers big-endian:
//
//	Frame := Length(u32) Type(u8) Payload(bytes[Length])
//
// Length counts payload bytes only; the 5-byte header is excluded.
// The codec is pure: no I/O beyond the optional stream reader, no state.
package llp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// LengthPrefixSize is the size of the length field in bytes.
	LengthPrefixSize = 4
	// HeaderSize is the fixed frame header size (length + type).
	HeaderSize = LengthPrefixSize + 1
	// MaxPayloadSize is the largest payload the codec encodes or accepts (1 MiB).
	MaxPayloadSize = 1 << 20
)

// FrameType discriminates frame payload semantics.
type FrameType uint8

// Frame types.
const (
	// TypeHandshake carries the agent identity record. Sent once per connection.
	TypeHandshake FrameType = 0x01
	// TypeLogData carries raw bytes exactly as read from the monitored file.
	TypeLogData FrameType = 0x02
	// TypeKeepalive has an empty payload and signals liveness.
	TypeKeepalive FrameType = 0xFF
)

// Valid reports whether t is a known frame type.
func (t FrameType) Valid() bool {
	switch t {
	case TypeHandshake, TypeLogData, TypeKeepalive:
		return true
	}
	return false
}

func (t FrameType) String() string {
	switch t {
	case TypeHandshake:
		return "handshake"
	case TypeLogData:
		return "log_data"
	case TypeKeepalive:
		return "keepalive"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Frame is one decoded protocol unit.
type Frame struct {
	// Length is the payload byte count as carried on the wire.
	Length uint32
	// Type is the frame type.
	Type FrameType
	// Payload is the frame body. Len(Payload) == Length.
	Payload []byte
}

// Size returns the encoded size of the frame including the header.
func (f Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// ErrNeedMoreBytes is returned by Decode when the buffer holds an incomplete frame.
// It is not a failure: callers append more input and retry.
var ErrNeedMoreBytes = errors.New("llp: incomplete frame")

// ErrPayloadTooLarge is returned by Encode when the payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = fmt.Errorf("llp: payload exceeds maximum of %d bytes", MaxPayloadSize)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the stream ended mid-frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a declared length beyond MaxPayloadSize.
	FrameErrorTooLarge
	// FrameErrorUnknownType indicates an unrecognized type byte.
	FrameErrorUnknownType
)

// FrameError represents a malformed frame.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsMalformed returns true if err is a FrameError of kind TooLarge or UnknownType.
// Malformed input cannot be resynchronized; the connection must be dropped.
func IsMalformed(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorTooLarge || frameErr.Kind == FrameErrorUnknownType
	}
	return false
}

// Encode produces the wire form of a single frame.
// Returns ErrPayloadTooLarge if payload exceeds MaxPayloadSize; callers split
// large reads with Split before framing.
func Encode(t FrameType, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), t, payload)
}

// AppendFrame appends the wire form of a frame to dst.
func AppendFrame(dst []byte, t FrameType, payload []byte) ([]byte, error) {
	if !t.Valid() {
		return dst, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("cannot encode frame type 0x%02x", uint8(t)),
		}
	}
	if len(payload) > MaxPayloadSize {
		return dst, ErrPayloadTooLarge
	}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:LengthPrefixSize], uint32(len(payload)))
	header[LengthPrefixSize] = byte(t)
	dst = append(dst, header[:]...)
	dst = append(dst, payload...)
	return dst, nil
}

// Decode reads exactly one frame from the front of buf.
// Returns the frame and the number of bytes consumed.
//
// Errors:
//   - ErrNeedMoreBytes: header or payload incomplete (retry with more input)
//   - *FrameError with Kind=FrameErrorTooLarge: declared length over the limit
//   - *FrameError with Kind=FrameErrorUnknownType: unrecognized type byte
//
// The returned payload aliases buf.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrNeedMoreBytes
	}
	length := binary.BigEndian.Uint32(buf[:LengthPrefixSize])
	if length > MaxPayloadSize {
		return Frame{}, 0, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", length, MaxPayloadSize),
		}
	}
	t := FrameType(buf[LengthPrefixSize])
	if !t.Valid() {
		return Frame{}, 0, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unknown frame type 0x%02x", uint8(t)),
		}
	}
	total := HeaderSize + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreBytes
	}
	return Frame{
		Length:  length,
		Type:    t,
		Payload: buf[HeaderSize:total:total],
	}, total, nil
}

// FrameDecoder decodes frames from a byte stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame blocks until one complete frame is read.
//
// Errors:
//   - io.EOF: stream ended cleanly on a frame boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended mid-frame
//   - *FrameError with Kind=FrameErrorTooLarge or FrameErrorUnknownType: malformed
func (d *FrameDecoder) ReadFrame() (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(d.reader, header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read frame header",
			Err:  err,
		}
	}

	// Validate the header before allocating the payload.
	if _, _, err := Decode(header[:]); err != nil && !errors.Is(err, ErrNeedMoreBytes) {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[:LengthPrefixSize])
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return Frame{
		Length:  length,
		Type:    FrameType(header[LengthPrefixSize]),
		Payload: payload,
	}, nil
}

// WriteFrame encodes a frame and writes it with a single Write call.
func WriteFrame(w io.Writer, t FrameType, payload []byte) (int, error) {
	buf, err := Encode(t, payload)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}
