package rpcframe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hoshiguma/safetycore/internal/proto"
)

// Writer builds a compact binary encoding in the postcard style: unsigned
// LEB128 varints for integers and lengths, raw little-endian bytes for
// floats, and plain byte values for enum tags. There is no self-describing
// schema — encoder and decoder must agree on field order, exactly as
// postcard relies on matching Rust struct definitions on both ends.
type Writer struct {
	buf []byte
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteBool(b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

// WriteVarint writes v as an unsigned LEB128 varint.
func (w *Writer) WriteVarint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) WriteFloat32(f float32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteString(s string) {
	w.WriteVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader parses a buffer written by Writer, consuming it left to right.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("rpcframe: unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("rpcframe: varint too long")
		}
	}
}

func (r *Reader) ReadFloat32() (float32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("rpcframe: unexpected end of buffer reading float32")
	}
	bits := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return math.Float32frombits(bits), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("rpcframe: unexpected end of buffer reading string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("rpcframe: unexpected end of buffer reading bytes")
	}
	b := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return b, nil
}

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// EncodeMessage serializes an RpcMessage (sequence + kind + opaque
// payload bytes, already produced by EncodeRequest/EncodeResponse) and
// COBS-frames it for transmission.
func EncodeMessage(msg proto.RpcMessage) ([]byte, error) {
	var w Writer
	w.WriteVarint(uint64(msg.Sequence))
	w.WriteByte(byte(msg.Kind))
	w.WriteBytes(msg.Payload)
	return EncodeCOBS(w.Bytes())
}

// EncodeEvent COBS-frames a single Event for the orchestrator's telemetry
// outbound link (C9), which carries bare Events rather than the
// Request/Response RPC messages used on the cooler link.
func EncodeEvent(e proto.Event) ([]byte, error) {
	var w Writer
	writeEvent(&w, e)
	return EncodeCOBS(w.Bytes())
}

// DecodeEvent reverses EncodeEvent from a complete COBS frame.
func DecodeEvent(frame []byte) (proto.Event, error) {
	raw, err := DecodeCOBS(frame)
	if err != nil {
		return proto.Event{}, err
	}
	return readEvent(NewReader(raw))
}

// DecodeMessage reverses EncodeMessage from a complete COBS frame
// (including its trailing delimiter).
func DecodeMessage(frame []byte) (proto.RpcMessage, error) {
	raw, err := DecodeCOBS(frame)
	if err != nil {
		return proto.RpcMessage{}, err
	}
	r := NewReader(raw)
	seq, err := r.ReadVarint()
	if err != nil {
		return proto.RpcMessage{}, fmt.Errorf("rpcframe: decode sequence: %w", err)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return proto.RpcMessage{}, fmt.Errorf("rpcframe: decode kind: %w", err)
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return proto.RpcMessage{}, fmt.Errorf("rpcframe: decode payload: %w", err)
	}
	return proto.RpcMessage{Sequence: uint16(seq), Kind: proto.MessageKind(kindByte), Payload: payload}, nil
}
