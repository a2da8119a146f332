// Package rpcframe implements the wire framing used by the serial RPC
// link (C8): Consistent Overhead Byte Stuffing (COBS) to remove embedded
// zero bytes from a message, followed by a single trailing 0x00
// delimiter, matching koishi/firmware/src/reporting/postcard.rs's
// `postcard::to_vec_cobs` plus framed_controller_protocol's on-wire byte
// stream. No COBS implementation exists anywhere in the example corpus,
// so this file and codec.go are a justified stdlib-only exception (see
// DESIGN.md).
package rpcframe

import "fmt"

const maxPayloadSize = 200

// ErrPayloadTooLarge is returned by EncodeCOBS when data exceeds the link's
// 200-byte payload limit (spec.md §5).
var ErrPayloadTooLarge = fmt.Errorf("rpcframe: payload exceeds %d bytes", maxPayloadSize)

// EncodeCOBS applies Consistent Overhead Byte Stuffing to data and appends
// the trailing 0x00 frame delimiter. The returned slice never contains an
// embedded zero except the final delimiter byte.
func EncodeCOBS(data []byte) ([]byte, error) {
	if len(data) > maxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, 0, len(data)+len(data)/254+2)
	codeIdx := len(out)
	out = append(out, 0) // placeholder for the first code byte
	code := byte(1)

	for _, b := range data {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0) // placeholder for next code byte
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	out = append(out, 0x00) // frame delimiter
	return out, nil
}

// DecodeCOBS reverses EncodeCOBS. frame must include the trailing 0x00
// delimiter; it is consumed and not included in the returned payload.
func DecodeCOBS(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[len(frame)-1] != 0x00 {
		return nil, fmt.Errorf("rpcframe: frame missing trailing delimiter")
	}
	encoded := frame[:len(frame)-1]

	out := make([]byte, 0, len(encoded))
	i := 0
	for i < len(encoded) {
		code := encoded[i]
		if code == 0 {
			return nil, fmt.Errorf("rpcframe: unexpected zero byte in encoded data at offset %d", i)
		}
		i++
		end := i + int(code) - 1
		if end > len(encoded) {
			return nil, fmt.Errorf("rpcframe: truncated COBS block at offset %d", i)
		}
		out = append(out, encoded[i:end]...)
		i = end
		if code != 0xFF && i < len(encoded) {
			out = append(out, 0)
		}
	}
	return out, nil
}
