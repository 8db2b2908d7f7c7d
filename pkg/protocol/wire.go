// Package protocol implements the 16-byte framed control protocol spoken
// over the AV channel's IO-control sideband, together with the command
// catalog and the connect challenge handshake.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// HeaderLen is the fixed size of the control message header.
const HeaderLen = 16

// ProtocolVersion is the version the client stamps on outgoing messages.
// Cameras reply with their own version, which varies by firmware.
const ProtocolVersion = 1

var prefix = [2]byte{'H', 'L'}

// ErrProtocol wraps control-channel framing failures.
type ErrProtocol struct {
	Reason string
}

func (e *ErrProtocol) Error() string {
	return "protocol error: " + e.Reason
}

// Header is the first 16 bytes of every control message, little-endian.
type Header struct {
	Prefix     [2]byte
	Protocol   uint16
	Code       uint16
	PayloadLen uint16
}

// Encode frames a command code and payload into a wire message.
func Encode(code uint16, payload []byte) []byte {
	msg := make([]byte, HeaderLen+len(payload))
	msg[0] = prefix[0]
	msg[1] = prefix[1]
	binary.LittleEndian.PutUint16(msg[2:4], ProtocolVersion)
	binary.LittleEndian.PutUint16(msg[4:6], code)
	binary.LittleEndian.PutUint16(msg[6:8], uint16(len(payload)))
	copy(msg[HeaderLen:], payload)
	return msg
}

// Decode splits a wire message into its header and payload. It fails if
// the buffer is short, the prefix is wrong, or the encoded length does
// not match the buffer size.
func Decode(buf []byte) (Header, []byte, error) {
	var h Header
	if len(buf) < HeaderLen {
		return h, nil, &ErrProtocol{Reason: "message too short"}
	}
	h.Prefix[0] = buf[0]
	h.Prefix[1] = buf[1]
	if h.Prefix != prefix {
		return h, nil, &ErrProtocol{Reason: "bad prefix (expected 'HL')"}
	}
	h.Protocol = binary.LittleEndian.Uint16(buf[2:4])
	h.Code = binary.LittleEndian.Uint16(buf[4:6])
	h.PayloadLen = binary.LittleEndian.Uint16(buf[6:8])
	if int(h.PayloadLen)+HeaderLen != len(buf) {
		return h, nil, &ErrProtocol{
			Reason: fmt.Sprintf("length mismatch (header says %d, got %d)",
				int(h.PayloadLen)+HeaderLen, len(buf)),
		}
	}
	var payload []byte
	if h.PayloadLen > 0 {
		payload = buf[HeaderLen : HeaderLen+int(h.PayloadLen)]
	}
	return h, payload, nil
}

// Message is a command sent from the client to the camera. By convention
// request codes are even; the camera's response is the request code plus
// one. A ResponseCode of zero means no response is expected.
type Message interface {
	Code() uint16
	ResponseCode() uint16
	Encode() []byte
	ParseResponse(data []byte) (any, error)
}

// rawResponse passes the camera's bytes through untouched.
func rawResponse(data []byte) (any, error) {
	return data, nil
}

// jsonResponse decodes a JSON object payload.
func jsonResponse(data []byte) (any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response json: %w", err)
	}
	return out, nil
}

// ackResponse reports whether the camera acknowledged with a 0x01 byte.
func ackResponse(data []byte) (any, error) {
	return len(data) == 1 && data[0] == 0x01, nil
}
