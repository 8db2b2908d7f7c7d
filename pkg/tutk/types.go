package tutk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Connection modes reported by SessionInfo.Mode.
const (
	ModeP2P   = 0
	ModeRelay = 1
	ModeLAN   = 2
)

// Video codec ids reported in frame headers.
const (
	CodecH264Legacy = 75
	CodecH264       = 78
	CodecH265       = 80
)

// IOTypeUserDefinedStart is the ctrl type used for every bridge message.
const IOTypeUserDefinedStart = 256

// SessionInfo is the diagnostic state of an established IOTC session,
// decoded from the vendor's IOTC_Session_Check_Ex output struct.
type SessionInfo struct {
	Mode          uint8
	UID           string
	RemoteIP      string
	RemotePort    uint16
	TxPacketCount uint32
	RxPacketCount uint32
	IOTCVersion   uint32
	VendorID      uint16
	ProductID     uint16
	GroupID       uint16
	IsSecure      bool
	LocalNATType  uint8
	RemoteNATType uint8
	RelayType     uint8
	// NetState is carried opaquely; only its printable value is used.
	NetState      uint32
	RemoteWANIP   string
	RemoteWANPort uint16
	IsNebula      bool
}

// ModeName returns the printable connection mode.
func (s SessionInfo) ModeName() string {
	switch s.Mode {
	case ModeP2P:
		return "P2P"
	case ModeRelay:
		return "RELAY"
	case ModeLAN:
		return "LAN"
	default:
		return fmt.Sprintf("UNKNOWN (%d)", s.Mode)
	}
}

// Native struct offsets for SInfoStructEx (natural alignment).
const sessionInfoSize = 156

func parseSessionInfo(buf []byte) (SessionInfo, error) {
	var s SessionInfo
	if len(buf) < sessionInfoSize {
		return s, fmt.Errorf("session info struct too short: %d bytes", len(buf))
	}
	s.Mode = buf[4]
	s.UID = cString(buf[6:27])
	s.RemoteIP = cString(buf[27:74])
	s.RemotePort = binary.LittleEndian.Uint16(buf[74:76])
	s.TxPacketCount = binary.LittleEndian.Uint32(buf[76:80])
	s.RxPacketCount = binary.LittleEndian.Uint32(buf[80:84])
	s.IOTCVersion = binary.LittleEndian.Uint32(buf[84:88])
	s.VendorID = binary.LittleEndian.Uint16(buf[88:90])
	s.ProductID = binary.LittleEndian.Uint16(buf[90:92])
	s.GroupID = binary.LittleEndian.Uint16(buf[92:94])
	s.IsSecure = buf[94] == 1
	s.LocalNATType = buf[95]
	s.RemoteNATType = buf[96]
	s.RelayType = buf[97]
	s.NetState = binary.LittleEndian.Uint32(buf[100:104])
	s.RemoteWANIP = cString(buf[104:151])
	s.RemoteWANPort = binary.LittleEndian.Uint16(buf[152:154])
	s.IsNebula = buf[154] == 1
	return s, nil
}

// FrameInfo is the per-frame metadata struct delivered with every video
// frame. Two wire layouts exist; the extended one appends a face
// detection region and is distinguished by the reported struct length.
type FrameInfo struct {
	CodecID    uint16
	IsKeyframe bool
	CamIndex   uint8
	OnlineNum  uint8
	Framerate  uint8
	FrameSize  uint8
	Bitrate    uint8
	// Timestamp is seconds since epoch; TimestampMS its ms component.
	TimestampMS uint32
	Timestamp   uint32
	FrameLen    uint32
	FrameNo     uint32

	// Face detection region, extended layout only.
	Extended   bool
	FacePosX   uint16
	FacePosY   uint16
	FaceWidth  uint16
	FaceHeight uint16
}

// IsH265 reports whether the negotiated codec is H.265.
func (f FrameInfo) IsH265() bool { return f.CodecID == CodecH265 }

// CodecName returns the ffmpeg demuxer name for the frame's codec.
func (f FrameInfo) CodecName() string {
	switch f.CodecID {
	case CodecH264Legacy, CodecH264:
		return "h264"
	case CodecH265:
		return "hevc"
	default:
		return "h264"
	}
}

const (
	frameInfoSize  = 40
	frameInfo3Size = 48
)

func parseFrameInfo(buf []byte, actualLen int) (FrameInfo, error) {
	var f FrameInfo
	if actualLen != frameInfoSize && actualLen != frameInfo3Size {
		return f, fmt.Errorf("unknown frame info struct length %d", actualLen)
	}
	f.CodecID = binary.LittleEndian.Uint16(buf[0:2])
	f.IsKeyframe = buf[2] == 1
	f.CamIndex = buf[3]
	f.OnlineNum = buf[4]
	f.Framerate = buf[5]
	f.FrameSize = buf[6]
	f.Bitrate = buf[7]
	f.TimestampMS = binary.LittleEndian.Uint32(buf[8:12])
	f.Timestamp = binary.LittleEndian.Uint32(buf[12:16])
	f.FrameLen = binary.LittleEndian.Uint32(buf[16:20])
	f.FrameNo = binary.LittleEndian.Uint32(buf[20:24])
	if actualLen == frameInfo3Size {
		f.Extended = true
		f.FacePosX = binary.LittleEndian.Uint16(buf[40:42])
		f.FacePosY = binary.LittleEndian.Uint16(buf[42:44])
		f.FaceWidth = binary.LittleEndian.Uint16(buf[44:46])
		f.FaceHeight = binary.LittleEndian.Uint16(buf[46:48])
	}
	return f, nil
}

func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}
