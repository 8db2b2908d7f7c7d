package tutk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthKey(t *testing.T) {
	key := AuthKey("0123456789abcdef", "aabbccddeeff")
	assert.Len(t, key, 8)
	// Deterministic and case-normalized on the mac.
	assert.Equal(t, key, AuthKey("0123456789abcdef", "AABBCCDDEEFF"))
	// Only base64 alphabet minus the substituted specials.
	for _, b := range key {
		assert.NotContains(t, []byte{'+', '/', '='}, b)
	}
	// Different inputs give different keys.
	assert.NotEqual(t, key, AuthKey("0123456789abcdeX", "aabbccddeeff"))
}

func TestParseFrameInfoStandard(t *testing.T) {
	buf := make([]byte, frameInfoSize)
	binary.LittleEndian.PutUint16(buf[0:2], 80) // h265
	buf[2] = 1                                  // keyframe
	buf[5] = 20                                 // framerate
	buf[6] = 0                                  // frame size HD
	buf[7] = 120                                // bitrate
	binary.LittleEndian.PutUint32(buf[8:12], 500)
	binary.LittleEndian.PutUint32(buf[12:16], 1700000000)
	binary.LittleEndian.PutUint32(buf[16:20], 65536)
	binary.LittleEndian.PutUint32(buf[20:24], 42)

	info, err := parseFrameInfo(buf, frameInfoSize)
	require.NoError(t, err)
	assert.Equal(t, uint16(80), info.CodecID)
	assert.True(t, info.IsH265())
	assert.Equal(t, "hevc", info.CodecName())
	assert.True(t, info.IsKeyframe)
	assert.Equal(t, uint8(20), info.Framerate)
	assert.Equal(t, uint32(42), info.FrameNo)
	assert.Equal(t, uint32(65536), info.FrameLen)
	assert.False(t, info.Extended)
}

func TestParseFrameInfoExtended(t *testing.T) {
	buf := make([]byte, frameInfo3Size)
	binary.LittleEndian.PutUint16(buf[0:2], 78)
	binary.LittleEndian.PutUint16(buf[40:42], 100)
	binary.LittleEndian.PutUint16(buf[42:44], 200)
	binary.LittleEndian.PutUint16(buf[44:46], 50)
	binary.LittleEndian.PutUint16(buf[46:48], 60)

	info, err := parseFrameInfo(buf, frameInfo3Size)
	require.NoError(t, err)
	assert.Equal(t, "h264", info.CodecName())
	assert.True(t, info.Extended)
	assert.Equal(t, uint16(100), info.FacePosX)
	assert.Equal(t, uint16(200), info.FacePosY)
	assert.Equal(t, uint16(50), info.FaceWidth)
	assert.Equal(t, uint16(60), info.FaceHeight)
}

func TestParseFrameInfoUnknownLength(t *testing.T) {
	_, err := parseFrameInfo(make([]byte, 64), 64)
	assert.Error(t, err)
}

func TestParseSessionInfo(t *testing.T) {
	buf := make([]byte, 256)
	binary.LittleEndian.PutUint32(buf[0:4], sessionInfoSize)
	buf[4] = ModeLAN
	copy(buf[6:], "UIDVALUE\x00")
	copy(buf[27:], "192.168.1.50\x00")
	binary.LittleEndian.PutUint16(buf[74:76], 32761)
	binary.LittleEndian.PutUint32(buf[100:104], 0xDEAD)
	copy(buf[104:], "203.0.113.9\x00")
	binary.LittleEndian.PutUint16(buf[152:154], 4567)
	buf[154] = 1

	info, err := parseSessionInfo(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(ModeLAN), info.Mode)
	assert.Equal(t, "LAN", info.ModeName())
	assert.Equal(t, "UIDVALUE", info.UID)
	assert.Equal(t, "192.168.1.50", info.RemoteIP)
	assert.Equal(t, uint16(32761), info.RemotePort)
	assert.Equal(t, uint32(0xDEAD), info.NetState)
	assert.Equal(t, "203.0.113.9", info.RemoteWANIP)
	assert.Equal(t, uint16(4567), info.RemoteWANPort)
	assert.True(t, info.IsNebula)
}

func TestErrorNames(t *testing.T) {
	assert.Equal(t, "IOTC_ER_DEVICE_OFFLINE", (&Error{Code: -90}).Error())
	assert.Equal(t, "AV_ER_DATA_NOREADY", (&Error{Code: AVErrDataNoReady}).Error())
	assert.Equal(t, "tutk error -12345", (&Error{Code: -12345}).Error())
}

func TestNewError(t *testing.T) {
	assert.Nil(t, NewError(0))
	assert.Nil(t, NewError(5))
	require.Error(t, NewError(-90))
}

func TestErrCode(t *testing.T) {
	base := NewError(-68)
	wrapped := fmt.Errorf("connect: %w", base)
	assert.Equal(t, int32(-68), ErrCode(wrapped))
	assert.Equal(t, int32(0), ErrCode(errors.New("plain")))
	assert.Equal(t, int32(0), ErrCode(nil))
}
