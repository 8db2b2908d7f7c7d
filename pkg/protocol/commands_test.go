package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(t *testing.T, msg Message) []byte {
	t.Helper()
	_, payload, err := Decode(msg.Encode())
	require.NoError(t, err)
	return payload
}

func TestConnectRequest(t *testing.T) {
	assert.Nil(t, payloadOf(t, ConnectRequest{}))

	wake := payloadOf(t, ConnectRequest{WakeMAC: "AABBCCDDEEFF"})
	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(wake, &decoded))
	info := decoded["cameraInfo"]
	assert.Equal(t, "AABBCCDDEEFF", info["mac"])
	assert.Equal(t, float64(0), info["encFlag"])
	assert.Equal(t, float64(1), info["wakeupFlag"])
}

func TestConnectAuthPayload(t *testing.T) {
	challenge := make([]byte, 16)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	msg := ConnectAuth{
		ChallengeResponse: challenge,
		MAC:               "AABBCCDDEEFF",
		OpenVideo:         true,
		OpenAudio:         false,
	}
	payload := payloadOf(t, msg)
	require.Len(t, payload, 22)
	assert.Equal(t, challenge, payload[0:16])
	assert.Equal(t, []byte("AABB"), payload[16:20])
	assert.Equal(t, byte(1), payload[20])
	assert.Equal(t, byte(0), payload[21])
	assert.Equal(t, uint16(10003), msg.ResponseCode())
}

func TestConnectAuthShortMAC(t *testing.T) {
	payload := payloadOf(t, ConnectAuth{ChallengeResponse: make([]byte, 16), MAC: "AB"})
	assert.Equal(t, []byte("AB12"), payload[16:20])
}

func TestConnectUserAuthPayload(t *testing.T) {
	challenge := make([]byte, 16)
	msg := ConnectUserAuth{
		ChallengeResponse: challenge,
		PhoneID:           "phone-id-123",
		OpenUserID:        "open-user",
		OpenVideo:         true,
		OpenAudio:         true,
	}
	payload := payloadOf(t, msg)
	require.Len(t, payload, 16+4+2+1+len("open-user"))
	assert.Equal(t, []byte("phon"), payload[16:20])
	assert.Equal(t, byte(1), payload[20])
	assert.Equal(t, byte(1), payload[21])
	assert.Equal(t, byte(len("open-user")), payload[22])
	assert.Equal(t, []byte("open-user"), payload[23:])
	assert.Equal(t, uint16(10009), msg.ResponseCode())
}

func TestCheckCameraInfoPayload(t *testing.T) {
	payload := payloadOf(t, CheckCameraInfo{})
	require.Len(t, payload, 51)
	assert.Equal(t, byte(50), payload[0])
	assert.Equal(t, byte(1), payload[1])
	assert.Equal(t, byte(50), payload[50])
}

func TestCheckCameraParamsPayload(t *testing.T) {
	payload := payloadOf(t, CheckCameraParams{ParamIDs: []byte{1, 3, 5}})
	assert.Equal(t, []byte{3, 1, 3, 5}, payload)
}

func TestSetResolvingPayload(t *testing.T) {
	msg := SetResolving{FrameSize: FrameSizeHD, Bitrate: 120, FPS: 0}
	assert.Equal(t, []byte{1, 120, 0}, payloadOf(t, msg))

	ok, err := msg.ParseResponse([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, true, ok)

	notOK, err := msg.ParseResponse([]byte{0x00})
	require.NoError(t, err)
	assert.Equal(t, false, notOK)
}

func TestDBSetResolvingPayload(t *testing.T) {
	msg := DBSetResolving{FrameSize: FrameSizeSD, Bitrate: 60, FPS: 15}
	assert.Equal(t, []byte{60, 0, 2, 15, 0, 0}, payloadOf(t, msg))
	assert.Equal(t, uint16(10053), msg.ResponseCode())
}

func TestStartBoaPayload(t *testing.T) {
	assert.Equal(t, []byte{0, 1, 0, 0, 0}, payloadOf(t, StartBoa{}))
}

func TestGetSetPairs(t *testing.T) {
	get := Get{Cmd: 10040}
	assert.Equal(t, uint16(10041), get.ResponseCode())
	assert.Nil(t, payloadOf(t, get))

	set := Set{Cmd: 10042, Params: []byte{1}}
	assert.Equal(t, uint16(10043), set.ResponseCode())
	assert.Equal(t, []byte{1}, payloadOf(t, set))
}

func TestSetRotaryByDegreePayload(t *testing.T) {
	msg := SetRotaryByDegree{Horizontal: -90, Vertical: 0}
	payload := payloadOf(t, msg)
	require.Len(t, payload, 6)
	// -90 little-endian int16
	assert.Equal(t, []byte{0xA6, 0xFF}, payload[0:2])
	assert.Equal(t, []byte{0, 0}, payload[2:4])
}

func TestGetCruisePointsParse(t *testing.T) {
	// Count byte, then 4-byte entries: blank, vertical, horizontal, speed.
	data := []byte{
		2,
		0, 10, 20, 0,
		0, 30, 40, 0,
	}
	res, err := GetCruisePoints{}.ParseResponse(data)
	require.NoError(t, err)
	points := res.([]CruisePoint)
	require.Len(t, points, 2)
	assert.Equal(t, CruisePoint{Vertical: 10, Horizontal: 20}, points[0])
	assert.Equal(t, CruisePoint{Vertical: 30, Horizontal: 40}, points[1])
}

func TestSetPTZPositionPayload(t *testing.T) {
	payload := payloadOf(t, SetPTZPosition{Vertical: 10, Horizontal: 300})
	require.Len(t, payload, 3)
	assert.Equal(t, byte(10), payload[0])
	assert.Equal(t, []byte{0x2C, 0x01}, payload[1:3])
}

func TestCatalogResponseCodeConvention(t *testing.T) {
	msgs := []Message{
		ConnectRequest{}, ConnectAuth{ChallengeResponse: make([]byte, 16)},
		ConnectUserAuth{ChallengeResponse: make([]byte, 16)}, ControlChannel{},
		CheckCameraInfo{}, GetVideoParam{}, SetResolving{}, DBSetResolving{},
		TakePhoto{}, StartBoa{}, CheckNight{}, GetSpotlightStatus{},
		SetRotaryByDegree{}, SetRotaryByAction{}, ResetRotatePosition{},
		GetCruisePoints{}, SetPTZPosition{},
	}
	for _, msg := range msgs {
		assert.Equal(t, msg.Code()%2, uint16(0), "request codes are even: %d", msg.Code())
		assert.Equal(t, msg.Code()+1, msg.ResponseCode(), "response is request+1: %d", msg.Code())
	}
}
