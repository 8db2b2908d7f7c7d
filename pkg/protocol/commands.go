package protocol

import (
	"encoding/binary"
	"encoding/json"
)

// Frame size and bitrate constants, as used by the resolving commands.
const (
	FrameSizeHD         = 0 // 1920x1080 (or 2560x1440 on 2K models)
	FrameSizeSD         = 1 // 640x360
	FrameSizeDoorbellHD = 3 // portrait 1296x1728
	FrameSizeDoorbellSD = 4 // portrait 480x640

	Bitrate360P = 0x1E // 30 KB/s
	BitrateSD   = 0x3C // 60 KB/s
	BitrateHD   = 0x78 // 120 KB/s
)

// ConnectRequest (10000) opens the authentication handshake. The camera
// replies on 10001 with sixteen challenge bytes. A non-empty WakeMAC
// produces the JSON wake payload used for battery cameras.
type ConnectRequest struct {
	WakeMAC string
}

func (ConnectRequest) Code() uint16         { return 10000 }
func (ConnectRequest) ResponseCode() uint16 { return 10001 }

func (m ConnectRequest) Encode() []byte {
	if m.WakeMAC == "" {
		return Encode(m.Code(), nil)
	}
	wake, _ := json.Marshal(map[string]any{
		"cameraInfo": map[string]any{
			"mac":        m.WakeMAC,
			"encFlag":    0,
			"wakeupFlag": 1,
		},
	})
	return Encode(m.Code(), wake)
}

func (ConnectRequest) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// ConnectAuth (10002) is the legacy challenge response, identified by the
// first four characters of the camera MAC. Replaced by ConnectUserAuth on
// newer firmwares but still required for older ones.
type ConnectAuth struct {
	ChallengeResponse []byte
	MAC               string
	OpenVideo         bool
	OpenAudio         bool
}

func (ConnectAuth) Code() uint16         { return 10002 }
func (ConnectAuth) ResponseCode() uint16 { return 10003 }

func (m ConnectAuth) Encode() []byte {
	username := m.MAC
	if len(username) < 4 {
		username += "1234"
	}
	payload := make([]byte, 22)
	copy(payload[0:16], m.ChallengeResponse)
	copy(payload[16:20], username[:4])
	payload[20] = boolByte(m.OpenVideo)
	payload[21] = boolByte(m.OpenAudio)
	return Encode(m.Code(), payload)
}

func (ConnectAuth) ParseResponse(data []byte) (any, error) { return jsonResponse(data) }

// ConnectUserAuth (10008) is the current challenge response, carrying the
// account's open user id in addition to the signed challenge.
type ConnectUserAuth struct {
	ChallengeResponse []byte
	PhoneID           string
	OpenUserID        string
	OpenVideo         bool
	OpenAudio         bool
}

func (ConnectUserAuth) Code() uint16         { return 10008 }
func (ConnectUserAuth) ResponseCode() uint16 { return 10009 }

func (m ConnectUserAuth) Encode() []byte {
	username := m.PhoneID
	if len(username) < 4 {
		username += "1234"
	}
	payload := make([]byte, 0, 23+len(m.OpenUserID))
	payload = append(payload, m.ChallengeResponse...)
	payload = append(payload, username[:4]...)
	payload = append(payload, boolByte(m.OpenVideo), boolByte(m.OpenAudio))
	payload = append(payload, byte(len(m.OpenUserID)))
	payload = append(payload, m.OpenUserID...)
	return Encode(m.Code(), payload)
}

func (ConnectUserAuth) ParseResponse(data []byte) (any, error) { return jsonResponse(data) }

// ControlChannel (10010) is a key/value setting used by the mobile app.
type ControlChannel struct {
	K, V byte
}

func (ControlChannel) Code() uint16         { return 10010 }
func (ControlChannel) ResponseCode() uint16 { return 10011 }

func (m ControlChannel) Encode() []byte {
	return Encode(m.Code(), []byte{m.K, m.V})
}

func (ControlChannel) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// CheckCameraInfo (10020) reads all fifty camera settings as JSON.
type CheckCameraInfo struct{}

func (CheckCameraInfo) Code() uint16         { return 10020 }
func (CheckCameraInfo) ResponseCode() uint16 { return 10021 }

func (m CheckCameraInfo) Encode() []byte {
	payload := make([]byte, 0, 51)
	payload = append(payload, 50)
	for id := byte(1); id <= 50; id++ {
		payload = append(payload, id)
	}
	return Encode(m.Code(), payload)
}

func (CheckCameraInfo) ParseResponse(data []byte) (any, error) { return jsonResponse(data) }

// CheckCameraParams (10020) reads a chosen subset of camera settings.
type CheckCameraParams struct {
	ParamIDs []byte
}

func (CheckCameraParams) Code() uint16         { return 10020 }
func (CheckCameraParams) ResponseCode() uint16 { return 10021 }

func (m CheckCameraParams) Encode() []byte {
	payload := make([]byte, 0, 1+len(m.ParamIDs))
	payload = append(payload, byte(len(m.ParamIDs)))
	payload = append(payload, m.ParamIDs...)
	return Encode(m.Code(), payload)
}

func (CheckCameraParams) ParseResponse(data []byte) (any, error) { return jsonResponse(data) }

// GetVideoParam (10050) reads the video parameters, including the current
// bitrate, on firmware 4.x and newer.
type GetVideoParam struct{}

func (GetVideoParam) Code() uint16         { return 10050 }
func (GetVideoParam) ResponseCode() uint16 { return 10051 }

func (m GetVideoParam) Encode() []byte { return Encode(m.Code(), nil) }

func (GetVideoParam) ParseResponse(data []byte) (any, error) { return jsonResponse(data) }

// SetResolving (10056) sets resolution, bitrate, and fps. Sent right after
// a successful handshake and re-sent whenever the camera drifts.
type SetResolving struct {
	FrameSize byte
	Bitrate   byte
	FPS       byte
}

func (SetResolving) Code() uint16         { return 10056 }
func (SetResolving) ResponseCode() uint16 { return 10057 }

func (m SetResolving) Encode() []byte {
	return Encode(m.Code(), []byte{1 + m.FrameSize, m.Bitrate, m.FPS})
}

func (SetResolving) ParseResponse(data []byte) (any, error) { return ackResponse(data) }

// DBSetResolving (10052) is the doorbell/battery variant of SetResolving,
// with a different payload layout to match the rotated sensor models.
type DBSetResolving struct {
	FrameSize byte
	Bitrate   byte
	FPS       byte
}

func (DBSetResolving) Code() uint16         { return 10052 }
func (DBSetResolving) ResponseCode() uint16 { return 10053 }

func (m DBSetResolving) Encode() []byte {
	return Encode(m.Code(), []byte{m.Bitrate, 0, 1 + m.FrameSize, m.FPS, 0, 0})
}

func (DBSetResolving) ParseResponse(data []byte) (any, error) { return ackResponse(data) }

// TakePhoto (10058) stores a full-resolution photo on the camera SD card.
type TakePhoto struct{}

func (TakePhoto) Code() uint16         { return 10058 }
func (TakePhoto) ResponseCode() uint16 { return 10059 }

func (m TakePhoto) Encode() []byte { return Encode(m.Code(), nil) }

func (TakePhoto) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// StartBoa (10148) temporarily starts the camera-side HTTP server.
type StartBoa struct{}

func (StartBoa) Code() uint16         { return 10148 }
func (StartBoa) ResponseCode() uint16 { return 10149 }

func (m StartBoa) Encode() []byte {
	return Encode(m.Code(), []byte{0, 1, 0, 0, 0})
}

func (StartBoa) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// CheckNight (10620) reads the night mode settings.
type CheckNight struct{}

func (CheckNight) Code() uint16         { return 10620 }
func (CheckNight) ResponseCode() uint16 { return 10621 }

func (m CheckNight) Encode() []byte { return Encode(m.Code(), nil) }

func (CheckNight) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// GetSpotlightStatus (10640) reads the spotlight settings.
type GetSpotlightStatus struct{}

func (GetSpotlightStatus) Code() uint16         { return 10640 }
func (GetSpotlightStatus) ResponseCode() uint16 { return 10641 }

func (m GetSpotlightStatus) Encode() []byte { return Encode(m.Code(), nil) }

func (GetSpotlightStatus) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// Get is a parameter read for one of the catalog's get/set pairs; the
// payload is empty and the response is raw bytes.
type Get struct {
	Cmd uint16
}

func (m Get) Code() uint16         { return m.Cmd }
func (m Get) ResponseCode() uint16 { return m.Cmd + 1 }

func (m Get) Encode() []byte { return Encode(m.Cmd, nil) }

func (Get) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// Set is a parameter write with a small binary payload for one of the
// catalog's get/set pairs.
type Set struct {
	Cmd    uint16
	Params []byte
}

func (m Set) Code() uint16         { return m.Cmd }
func (m Set) ResponseCode() uint16 { return m.Cmd + 1 }

func (m Set) Encode() []byte { return Encode(m.Cmd, m.Params) }

func (Set) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// SetRotaryByDegree (11000) pans by a relative horizontal/vertical angle.
type SetRotaryByDegree struct {
	Horizontal int16
	Vertical   int16
	Degree     int16
}

func (SetRotaryByDegree) Code() uint16         { return 11000 }
func (SetRotaryByDegree) ResponseCode() uint16 { return 11001 }

func (m SetRotaryByDegree) Encode() []byte {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(m.Horizontal))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(m.Vertical))
	binary.LittleEndian.PutUint16(payload[4:6], uint16(m.Degree))
	return Encode(m.Code(), payload)
}

func (SetRotaryByDegree) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// SetRotaryByAction (11002) pans one step in a fixed direction.
type SetRotaryByAction struct {
	Horizontal byte
	Vertical   byte
}

func (SetRotaryByAction) Code() uint16         { return 11002 }
func (SetRotaryByAction) ResponseCode() uint16 { return 11003 }

func (m SetRotaryByAction) Encode() []byte {
	return Encode(m.Code(), []byte{m.Horizontal, m.Vertical})
}

func (SetRotaryByAction) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// ResetRotatePosition (11004) re-centers a pan camera.
type ResetRotatePosition struct{}

func (ResetRotatePosition) Code() uint16         { return 11004 }
func (ResetRotatePosition) ResponseCode() uint16 { return 11005 }

func (m ResetRotatePosition) Encode() []byte { return Encode(m.Code(), nil) }

func (ResetRotatePosition) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

// CruisePoint is one waypoint of a pan camera's patrol route.
type CruisePoint struct {
	Vertical   byte `json:"vertical"`
	Horizontal byte `json:"horizontal"`
}

// GetCruisePoints (11010) reads the configured patrol waypoints. The
// response packs four bytes per point after a leading count byte.
type GetCruisePoints struct{}

func (GetCruisePoints) Code() uint16         { return 11010 }
func (GetCruisePoints) ResponseCode() uint16 { return 11011 }

func (m GetCruisePoints) Encode() []byte { return Encode(m.Code(), nil) }

func (GetCruisePoints) ParseResponse(data []byte) (any, error) {
	var points []CruisePoint
	for i := 1; i+2 < len(data); i += 4 {
		points = append(points, CruisePoint{
			Vertical:   data[i+1],
			Horizontal: data[i+2],
		})
	}
	return points, nil
}

// SetPTZPosition (11018) moves a pan camera to an absolute position.
type SetPTZPosition struct {
	Vertical   byte
	Horizontal byte
}

func (SetPTZPosition) Code() uint16         { return 11018 }
func (SetPTZPosition) ResponseCode() uint16 { return 11019 }

func (m SetPTZPosition) Encode() []byte {
	payload := make([]byte, 3)
	payload[0] = m.Vertical
	binary.LittleEndian.PutUint16(payload[1:3], uint16(m.Horizontal))
	return Encode(m.Code(), payload)
}

func (SetPTZPosition) ParseResponse(data []byte) (any, error) { return rawResponse(data) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
