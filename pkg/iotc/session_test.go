package iotc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
	"github.com/ethan/iotc-bridge/pkg/xxtea"
)

const testEnr = "0123456789abcdef"

type frameEvent struct {
	errno int32
	data  []byte
	info  tutk.FrameInfo
}

// fakeTransport scripts the whole native surface: the control channel
// answers the auth handshake like a camera would, and frames come from
// a queue.
type fakeTransport struct {
	fakeChannel

	mu          sync.Mutex
	connectErr  error
	mode        uint8
	closedSIDs  []int32
	stoppedAVs  []int32
	frames      chan frameEvent
	resolveAcks int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fakeChannel: fakeChannel{replies: make(chan []byte, 16)},
		mode:        tutk.ModeLAN,
		frames:      make(chan frameEvent, 64),
	}
}

func (f *fakeTransport) Connect(p2pID string, dtls bool, enr, mac string) (int32, error) {
	if f.connectErr != nil {
		return -90, f.connectErr
	}
	return 7, nil
}

func (f *fakeTransport) ConnectStop(sid int32) error { return nil }

func (f *fakeTransport) SessionClose(sid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedSIDs = append(f.closedSIDs, sid)
}

func (f *fakeTransport) SessionCheck(sid int32) (tutk.SessionInfo, error) {
	return tutk.SessionInfo{Mode: f.mode, RemoteIP: "192.168.1.50"}, nil
}

func (f *fakeTransport) AVClientStart(sid int32, username, password string, timeoutSec uint32, channelID uint8, resend int32) (int32, error) {
	return 3, nil
}

func (f *fakeTransport) AVClientStop(ch int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedAVs = append(f.stoppedAVs, ch)
}

func (f *fakeTransport) AVCleanBuf(ch int32) {}

func (f *fakeTransport) AVRecvFrame(ch int32) (int32, []byte, tutk.FrameInfo, error) {
	event, ok := <-f.frames
	if !ok {
		return tutk.AVErrSessionCloseByRemote, nil, tutk.FrameInfo{}, nil
	}
	return event.errno, event.data, event.info, nil
}

// AVSendIOCtl plays the camera side of the handshake.
func (f *fakeTransport) AVSendIOCtl(ch int32, ctrlType uint32, data []byte) error {
	if err := f.fakeChannel.AVSendIOCtl(ch, ctrlType, data); err != nil {
		return err
	}
	header, _, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	switch header.Code {
	case 10000:
		challenge := []byte("SECRETCHALLENGE0")
		enc, _ := xxtea.Encrypt(challenge, []byte(testEnr))
		reply := protocol.Encode(10001, append([]byte{3}, enc...))
		// Cameras stamp their own protocol version on replies; use one
		// new enough for the user-auth handshake.
		binary.LittleEndian.PutUint16(reply[2:4], 100)
		f.replies <- reply
	case 10002, 10008:
		resp, _ := json.Marshal(map[string]any{
			"connectionRes": "1",
			"cameraInfo": map[string]any{
				"videoParm": map[string]any{"type": "H264", "fps": "20"},
				"basicInfo": map[string]any{"firmware": "4.36.10", "wifidb": "77"},
			},
		})
		f.replies <- protocol.Encode(header.Code+1, resp)
	case 10052, 10056:
		f.mu.Lock()
		f.resolveAcks++
		f.mu.Unlock()
		f.replies <- protocol.Encode(header.Code+1, []byte{0x01})
	}
	return nil
}

func testCamera() *cloud.Camera {
	return &cloud.Camera{
		P2PID:        "ABCDEFGHIJKLMNOP1234",
		IP:           "192.168.1.50",
		Enr:          testEnr,
		MAC:          "AABBCCDDEEFF",
		ProductModel: "WYZE_CAKP2JFUS",
		Nickname:     "Front Door",
		FirmwareVer:  "4.36.10",
	}
}

func testAccount() *cloud.Account {
	return &cloud.Account{PhoneID: "phone-id-1234", OpenUserID: "open-user"}
}

func newTestSession(t *testing.T, tr Transport) *Session {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return NewSession(tr, testAccount(), testCamera(), Options{
		FrameSize:      protocol.FrameSizeHD,
		Bitrate:        120,
		ConnectTimeout: 2 * time.Second,
	}, log)
}

func connectAndAuth(t *testing.T, tr *fakeTransport) *Session {
	t.Helper()
	sess := newTestSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Authenticate(context.Background()))
	return sess
}

func TestSessionConnectAndAuthenticate(t *testing.T) {
	tr := newFakeTransport()
	sess := newTestSession(t, tr)

	require.NoError(t, sess.Connect(context.Background()))
	assert.Equal(t, StateConnected, sess.State())
	require.NotNil(t, sess.SessionInfo())
	assert.Equal(t, "LAN", sess.SessionInfo().ModeName())

	require.NoError(t, sess.Authenticate(context.Background()))
	assert.Equal(t, StateAuthSucceeded, sess.State())

	// The auth reply's camera info lands on the descriptor, and the
	// preferred resolution was pushed right after the handshake.
	assert.NotNil(t, sess.Camera().CameraInfo)
	tr.mu.Lock()
	acks := tr.resolveAcks
	tr.mu.Unlock()
	assert.Equal(t, 1, acks)

	codes := tr.sentCodes(t)
	assert.Equal(t, []uint16{10000, 10008, 10056}, codes)

	sess.Disconnect()
	assert.Equal(t, StateDisconnected, sess.State())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, []int32{3}, tr.stoppedAVs)
	assert.Equal(t, []int32{7}, tr.closedSIDs)
}

func TestSessionConnectFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = tutk.NewError(-90)
	sess := newTestSession(t, tr)

	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(-90), tutk.ErrCode(err))
	assert.Equal(t, StateDisconnected, sess.State())
}

func TestSessionNetModePolicy(t *testing.T) {
	tr := newFakeTransport()
	tr.mode = tutk.ModeRelay
	sess := newTestSession(t, tr)
	require.NoError(t, sess.Connect(context.Background()))

	err := sess.EnsureNetMode("lan")
	require.Error(t, err)
	var reconnect *ErrReconnect
	assert.ErrorAs(t, err, &reconnect)

	assert.Error(t, sess.EnsureNetMode("p2p"))
	assert.NoError(t, sess.EnsureNetMode("any"))

	sess.Disconnect()
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	sess.Disconnect()
	sess.Disconnect()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(t, tr.stoppedAVs, 1)
	assert.Len(t, tr.closedSIDs, 1)
}
