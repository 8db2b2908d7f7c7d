package iotc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// fakeChannel simulates the native IO-ctrl surface: sends are recorded
// and receives drain a scripted reply queue.
type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	replies  chan []byte
	termCode int32 // non-zero: returned once the reply queue drains
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{replies: make(chan []byte, 16)}
}

func (f *fakeChannel) AVSendIOCtl(ch int32, ctrlType uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeChannel) AVRecvIOCtl(ch int32, timeoutMS uint32) (int32, uint32, []byte) {
	select {
	case msg := <-f.replies:
		return int32(len(msg)), tutk.IOTypeUserDefinedStart, msg
	case <-time.After(5 * time.Millisecond):
		f.mu.Lock()
		code := f.termCode
		f.mu.Unlock()
		if code != 0 {
			return code, 0, nil
		}
		return tutk.AVErrTimeout, 0, nil
	}
}

func (f *fakeChannel) sentCodes(t *testing.T) []uint16 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var codes []uint16
	for _, msg := range f.sent {
		header, _, err := protocol.Decode(msg)
		require.NoError(t, err)
		codes = append(codes, header.Code)
	}
	return codes
}

func testMux(t *testing.T, ch *fakeChannel) *Mux {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	m := NewMux(ch, 0, log)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestMuxRequestResponse(t *testing.T) {
	ch := newFakeChannel()
	m := testMux(t, ch)

	fut := m.Send(protocol.SetResolving{FrameSize: 0, Bitrate: 120})
	ch.replies <- protocol.Encode(10057, []byte{0x01})

	res, err := fut.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, res)
	assert.Equal(t, []uint16{10056}, ch.sentCodes(t))
}

func TestMuxFIFOPerCode(t *testing.T) {
	ch := newFakeChannel()
	m := testMux(t, ch)

	first := m.Send(protocol.CheckCameraParams{ParamIDs: []byte{1}})
	second := m.Send(protocol.CheckCameraParams{ParamIDs: []byte{2}})

	respA, _ := json.Marshal(map[string]any{"seq": 1})
	respB, _ := json.Marshal(map[string]any{"seq": 2})
	ch.replies <- protocol.Encode(10021, respA)
	ch.replies <- protocol.Encode(10021, respB)

	resA, err := first.Result(time.Second)
	require.NoError(t, err)
	resB, err := second.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(1), resA.(map[string]any)["seq"])
	assert.Equal(t, float64(2), resB.(map[string]any)["seq"])
}

func TestMuxWaitFor(t *testing.T) {
	ch := newFakeChannel()
	m := testMux(t, ch)

	f1 := m.Send(protocol.SetResolving{})
	f2 := m.Send(protocol.CheckCameraParams{ParamIDs: []byte{3}})

	// Responses arrive out of request order.
	resp, _ := json.Marshal(map[string]any{"ok": true})
	ch.replies <- protocol.Encode(10021, resp)
	ch.replies <- protocol.Encode(10057, []byte{0x01})

	results, err := m.WaitFor([]*Future{f1, f2}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, results[0])
	assert.Equal(t, true, results[1].(map[string]any)["ok"])
}

func TestMuxResultTimeout(t *testing.T) {
	ch := newFakeChannel()
	m := testMux(t, ch)

	fut := m.Send(protocol.SetResolving{})
	_, err := fut.Result(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrResultTimeout)
}

func TestMuxSendErrorPreFailsFuture(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = tutk.NewError(-20010)
	m := testMux(t, ch)

	fut := m.Send(protocol.SetResolving{})
	_, err := fut.Result(time.Second)
	require.Error(t, err)
	var te *tutk.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, int32(-20010), te.Code)
}

func TestMuxNoResponseCodeResolvesImmediately(t *testing.T) {
	ch := newFakeChannel()
	m := testMux(t, ch)

	fut := m.Send(noReplyMessage{})
	res, err := fut.Result(time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMuxListenerExitsOnRemoteClose(t *testing.T) {
	ch := newFakeChannel()
	ch.mu.Lock()
	ch.termCode = tutk.AVErrSessionCloseByRemote
	ch.mu.Unlock()
	m := testMux(t, ch)

	fut := m.Send(protocol.SetResolving{})
	_, err := fut.Result(time.Second)
	require.Error(t, err)

	// The listener is gone; Stop must return promptly.
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after remote close")
	}
}

func TestMuxListenerStoresError(t *testing.T) {
	ch := newFakeChannel()
	ch.mu.Lock()
	ch.termCode = -20010 // AV_ER_INVALID_SID
	ch.mu.Unlock()
	m := testMux(t, ch)

	fut := m.Send(protocol.SetResolving{})
	_, err := fut.Result(time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(-20010), tutk.ErrCode(err))
}

// noReplyMessage is a fire-and-forget command.
type noReplyMessage struct{}

func (noReplyMessage) Code() uint16                        { return 10148 }
func (noReplyMessage) ResponseCode() uint16                { return 0 }
func (noReplyMessage) Encode() []byte                      { return protocol.Encode(10148, nil) }
func (noReplyMessage) ParseResponse(d []byte) (any, error) { return d, nil }
