package iotc

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

func goodFrame(frameNo uint32, keyframe bool) frameEvent {
	return frameEvent{
		data: []byte{0, 0, 0, 1, byte(frameNo)},
		info: tutk.FrameInfo{
			CodecID:    tutk.CodecH264,
			IsKeyframe: keyframe,
			Framerate:  20,
			FrameSize:  protocol.FrameSizeHD,
			Timestamp:  uint32(time.Now().Unix()),
			FrameNo:    frameNo,
		},
	}
}

func TestPumpForwardsFrames(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	tr.frames <- goodFrame(2, false)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err, "remote close surfaces after the queue drains")
	assert.Equal(t, int32(tutk.AVErrSessionCloseByRemote), tutk.ErrCode(err))
	assert.Equal(t, []byte{0, 0, 0, 1, 1, 0, 0, 0, 1, 2}, sink.Bytes())
}

func TestPumpSkipsInitialSmallFrame(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	small := goodFrame(1, true)
	small.info.FrameSize = protocol.FrameSizeSD
	tr.frames <- small
	tr.frames <- goodFrame(2, true)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)

	// The first wrong-size frame is skipped without a resolving re-send.
	assert.Equal(t, []byte{0, 0, 0, 1, 2}, sink.Bytes())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, 1, tr.resolveAcks, "only the post-auth resolving message")
}

func TestPumpResendsResolvingOnBadRes(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	bad := goodFrame(2, false)
	bad.info.FrameSize = protocol.FrameSizeSD
	tr.frames <- bad
	tr.frames <- goodFrame(3, false)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)

	assert.Equal(t, []byte{0, 0, 0, 1, 1, 0, 0, 0, 1, 3}, sink.Bytes())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, 2, tr.resolveAcks, "one re-assert for the wrong-size frame")
}

func TestPumpBadResLimit(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	for i := 0; i < 3; i++ {
		bad := goodFrame(uint32(2+i), false)
		bad.info.FrameSize = protocol.FrameSizeSD
		tr.frames <- bad
	}
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{MaxBadRes: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong resolution")
}

func TestPumpAcceptsDoorbellVariantSize(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	portrait := goodFrame(1, true)
	portrait.info.FrameSize = protocol.FrameSizeHD + 3
	tr.frames <- portrait
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)
	assert.NotEmpty(t, sink.Bytes(), "preferred+3 is an accepted size")
}

func TestPumpDropsFramesBeforeFirstKeyframe(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, false)
	tr.frames <- goodFrame(2, false)
	tr.frames <- goodFrame(3, true)
	tr.frames <- goodFrame(4, false)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)

	// Nothing is written until the first keyframe arrives; the stream
	// handed to the sink always opens on a keyframe.
	assert.Equal(t, []byte{0, 0, 0, 1, 3, 0, 0, 0, 1, 4}, sink.Bytes())
}

func TestPumpDropsStaleFrames(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	stale := goodFrame(2, false)
	stale.info.Timestamp = uint32(time.Now().Add(-time.Minute).Unix())
	tr.frames <- stale
	tr.frames <- goodFrame(3, false)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 1, 0, 0, 0, 1, 3}, sink.Bytes())
}

func TestPumpDropsFramesFarFromKeyframe(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	// Far beyond two GOPs from the keyframe and more than six frames
	// past the last forwarded one.
	lost := goodFrame(100, false)
	tr.frames <- lost
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 1}, sink.Bytes())
}

func TestPumpTransientErrorsAreAbsorbed(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	tr.frames <- frameEvent{errno: tutk.AVErrIncompleteFrame}
	tr.frames <- frameEvent{errno: tutk.AVErrLosedThisFrame}
	tr.frames <- goodFrame(2, false)
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{})
	require.Error(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 1, 0, 0, 0, 1, 2}, sink.Bytes())
}

func TestPumpNoReadyLimit(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)
	tr.frames <- frameEvent{errno: tutk.AVErrDataNoReady}
	tr.frames <- frameEvent{errno: tutk.AVErrDataNoReady}
	close(tr.frames)

	var sink bytes.Buffer
	err := sess.PumpFrames(context.Background(), &sink, PumpConfig{MaxNoReady: 1})
	require.Error(t, err)
	assert.Equal(t, int32(tutk.AVErrDataNoReady), tutk.ErrCode(err))
}

// brokenPipeWriter simulates the transcoder exiting mid-stream.
type brokenPipeWriter struct{}

func (brokenPipeWriter) Write(p []byte) (int, error) { return 0, syscall.EPIPE }

func TestPumpBrokenPipeEndsCleanly(t *testing.T) {
	tr := newFakeTransport()
	sess := connectAndAuth(t, tr)
	defer sess.Disconnect()

	tr.frames <- goodFrame(1, true)

	err := sess.PumpFrames(context.Background(), brokenPipeWriter{}, PumpConfig{})
	assert.NoError(t, err, "a closed sink is a clean shutdown")
}
