package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/mqtt"
	"github.com/ethan/iotc-bridge/pkg/mtx"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	cfg := &config.Config{SnapshotInt: 30, ImgPath: t.TempDir() + "/"}
	publisher := mqtt.NewPublisher(cfg, log)
	return NewManager(cfg, nil, publisher, log)
}

func managerStream(t *testing.T, m *Manager, nickname string) *Stream {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	cam := testCamera()
	cam.Nickname = nickname
	return NewStream(stubTransport{}, &cloud.Account{}, cam,
		Options{Quality: "hd120"}, m, time.Second, log)
}

func TestManagerRegistry(t *testing.T) {
	m := newTestManager(t)
	front := managerStream(t, m, "Front Door")
	garage := managerStream(t, m, "Garage")

	assert.Equal(t, "front-door", m.Add(front))
	assert.Equal(t, "garage", m.Add(garage))
	assert.Equal(t, 2, m.Total())
	assert.Equal(t, 2, m.Active())

	assert.Same(t, front, m.Get("front-door"))
	assert.Nil(t, m.Get("missing"))

	m.Disable("garage")
	assert.Equal(t, 1, m.Active())
	m.Enable("garage")
	assert.Equal(t, 2, m.Active())
}

func TestManagerHandleEventStart(t *testing.T) {
	m := newTestManager(t)
	front := managerStream(t, m, "Front Door")
	m.Add(front)

	m.handleEvent(mtx.Event{URI: "front-door", Kind: "start"})
	require.Eventually(t, func() bool {
		return front.State() == StatusOffline
	}, 3*time.Second, 10*time.Millisecond)
}

func TestManagerHandleEventInformational(t *testing.T) {
	m := newTestManager(t)
	front := managerStream(t, m, "Front Door")
	m.Add(front)

	// read/unread/ready never change the state machine.
	for _, kind := range []string{"read", "unread", "ready"} {
		m.handleEvent(mtx.Event{URI: "front-door", Kind: kind})
		assert.Equal(t, StatusStopped, front.State())
	}

	// Unknown paths and kinds are ignored.
	m.handleEvent(mtx.Event{URI: "missing", Kind: "start"})
	m.handleEvent(mtx.Event{URI: "front-door", Kind: "mystery"})
}

func TestManagerHandleEventNotReadyStops(t *testing.T) {
	m := newTestManager(t)
	front := managerStream(t, m, "Front Door")
	m.Add(front)
	front.state.Store(int32(StatusConnected))

	m.handleEvent(mtx.Event{URI: "front-door", Kind: "notready"})
	assert.Equal(t, StatusStopped, front.State())
}

func TestManagerStatusAll(t *testing.T) {
	m := newTestManager(t)
	m.Add(managerStream(t, m, "Front Door"))
	statuses := m.StatusAll()
	assert.Equal(t, map[string]string{"front-door": "stopped"}, statuses)
}

func TestManagerSendCmdUnknownCamera(t *testing.T) {
	m := newTestManager(t)
	resp := m.SendCmd("missing", "night_vision", "on")
	assert.Equal(t, "error", resp["status"])
}

func TestManagerStopAll(t *testing.T) {
	m := newTestManager(t)
	m.Add(managerStream(t, m, "Front Door"))
	m.Add(managerStream(t, m, "Garage"))

	done := make(chan struct{})
	go func() {
		m.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAll did not finish")
	}
	assert.Equal(t, map[string]string{"front-door": "stopping", "garage": "stopping"}, m.StatusAll())
}
