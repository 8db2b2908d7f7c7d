package bridge

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/mqtt"
	"github.com/ethan/iotc-bridge/pkg/mtx"
)

// Manager is the process-wide stream supervisor. It owns every stream,
// runs the monitor loop against the relay's event pipe, and orchestrates
// RTSP snapshots. It also implements the Gateway capability handle its
// streams hold.
type Manager struct {
	cfg   *config.Config
	cloud *cloud.Service
	mqtt  *mqtt.Publisher
	log   *logger.Logger

	mu      sync.Mutex
	streams map[string]*Stream
	order   []string

	snapMu    sync.Mutex
	snapshots map[string]*exec.Cmd
	lastSnap  time.Time

	stopFlag atomic.Bool
}

// NewManager builds an empty supervisor.
func NewManager(cfg *config.Config, cloudSvc *cloud.Service, publisher *mqtt.Publisher, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		cloud:     cloudSvc,
		mqtt:      publisher,
		log:       log,
		streams:   make(map[string]*Stream),
		snapshots: make(map[string]*exec.Cmd),
	}
}

// Add registers a stream and returns its uri.
func (m *Manager) Add(stream *Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.streams[stream.URI]; !exists {
		m.order = append(m.order, stream.URI)
	}
	m.streams[stream.URI] = stream
	return stream.URI
}

// Get returns a stream by uri, nil when unknown.
func (m *Manager) Get(uri string) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[uri]
}

// Total is the number of registered streams.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Active is the number of enabled streams.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.streams {
		if s.Enabled() {
			count++
		}
	}
	return count
}

// Start starts a stream by uri.
func (m *Manager) Start(uri string) bool {
	if s := m.Get(uri); s != nil {
		return s.Start()
	}
	return false
}

// Stop stops a stream by uri.
func (m *Manager) Stop(uri string) bool {
	if s := m.Get(uri); s != nil {
		return s.Stop()
	}
	return false
}

// Enable enables a stream by uri.
func (m *Manager) Enable(uri string) bool {
	if s := m.Get(uri); s != nil {
		return s.Enable()
	}
	return false
}

// Disable disables a stream by uri.
func (m *Manager) Disable(uri string) bool {
	if s := m.Get(uri); s != nil {
		return s.Disable()
	}
	return false
}

// StopAll halts the monitor loop and stops every stream.
func (m *Manager) StopAll() {
	m.log.Info("stopping streams", "count", m.Total())
	m.stopFlag.Store(true)

	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *Stream) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
	m.killSnapshots()
}

// Monitor is the supervisor main loop: read relay events with a one
// second timeout, health-check every stream, and schedule snapshot
// passes while any camera is up.
func (m *Manager) Monitor(pipe *mtx.EventPipe) {
	m.stopFlag.Store(false)
	m.log.Info("monitoring streams", "count", m.Total())

	for !m.stopFlag.Load() {
		for _, event := range pipe.Read(time.Second) {
			m.handleEvent(event)
		}
		enabled := m.healthCheckAll()
		if len(enabled) > 0 {
			switch m.cfg.SnapshotType {
			case "rtsp":
				m.snapAll(enabled)
			case "api":
				m.snapThumbnails(enabled)
			}
		}
	}
}

// handleEvent reacts to one record from the media relay: on-demand
// start/stop, plus informational read/ready transitions.
func (m *Manager) handleEvent(event mtx.Event) {
	stream := m.Get(event.URI)
	if stream == nil {
		m.log.DebugMTX("event for unknown path", "uri", event.URI, "event", event.Kind)
		return
	}
	switch event.Kind {
	case "start":
		m.Start(event.URI)
	case "stop", "notready":
		if event.Kind == "notready" {
			m.log.Info("stream is down", "camera", event.URI)
			m.PublishState(event.URI, "disconnected")
		}
		m.Stop(event.URI)
	case "ready":
		m.log.Info("stream is up", "camera", event.URI)
		m.PublishState(event.URI, "online")
	case "read":
		m.log.Info("new client reading", "camera", event.URI)
	case "unread":
		m.log.Info("client stopped reading", "camera", event.URI)
	default:
		m.log.DebugMTX("unknown relay event", "event", event.Kind)
	}
}

// healthCheckAll ticks every stream's state machine and returns the
// uris that are currently effective (enabled and out of cooldown).
func (m *Manager) healthCheckAll() []string {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	var enabled []string
	for _, uri := range order {
		if s := m.Get(uri); s != nil && s.HealthCheck() > 0 {
			enabled = append(enabled, uri)
		}
	}
	return enabled
}

// snapAll refreshes the RTSP snapshots, rate-limited by the snapshot
// interval. A still-running snapshot child for a camera is killed before
// a new one is spawned.
func (m *Manager) snapAll(uris []string) {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	if time.Since(m.lastSnap) < time.Duration(m.cfg.SnapshotInt)*time.Second {
		return
	}
	m.lastSnap = time.Now()

	for _, uri := range uris {
		if prev := m.snapshots[uri]; prev != nil && prev.ProcessState == nil {
			prev.Process.Kill()
			prev.Wait()
		}
		args := rtspSnapCmd(uri, m.cfg.ImgPath)
		cmd := exec.Command(args[0], args[1:]...)
		if err := cmd.Start(); err != nil {
			m.log.Warn("snapshot spawn failed", "camera", uri, "error", err)
			continue
		}
		go cmd.Wait()
		m.snapshots[uri] = cmd
	}
}

// snapThumbnails pulls the cloud thumbnails instead of grabbing live
// frames, on the same snapshot cadence.
func (m *Manager) snapThumbnails(uris []string) {
	m.snapMu.Lock()
	if time.Since(m.lastSnap) < time.Duration(m.cfg.SnapshotInt)*time.Second {
		m.snapMu.Unlock()
		return
	}
	m.lastSnap = time.Now()
	m.snapMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, uri := range uris {
		if err := m.cloud.SaveThumbnail(ctx, uri, m.cfg.ImgPath); err != nil {
			m.log.DebugCloud("thumbnail pull failed", "camera", uri, "error", err)
		}
	}
}

func (m *Manager) killSnapshots() {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	for uri, cmd := range m.snapshots {
		if cmd.ProcessState == nil && cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		delete(m.snapshots, uri)
	}
}

// SendCmd routes a command to a camera and waits for the result.
func (m *Manager) SendCmd(uri, topic string, payload any) CommandResult {
	stream := m.Get(uri)
	if stream == nil {
		return CommandResult{"status": "error", "command": topic, "response": "camera not found"}
	}
	resp := stream.SendCmd(topic, payload)
	if _, ok := resp["status"]; !ok {
		resp["status"] = "error"
		resp["command"] = topic
	}
	return resp
}

// StatusAll returns each stream's printable status, for the operator
// surface.
func (m *Manager) StatusAll() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.streams))
	for uri, s := range m.streams {
		if m.stopFlag.Load() {
			out[uri] = "stopping"
			continue
		}
		out[uri] = s.State().String()
	}
	return out
}

// Gateway implementation: the capability handle streams hold.

// UpdateCameraDescriptor re-pulls a camera's descriptor from the cloud.
func (m *Manager) UpdateCameraDescriptor(ctx context.Context, uri string) (*cloud.Camera, error) {
	return m.cloud.GetCamera(ctx, uri)
}

// PublishState mirrors a stream's lifecycle state to MQTT.
func (m *Manager) PublishState(uri, state string) {
	m.mqtt.UpdateState(uri, state)
}

// Publish mirrors a per-camera value to MQTT.
func (m *Manager) Publish(uri, topic string, value any) {
	m.mqtt.Publish(uri+"/"+topic, value)
}
