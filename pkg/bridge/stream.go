// Package bridge owns the process-wide stream registry: per-camera
// stream lifecycle, the control dispatcher, the transcoder children, and
// the monitor loop fed by the media relay's event pipe.
package bridge

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/iotc"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// Status is the externally visible stream state. The integer codes are
// part of the reporting surface and must not change. Transient transport
// error codes (-10, -13, -19, -68) are carried in the same variable
// while the supervisor decides on a retry policy.
type Status int32

const (
	StatusOffline    Status = -90
	StatusStopping   Status = -1
	StatusDisabled   Status = 0
	StatusStopped    Status = 1
	StatusConnecting Status = 2
	StatusConnected  Status = 3
)

// String returns the lowercase status name, or "error" for carried
// transport codes.
func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusStopping:
		return "stopping"
	case StatusDisabled:
		return "disabled"
	case StatusStopped:
		return "stopped"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "error"
	}
}

// connectingTimeout bounds how long a stream may sit in CONNECTING
// before the health check stops it.
const connectingTimeout = 20 * time.Second

// refreshErrorCodes are the transport errors that suggest a stale
// descriptor (new ip or enr); the supervisor refreshes and retries.
var refreshErrorCodes = map[int32]bool{-13: true, -19: true, -68: true}

// exitCodes are the transport errors carried into the state variable.
var exitCodes = map[int32]bool{-10: true, -13: true, -19: true, -68: true, -90: true}

// Options configures one stream. Substream, Record, and Audio are fixed
// for the stream's lifetime; frame size and bitrate may be re-asserted.
type Options struct {
	Quality   string
	Audio     bool
	Record    bool
	Substream bool
	FrameSize int
	Bitrate   int
}

// UpdateQuality parses the Quality knob into frame size and bitrate.
func (o *Options) UpdateQuality(is2K bool) {
	q := config.ParseQuality(o.Quality, is2K)
	o.FrameSize = q.FrameSize
	o.Bitrate = q.Bitrate
}

// Gateway is the non-owning capability handle a stream gets from its
// supervisor: descriptor refresh and state publication, nothing else.
type Gateway interface {
	UpdateCameraDescriptor(ctx context.Context, uri string) (*cloud.Camera, error)
	PublishState(uri, state string)
	Publish(uri, topic string, value any)
}

// command is one control request in flight to the dispatcher.
type command struct {
	Topic   string
	Payload any
	Reply   chan CommandResult
}

// CommandResult is the normalized dispatcher response.
type CommandResult map[string]any

// Stream drives one camera encoding: session worker, control
// dispatcher, and transcoder child.
type Stream struct {
	URI string

	camera    *cloud.Camera
	account   *cloud.Account
	transport iotc.Transport
	options   Options
	gateway   Gateway
	log       *logger.Logger

	state     atomic.Int32
	startTime atomic.Int64 // unix seconds; doubles as the cooldown deadline

	cancel  context.CancelFunc
	done    chan struct{}
	session atomic.Pointer[iotc.Session]
	cmds    chan command

	snapshot snapshotRecord

	cooldown time.Duration
}

// NewStream builds a stream for a camera. Unsupported families start
// disabled; everything else starts stopped.
func NewStream(transport iotc.Transport, account *cloud.Account, camera *cloud.Camera, options Options, gateway Gateway, cooldown time.Duration, log *logger.Logger) *Stream {
	uri := camera.NameURI()
	if options.Substream {
		uri += "-sub"
	}
	options.UpdateQuality(camera.Is2K())

	s := &Stream{
		URI:       uri,
		camera:    camera,
		account:   account,
		transport: transport,
		options:   options,
		gateway:   gateway,
		log:       log.With("camera", uri),
		cmds:      make(chan command),
		cooldown:  cooldown,
	}
	s.state.Store(int32(StatusStopped))

	if camera.IsGwell() {
		s.log.Info("camera model not supported", "model", camera.ProductModel)
		s.state.Store(int32(StatusDisabled))
	}
	if options.Substream && !camera.CanSubstream() {
		s.log.Error("camera may not support multiple streams")
	}
	return s
}

// State returns the current status code. Safe for lock-free readers.
func (s *Stream) State() Status { return Status(s.state.Load()) }

// StateValue returns the raw state code for external reporting.
func (s *Stream) StateValue() int32 { return s.state.Load() }

// Connected reports a live session.
func (s *Stream) Connected() bool { return s.State() == StatusConnected }

// Enabled reports whether the stream participates in health checks.
func (s *Stream) Enabled() bool { return s.State() != StatusDisabled }

// OnDemand reports whether the stream only runs while a client reads.
func (s *Stream) OnDemand() bool { return !s.options.Record }

// Camera returns the current descriptor.
func (s *Stream) Camera() *cloud.Camera { return s.camera }

// Start spawns the session worker. It refuses unless the stream is
// currently stopped and out of cooldown.
func (s *Stream) Start() bool {
	wasOffline := s.State() == StatusOffline
	if s.healthCheck(false) != int32(StatusStopped) {
		return false
	}
	s.log.Info("connecting to camera",
		"model", s.camera.ModelName(),
		"ip", s.camera.IP)
	s.gateway.PublishState(s.URI, "starting")
	s.state.Store(int32(StatusConnecting))
	s.startTime.Store(time.Now().Unix())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	go s.worker(ctx, done, wasOffline)
	return true
}

// Stop cancels the worker, forces the session closed so blocked native
// calls return, and waits (bounded) for the worker to exit.
func (s *Stream) Stop() bool {
	s.gateway.PublishState(s.URI, "stopping")
	s.startTime.Store(0)

	if s.cancel != nil {
		s.cancel()
	}
	if sess := s.session.Load(); sess != nil {
		sess.Disconnect()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			s.log.Warn("stream worker did not exit in time")
		}
		s.done = nil
	}
	s.cancel = nil
	s.state.Store(int32(StatusStopped))
	s.gateway.PublishState(s.URI, "stopped")
	return true
}

// Enable moves a disabled stream back to stopped.
func (s *Stream) Enable() bool {
	if s.State() == StatusDisabled {
		s.log.Info("enabling stream")
		s.state.Store(int32(StatusStopped))
		s.gateway.PublishState(s.URI, "stopped")
	}
	return s.State() > StatusDisabled
}

// Disable stops the stream and parks it outside the health check.
func (s *Stream) Disable() bool {
	if s.State() == StatusDisabled {
		return true
	}
	s.log.Info("disabling stream")
	if s.State() != StatusStopped {
		s.Stop()
	}
	s.state.Store(int32(StatusDisabled))
	s.gateway.PublishState(s.URI, "disabled")
	return true
}

// HealthCheck evaluates the state machine for one monitor tick and
// returns the effective state (0 while cooling down).
func (s *Stream) HealthCheck() int32 {
	return s.healthCheck(true)
}

func (s *Stream) healthCheck(shouldStart bool) int32 {
	state := s.State()
	if state == StatusOffline {
		if config.EnvBool("IGNORE_OFFLINE") {
			s.log.Info("camera is offline, ignoring it from now on")
			s.Disable()
			return s.StateValue()
		}
		s.log.Info("camera is offline, cooling down", "cooldown", s.cooldown)
	}

	switch {
	case refreshErrorCodes[int32(state)]:
		s.refreshCamera()
	case state < StatusDisabled:
		s.Stop()
		s.startTime.Store(time.Now().Add(s.cooldown).Unix())
	case state == StatusStopped && s.options.Record && shouldStart:
		s.Start()
	case state == StatusConnecting && s.timedOut(connectingTimeout):
		s.log.Warn("timed out connecting to camera")
		s.Stop()
	}

	if s.startTime.Load() > time.Now().Unix() {
		return 0
	}
	return s.StateValue()
}

// refreshCamera pulls a fresh descriptor; auth-class transport errors
// usually mean the camera changed ip or enr.
func (s *Stream) refreshCamera() bool {
	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cam, err := s.gateway.UpdateCameraDescriptor(ctx, s.camera.NameURI())
	if err != nil {
		s.log.Warn("could not refresh camera descriptor", "error", err)
		return false
	}
	s.camera = cam
	return true
}

func (s *Stream) timedOut(limit time.Duration) bool {
	start := s.startTime.Load()
	if start == 0 {
		return false
	}
	return time.Now().Unix()-start > int64(limit/time.Second)
}

// worker runs one connect/auth/stream cycle and records the exit state.
// It is pinned to an OS thread so a misbehaving vendor call stays
// isolated from the scheduler.
func (s *Stream) worker(ctx context.Context, done chan struct{}, wasOffline bool) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	exit := StatusStopped
	err := s.runSession(ctx)
	if err != nil {
		if code := tutk.ErrCode(err); code != 0 {
			s.log.Warn("session ended", "code", code, "error", err)
			s.setCamOffline(code, wasOffline)
			if exitCodes[code] {
				exit = Status(code)
			}
		} else if _, ok := err.(*iotc.ErrReconnect); ok {
			s.log.Warn(err.Error())
		} else {
			s.log.Warn("stream is down", "error", err)
		}
	} else {
		s.log.Info("stream is down")
	}
	s.state.Store(int32(exit))
	streamState.WithLabelValues(s.URI).Set(float64(exit))
}

// runSession is one full session lifecycle: connect, policy check,
// authenticate, spawn control, pump frames into the transcoder.
func (s *Stream) runSession(ctx context.Context) error {
	connectAttempts.WithLabelValues(s.URI).Inc()

	sess := iotc.NewSession(s.transport, s.account, s.camera, iotc.Options{
		FrameSize:        s.options.FrameSize,
		Bitrate:          s.options.Bitrate,
		EnableAudio:      s.options.Audio,
		SubstreamChannel: s.options.Substream,
	}, s.log)
	s.session.Store(sess)
	defer s.session.Store(nil)
	defer sess.Disconnect()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	netMode := strings.ToLower(config.EnvCam("NET_MODE", strings.ToUpper(s.URI), "any"))
	if err := sess.EnsureNetMode(netMode); err != nil {
		return err
	}
	if err := sess.Authenticate(ctx); err != nil {
		return err
	}

	vcodec, fps := s.camParams(sess)

	if !s.options.Substream {
		go s.runControl(ctx, sess)
	}

	sink, err := startFFmpeg(s.URI, vcodec, fps, s.options.Record, s.camera.IsVertical(), s.log)
	if err != nil {
		return err
	}
	defer sink.Stop()

	s.state.Store(int32(StatusConnected))
	streamState.WithLabelValues(s.URI).Set(float64(StatusConnected))

	return sess.PumpFrames(ctx, &countingSink{inner: sink, uri: s.URI}, iotc.PumpConfig{
		MaxNoReady: config.EnvInt("MAX_NOREADY", config.DefaultMaxNoReady),
		MaxBadRes:  config.EnvInt("MAX_BADRES", config.DefaultMaxBadRes),
		IgnoreRes:  config.EnvInt("IGNORE_RES", 0),
	})
}

// camParams reads the negotiated codec, framerate, firmware, and wifi
// signal out of the auth reply and publishes the connection attributes.
func (s *Stream) camParams(sess *iotc.Session) (string, int) {
	vcodec := "h264"
	fps := 20

	info := s.camera.CameraInfo
	if videoParm, ok := info["videoParm"].(map[string]any); ok {
		if v, ok := videoParm["type"].(string); ok && v != "" {
			vcodec = strings.ToLower(v)
		}
		if f := intFromAny(videoParm["fps"]); f > 0 {
			if f%5 != 0 {
				s.log.Error("unusual fps reported", "fps", f)
			}
			fps = f
		}
	}

	firmware := "NA"
	wifi := any("NA")
	if basic, ok := info["basicInfo"].(map[string]any); ok {
		if fw, ok := basic["firmware"].(string); ok {
			firmware = fw
		}
		if w, ok := basic["wifidb"]; ok {
			wifi = w
		}
	}
	if netInfo, ok := info["netInfo"].(map[string]any); ok {
		if w, ok := netInfo["signal"]; ok {
			wifi = w
		}
	}
	if s.camera.IsDTLS() {
		firmware += " (DTLS)"
	}

	mode := "unknown"
	if si := sess.SessionInfo(); si != nil {
		mode = si.ModeName()
	}
	s.log.Info("getting stream",
		"bitrate_kbs", sess.PreferredBitrate(),
		"codec", vcodec,
		"fps", fps,
		"net_mode", mode,
		"wifi", wifi,
		"firmware", firmware)

	s.gateway.Publish(s.URI, "net_mode", mode)
	s.gateway.Publish(s.URI, "wifi", wifi)
	s.gateway.Publish(s.URI, "audio", s.options.Audio)
	return vcodec, fps
}

// setCamOffline publishes the error state and fires the offline webhook
// the first time the camera drops.
func (s *Stream) setCamOffline(code int32, wasOffline bool) {
	state := "offline"
	if code != int32(StatusOffline) {
		state = (&tutk.Error{Code: code}).Name()
	}
	s.gateway.PublishState(s.URI, state)

	if code != int32(StatusOffline) || wasOffline {
		return
	}
	offlineWebhook(s.URI, code, s.log)
}

// SendCmd forwards a command to the live control dispatcher and waits
// for its normalized response.
func (s *Stream) SendCmd(topic string, payload any) CommandResult {
	if config.EnvBool("DISABLE_CONTROL") || !s.Connected() {
		return CommandResult{}
	}
	cmd := command{Topic: topic, Payload: payload, Reply: make(chan CommandResult, 1)}
	select {
	case s.cmds <- cmd:
	case <-time.After(5 * time.Second):
		return CommandResult{"status": "error", "response": "timed out"}
	}
	select {
	case resp := <-cmd.Reply:
		return resp
	case <-time.After(5 * time.Second):
		return CommandResult{"status": "error", "response": "timed out"}
	}
}

// Info returns the observable stream description for the status surface.
func (s *Stream) Info() map[string]any {
	data := map[string]any{
		"name_uri":       s.URI,
		"status":         s.StateValue(),
		"connected":      s.Connected(),
		"enabled":        s.Enabled(),
		"on_demand":      s.OnDemand(),
		"audio":          s.options.Audio,
		"record":         s.options.Record,
		"substream":      s.options.Substream,
		"model_name":     s.camera.ModelName(),
		"is_2k":          s.camera.Is2K(),
		"rtsp_fw":        s.camera.RTSPFirmware(),
		"is_battery":     s.camera.IsBattery(),
		"webrtc":         s.camera.WebRTCSupport(),
		"start_time":     s.startTime.Load(),
		"req_frame_size": s.options.FrameSize,
		"req_bitrate":    s.options.Bitrate,
		"nickname":       s.camera.Nickname,
		"mac":            s.camera.MAC,
		"product_model":  s.camera.ProductModel,
		"firmware_ver":   s.camera.FirmwareVer,
		"ip":             s.camera.IP,
		"thumbnail":      s.camera.Thumbnail,
	}
	return data
}

// countingSink wraps the transcoder writer with the forwarded-frame
// counter.
type countingSink struct {
	inner interface{ Write([]byte) (int, error) }
	uri   string
}

func (c *countingSink) Write(p []byte) (int, error) {
	n, err := c.inner.Write(p)
	if err == nil {
		framesForwarded.WithLabelValues(c.uri).Inc()
	}
	return n, err
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		var out int
		fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}
