// Package iotc drives a single camera from disconnected through
// authenticated to streaming: the IOTC session lifecycle, the IO-control
// mux layered on the AV channel, and the frame pump.
package iotc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// Transport is the slice of the native binding a session needs. The
// production implementation is *tutk.Library.
type Transport interface {
	IOCtlChannel
	Connect(p2pID string, dtls bool, enr, mac string) (int32, error)
	ConnectStop(sid int32) error
	SessionClose(sid int32)
	SessionCheck(sid int32) (tutk.SessionInfo, error)
	AVClientStart(sid int32, username, password string, timeoutSec uint32, channelID uint8, resend int32) (int32, error)
	AVClientStop(ch int32)
	AVCleanBuf(ch int32)
	AVRecvFrame(ch int32) (int32, []byte, tutk.FrameInfo, error)
}

// State is the connection state of one session.
type State int32

const (
	StateDisconnected State = iota
	StateIOTCConnecting
	StateAVConnecting
	StateConnected
	StateConnectingFailed
	StateAuthenticating
	StateAuthSucceeded
	StateAuthFailed
)

// String returns the human-readable state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIOTCConnecting:
		return "iotc_connecting"
	case StateAVConnecting:
		return "av_connecting"
	case StateConnected:
		return "connected"
	case StateConnectingFailed:
		return "connecting_failed"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthSucceeded:
		return "authenticated"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// ErrReconnect is raised when the negotiated connection mode violates
// the camera's net-mode policy; the supervisor cools down and retries.
type ErrReconnect struct {
	Mode string
}

func (e *ErrReconnect) Error() string {
	return fmt.Sprintf("connected via %s mode, reconnecting", e.Mode)
}

// Options tunes one session.
type Options struct {
	FrameSize   int // preferred frame size enum
	Bitrate     int // preferred bitrate, KB/s
	FPS         int
	EnableAudio bool
	// SubstreamChannel selects AV channel 1 for the secondary encoding.
	SubstreamChannel bool
	ConnectTimeout   time.Duration
}

// Session is one camera-stream connection. It owns the IOTC session id,
// the AV channel, and the mux spawned for the authenticated phase.
type Session struct {
	tr      Transport
	account *cloud.Account
	camera  *cloud.Camera
	opts    Options
	log     *logger.Logger

	state atomic.Int32

	mu        sync.Mutex
	sessionID int32
	channelID int32
	hasIDs    bool
	mux       *Mux
	info      *tutk.SessionInfo

	// preferred settings re-asserted on drift; bitrate and fps are
	// mutable from the control surface.
	preferredFrameSize atomic.Int32
	preferredBitrate   atomic.Int32
	preferredFPS       atomic.Int32
}

// NewSession constructs a disconnected session.
func NewSession(tr Transport, account *cloud.Account, camera *cloud.Camera, opts Options, log *logger.Logger) *Session {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	s := &Session{
		tr:      tr,
		account: account,
		camera:  camera,
		opts:    opts,
		log:     log,
	}
	s.channelID = -1
	s.preferredFrameSize.Store(int32(opts.FrameSize))
	s.preferredBitrate.Store(int32(opts.Bitrate))
	s.preferredFPS.Store(int32(opts.FPS))
	return s
}

// State returns the session's current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Camera returns the descriptor the session was built with.
func (s *Session) Camera() *cloud.Camera { return s.camera }

// SessionInfo returns the diagnostics captured during connect. Non-nil
// once the session has reached StateConnected.
func (s *Session) SessionInfo() *tutk.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// PreferredFrameSize returns the commanded frame size enum.
func (s *Session) PreferredFrameSize() int { return int(s.preferredFrameSize.Load()) }

// PreferredBitrate returns the commanded bitrate in KB/s.
func (s *Session) PreferredBitrate() int { return int(s.preferredBitrate.Load()) }

// Connect establishes the IOTC session and the AV channel. On return the
// session is StateConnected, or an error is raised and the session is
// torn down.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.connect(); err != nil {
		s.setState(StateConnectingFailed)
		s.Disconnect()
		return err
	}
	if err := ctx.Err(); err != nil {
		s.Disconnect()
		return err
	}
	return nil
}

func (s *Session) connect() error {
	s.setState(StateIOTCConnecting)

	sid, err := s.tr.Connect(s.camera.P2PID, s.camera.IsDTLS(), s.camera.Enr, s.camera.MAC)
	if err != nil {
		return fmt.Errorf("iotc connect: %w", err)
	}
	s.mu.Lock()
	s.sessionID = sid
	s.hasIDs = true
	s.mu.Unlock()

	info, err := s.tr.SessionCheck(sid)
	if err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	s.mu.Lock()
	s.info = &info
	s.mu.Unlock()
	s.log.DebugIOTC("session established",
		"mode", info.ModeName(),
		"remote_ip", info.RemoteIP,
		"net_state", info.NetState)

	s.setState(StateAVConnecting)
	password := "888888"
	if s.camera.IsDTLS() {
		password = s.camera.Enr
	}
	resend := int32(1)
	if s.camera.IsBattery() {
		resend = 0
	}
	var channel uint8
	if s.opts.SubstreamChannel {
		channel = 1
	}
	ch, err := s.tr.AVClientStart(sid, "admin", password,
		uint32(s.opts.ConnectTimeout/time.Second), channel, resend)
	if err != nil {
		return fmt.Errorf("av client start: %w", err)
	}
	s.tr.AVCleanBuf(ch)

	s.mu.Lock()
	s.channelID = ch
	s.mu.Unlock()

	s.setState(StateConnected)
	s.log.DebugIOTC("av client started", "channel", ch)
	return nil
}

// EnsureNetMode raises ErrReconnect when the negotiated mode violates
// the configured policy ("any", "lan", or "p2p").
func (s *Session) EnsureNetMode(policy string) error {
	info := s.SessionInfo()
	if info == nil {
		return fmt.Errorf("no session info")
	}
	switch {
	case policy == "" || policy == "any":
	case policy == "p2p" && info.Mode == tutk.ModeRelay:
		return &ErrReconnect{Mode: info.ModeName()}
	case policy == "lan" && info.Mode != tutk.ModeLAN:
		return &ErrReconnect{Mode: info.ModeName()}
	}
	if info.Mode != tutk.ModeLAN {
		s.log.Warn("camera connected via non-LAN mode, stream may consume additional bandwidth",
			"mode", info.ModeName())
	}
	return nil
}

// Authenticate runs the challenge handshake and pushes the preferred
// resolution and bitrate. The mux started here stays attached to the
// session for the streaming phase; Disconnect stops it.
func (s *Session) Authenticate(ctx context.Context) error {
	if s.State() != StateConnected {
		return fmt.Errorf("authenticate expects a connected session, state=%s", s.State())
	}
	s.setState(StateAuthenticating)

	if err := s.authenticate(ctx); err != nil {
		s.setState(StateAuthFailed)
		s.Disconnect()
		return err
	}
	s.setState(StateAuthSucceeded)
	return nil
}

func (s *Session) authenticate(ctx context.Context) error {
	mux := NewMux(s.tr, s.channel(), s.log)
	mux.Start()
	s.mu.Lock()
	s.mux = mux
	s.mu.Unlock()

	wakeMAC := ""
	if s.camera.IsBattery() {
		wakeMAC = s.camera.MAC
	}
	challengeFut := mux.Send(protocol.ConnectRequest{WakeMAC: wakeMAC})
	challenge, err := challengeFut.Result(s.opts.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect request: %w", err)
	}

	authMsg, err := protocol.RespondToChallenge(protocol.ChallengeInput{
		Data:         challenge.([]byte),
		Protocol:     challengeFut.ResponseProtocol(),
		Enr:          s.camera.AuthEnr(),
		ProductModel: s.camera.ProductModel,
		MAC:          s.camera.MAC,
		PhoneID:      s.account.PhoneID,
		OpenUserID:   s.account.OpenUserID,
		EnableAudio:  s.opts.EnableAudio,
	})
	if err != nil {
		return fmt.Errorf("connect challenge: %w", err)
	}

	authResp, err := mux.Send(authMsg).Result(s.opts.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	authData, ok := authResp.(map[string]any)
	if !ok || authData["connectionRes"] != "1" {
		return fmt.Errorf("authentication rejected: %v", authResp)
	}
	if info, ok := authData["cameraInfo"].(map[string]any); ok {
		s.camera.SetCameraInfo(info)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ack, err := mux.Send(s.resolvingMessage()).Result(s.opts.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("set resolving: %w", err)
	}
	if ok, isBool := ack.(bool); isBool && !ok {
		s.log.Warn("camera did not acknowledge resolving change")
	}
	return nil
}

// resolvingMessage builds the correct SetResolving variant for the
// camera with the current preferred parameters.
func (s *Session) resolvingMessage() protocol.Message {
	frameSize := byte(s.preferredFrameSize.Load())
	bitrate := byte(s.preferredBitrate.Load())
	fps := byte(s.preferredFPS.Load())
	if s.camera.UsesDBResolving() {
		return protocol.DBSetResolving{FrameSize: frameSize, Bitrate: bitrate, FPS: fps}
	}
	return protocol.SetResolving{FrameSize: frameSize, Bitrate: bitrate, FPS: fps}
}

// UpdateFrameSizeRate re-sends the resolving command, optionally with a
// new bitrate or fps, and records the new preference.
func (s *Session) UpdateFrameSizeRate(bitrate, fps int) error {
	if bitrate > 0 {
		s.preferredBitrate.Store(int32(bitrate))
	}
	if fps > 0 {
		s.preferredFPS.Store(int32(fps))
	}
	mux := s.Mux()
	if mux == nil {
		return fmt.Errorf("session has no control mux")
	}
	_, err := mux.Send(s.resolvingMessage()).Result(5 * time.Second)
	return err
}

// Mux returns the session's control mux, nil before authentication.
func (s *Session) Mux() *Mux {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

func (s *Session) channel() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Disconnect tears the session down: the mux listener first (it must
// exit before the channel closes), then the AV client, then the IOTC
// session. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	mux := s.mux
	s.mux = nil
	sid, ch, had := s.sessionID, s.channelID, s.hasIDs
	s.hasIDs = false
	s.channelID = -1
	s.mu.Unlock()

	if mux != nil {
		mux.Stop()
	}
	if ch >= 0 {
		s.tr.AVClientStop(ch)
	}
	if had {
		if err := s.tr.ConnectStop(sid); err != nil {
			s.log.DebugIOTC("connect stop", "error", err)
		}
		s.tr.SessionClose(sid)
	}
	s.setState(StateDisconnected)
}
