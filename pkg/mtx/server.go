package mtx

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ethan/iotc-bridge/pkg/logger"
)

// Options configures the relay setup.
type Options struct {
	ConfigPath   string
	Binary       string
	EventPipe    string
	RecordPath   string
	RecordLength string
	RecordKeep   string
	// APIAuth is the password for the bridge's own read-only user.
	APIAuth string
	// StreamAuth is the operator's "user:pass[:ip,ip][@path,path]|..."
	// read-only user string.
	StreamAuth string
	// BridgeIP values are added as WebRTC additional hosts.
	BridgeIP string
	// LLHLS enables the low-latency HLS variant with TLS.
	LLHLS     bool
	LLHLSKey  string
	LLHLSCert string
}

// Server owns the media relay child process and its configuration file.
type Server struct {
	opts Options
	log  *logger.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewServer writes the base configuration (auth, path defaults, event
// hooks) and returns the server, not yet started.
func NewServer(opts Options, log *logger.Logger) (*Server, error) {
	s := &Server{opts: opts, log: log}
	err := Update(opts.ConfigPath, func(c *ConfigFile) error {
		s.setupAuth(c)
		s.setupPathDefaults(c)
		if opts.BridgeIP != "" {
			s.setupWebRTC(c)
		}
		if opts.LLHLS {
			s.setupLLHLS(c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupPathDefaults(c *ConfigFile) {
	c.Set("paths", map[string]any{})
	for _, event := range []string{"Read", "Unread", "Ready", "NotReady"} {
		cmd := fmt.Sprintf("bash -c 'echo $MTX_PATH,%s! > %s;'", event, s.opts.EventPipe)
		c.Set("pathDefaults.runOn"+event, cmd)
	}
	c.Set("pathDefaults.runOnDemandStartTimeout", "30s")
	c.Set("pathDefaults.runOnDemandCloseAfter", "60s")
	c.Set("pathDefaults.recordPath", s.opts.RecordPath)
	c.Set("pathDefaults.recordSegmentDuration", s.opts.RecordLength)
	c.Set("pathDefaults.recordDeleteAfter", s.opts.RecordKeep)
}

func (s *Server) setupAuth(c *ConfigFile) {
	// The internal publisher: the bridge's own ffmpeg children, loopback
	// only, allowed to publish and read.
	publisher := map[string]any{
		"ips": []any{"127.0.0.1"},
		"permissions": []any{
			map[string]any{"action": "read"},
			map[string]any{"action": "publish"},
		},
	}
	c.SetList("authInternalUsers", publisher)

	if s.opts.APIAuth != "" || s.opts.StreamAuth == "" {
		client := map[string]any{
			"permissions": []any{map[string]any{"action": "read"}},
		}
		if s.opts.APIAuth != "" {
			client["user"] = "wb"
			client["pass"] = s.opts.APIAuth
		}
		c.Add("authInternalUsers", client)
	}
	if s.opts.StreamAuth != "" {
		s.log.Info("custom stream auth enabled")
		for _, client := range ParseAuth(s.opts.StreamAuth) {
			c.Add("authInternalUsers", client)
		}
	}
}

func (s *Server) setupWebRTC(c *ConfigFile) {
	ips := strings.Split(s.opts.BridgeIP, ",")
	s.log.DebugMTX("webrtc additional hosts", "ips", ips)
	values := make([]any, len(ips))
	for i, ip := range ips {
		values[i] = ip
	}
	c.Add("webrtcAdditionalHosts", values...)
}

func (s *Server) setupLLHLS(c *ConfigFile) {
	s.log.Info("configuring LL-HLS")
	c.Set("hlsVariant", "lowLatency")
	c.Set("hlsEncryption", "yes")
	if c.Get("hlsServerKey") != nil {
		return
	}
	if s.opts.LLHLSKey != "" && s.opts.LLHLSCert != "" {
		c.Set("hlsServerKey", s.opts.LLHLSKey)
		c.Set("hlsServerCert", s.opts.LLHLSCert)
	}
}

// AddPath registers a camera uri. On-demand paths get start/stop hooks
// that write to the event pipe.
func (s *Server) AddPath(uri string, onDemand bool) error {
	return Update(s.opts.ConfigPath, func(c *ConfigFile) error {
		if onDemand {
			cmd := "bash -c 'echo $MTX_PATH,%s! > " + s.opts.EventPipe + "'"
			c.Set("paths."+uri+".runOnDemand", fmt.Sprintf(cmd, "start"))
			c.Set("paths."+uri+".runOnUnDemand", fmt.Sprintf(cmd, "stop"))
		} else {
			c.Set("paths."+uri, map[string]any{})
		}
		return nil
	})
}

// AddSource points a path at an external source url (native RTSP
// firmwares are relayed directly).
func (s *Server) AddSource(uri, source string) error {
	return Update(s.opts.ConfigPath, func(c *ConfigFile) error {
		c.Set("paths."+uri+".source", source)
		return nil
	})
}

// EnableRecord turns on recording for a path.
func (s *Server) EnableRecord(uri string) error {
	s.log.Info("recording enabled", "camera", uri,
		"segment", s.opts.RecordLength, "path", s.opts.RecordPath)
	return Update(s.opts.ConfigPath, func(c *ConfigFile) error {
		c.Set("paths."+uri+".record", true)
		return nil
	})
}

// Start launches the relay child process.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	s.log.Info("starting media relay", "binary", s.opts.Binary)
	cmd := exec.Command(s.opts.Binary, s.opts.ConfigPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start media relay: %w", err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	s.cmd = cmd
	s.done = done
	return nil
}

// Stop kills and reaps the relay child process.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return
	}
	s.log.Info("stopping media relay")
	s.cmd.Process.Kill()
	<-s.done
	s.cmd = nil
	s.done = nil
}

// Restart stops and relaunches the relay.
func (s *Server) Restart() error {
	s.Stop()
	return s.Start()
}

// HealthCheck restarts the relay if its process has exited.
func (s *Server) HealthCheck() {
	s.mu.Lock()
	exited := false
	if s.cmd != nil {
		select {
		case <-s.done:
			exited = true
			s.cmd = nil
			s.done = nil
		default:
		}
	}
	s.mu.Unlock()
	if exited {
		s.log.Error("media relay exited, restarting")
		if err := s.Start(); err != nil {
			s.log.Error("media relay restart failed", "error", err)
		}
	}
}

// ParseAuth parses the operator's read-only auth string. Entries are
// separated by |, each "user:pass[:ip,ip][@path,path]".
func ParseAuth(auth string) []map[string]any {
	var entries []map[string]any
	for _, entry := range strings.Split(auth, "|") {
		creds, endpoints, hasPaths := strings.Cut(entry, "@")
		if !strings.Contains(creds, ":") {
			continue
		}
		parts := strings.SplitN(creds, ":", 3)
		username, password := parts[0], parts[1]
		var ips []any
		if len(parts) == 3 {
			for _, ip := range strings.Split(parts[2], ",") {
				ips = append(ips, ip)
			}
			if username == "" {
				username = "any"
			}
		}
		data := map[string]any{
			"user": username,
			"pass": password,
			"ips":  ips,
		}
		var permissions []any
		if hasPaths {
			for _, endpoint := range strings.Split(endpoints, ",") {
				permissions = append(permissions, map[string]any{"action": "read", "path": endpoint})
			}
		} else {
			permissions = append(permissions, map[string]any{"action": "read"})
		}
		data["permissions"] = permissions
		entries = append(entries, data)
	}
	return entries
}
