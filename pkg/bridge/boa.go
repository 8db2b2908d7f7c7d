package bridge

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/iotc"
	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// boaCam describes a camera whose on-device HTTP server is reachable:
// LAN connection with an SD card present.
type boaCam struct {
	IP  string
	URI string
}

// snapshotRecord tracks the camera-side photo bookkeeping per stream.
type snapshotRecord struct {
	mu        sync.Mutex
	lastPhoto string
	lastMod   time.Time
	lastAlarm string
	cooldown  time.Time
}

var (
	boaDirPattern  = regexp.MustCompile(`<h2>(\d+)</h2>`)
	boaFilePattern = regexp.MustCompile(`<h1>(\w+\.jpg)</h1>`)
)

var boaClient = &http.Client{Timeout: 5 * time.Second}

// checkBoaEnabled reports whether the camera-side HTTP server can and
// should be used: any boa knob set, LAN mode, and an SD card present.
func (s *Stream) checkBoaEnabled(sess *iotc.Session) *boaCam {
	if !(config.EnvBool("BOA_ENABLED") || config.EnvBool("BOA_PHOTO") ||
		config.EnvBool("BOA_ALARM") || config.EnvBool("BOA_MOTION")) {
		return nil
	}

	info := sess.SessionInfo()
	if info == nil || info.Mode != tutk.ModeLAN || info.RemoteIP == "" {
		return nil
	}
	sdParm, ok := s.camera.CameraInfo["sdParm"].(map[string]any)
	if !ok || sdParm["status"] != "1" {
		return nil
	}
	if _, weird := sdParm["detail"]; weird {
		return nil
	}

	s.log.Info("camera-side http server enabled", "ip", info.RemoteIP)
	return &boaCam{IP: info.RemoteIP, URI: s.URI}
}

// boaControl runs the per-tick camera-side housekeeping: keep the HTTP
// server alive, take photos, and pull motion alarms.
func (s *Stream) boaControl(sess *iotc.Session, boa *boaCam) {
	if boa == nil {
		return
	}
	mux := sess.Mux()
	if mux == nil {
		return
	}
	if config.EnvBool("BOA_TAKE_PHOTO") {
		mux.Send(protocol.TakePhoto{})
	}
	if !camHTTPAlive(boa.IP) {
		s.log.Info("starting camera-side http server")
		mux.Send(protocol.StartBoa{})
	}

	s.snapshot.mu.Lock()
	cooledDown := time.Now().After(s.snapshot.cooldown)
	s.snapshot.mu.Unlock()
	if cooledDown && (config.EnvBool("BOA_ALARM") || config.EnvBool("BOA_MOTION")) {
		s.motionAlarm(boa)
	}
	if config.EnvBool("BOA_PHOTO") {
		s.pullLastImage(boa, "photo", true)
	}
}

// boaInfo exposes the photo bookkeeping on the caminfo surface.
func (s *Stream) boaInfo() map[string]any {
	s.snapshot.mu.Lock()
	defer s.snapshot.mu.Unlock()
	return map[string]any{
		"last_alarm": s.snapshot.lastAlarm,
		"last_photo": s.snapshot.lastPhoto,
		"last_mod":   s.snapshot.lastMod,
	}
}

// camHTTPAlive tests whether the camera's port 80 accepts connections.
func camHTTPAlive(ip string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, "80"), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// pullLastImage fetches the newest image of a kind ("photo" or "alarm")
// from the camera SD card into the image directory.
func (s *Stream) pullLastImage(boa *boaCam, kind string, asSnap bool) {
	base := fmt.Sprintf("http://%s/cgi-bin/hello.cgi?name=/%s/", boa.IP, kind)

	dates := fetchMatches(base, boaDirPattern)
	if len(dates) == 0 {
		return
	}
	sort.Strings(dates)
	date := dates[len(dates)-1]

	files := fetchMatches(base+date, boaFilePattern)
	if len(files) == 0 {
		return
	}
	sort.Strings(files)
	fileName := files[len(files)-1]

	s.snapshot.mu.Lock()
	unchanged := fileName == s.snapshot.lastPhoto
	s.snapshot.mu.Unlock()
	if unchanged {
		return
	}

	s.log.Info("pulling file from camera", "kind", kind, "file", fileName)
	resp, err := boaClient.Get(fmt.Sprintf("http://%s/SDPath/%s/%s/%s", boa.IP, kind, date, fileName))
	if err != nil {
		s.log.Error("camera image fetch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	saveName := "_" + fileName
	if kind == "alarm" {
		saveName = "_alarm.jpg"
	}
	if asSnap {
		saveName = ".jpg"
	}
	dest := filepath.Join(imgDir(), boa.URI+saveName)
	out, err := os.Create(dest)
	if err != nil {
		s.log.Error("camera image save failed", "error", err)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		s.log.Error("camera image save failed", "error", err)
		return
	}

	modTime := time.Now()
	if last := resp.Header.Get("Last-Modified"); last != "" {
		if t, err := http.ParseTime(last); err == nil {
			modTime = t
		}
	}
	s.snapshot.mu.Lock()
	s.snapshot.lastPhoto = fileName
	s.snapshot.lastMod = modTime
	s.snapshot.mu.Unlock()
}

// motionAlarm polls the alarm directory; a new file means motion. The
// cooldown throttles repeat alerts.
func (s *Stream) motionAlarm(boa *boaCam) {
	s.pullLastImage(boa, "alarm", false)

	s.snapshot.mu.Lock()
	motion := s.snapshot.lastPhoto != "" && s.snapshot.lastPhoto != s.snapshot.lastAlarm
	if motion {
		s.snapshot.lastAlarm = s.snapshot.lastPhoto
		cooldown := time.Duration(config.EnvInt("BOA_COOLDOWN", 20)) * time.Second
		s.snapshot.cooldown = time.Now().Add(cooldown)
	}
	s.snapshot.mu.Unlock()

	if motion {
		s.log.Info("motion alarm file detected")
	}
	s.gateway.Publish(s.URI, "motion", motion)

	if !motion {
		return
	}
	if target := config.Env("BOA_MOTION"); strings.Contains(target, "://") {
		resp, err := boaClient.Get(strings.ReplaceAll(target, "{cam_name}", boa.URI))
		if err != nil {
			s.log.Error("motion webhook failed", "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.log.Error("motion webhook rejected", "status", resp.StatusCode)
		}
	}
}

func fetchMatches(u string, pattern *regexp.Regexp) []string {
	resp, err := boaClient.Get(u)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range pattern.FindAllStringSubmatch(string(body), -1) {
		out = append(out, m[1])
	}
	return out
}

func imgDir() string {
	return "/" + trimSlashes(config.EnvDefault("IMG_DIR", "img")) + "/"
}

func trimSlashes(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
