package bridge

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
)

// ffmpegSink is the per-stream transcoder child. The frame pump owns it:
// frames go to stdin, and the owner terminates and reaps it on teardown.
type ffmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *logger.Logger
}

// startFFmpeg spawns the transcoder for a stream. vcodec is the source
// demuxer name (h264/hevc) and fps the nominal framerate.
func startFFmpeg(uri, vcodec string, fps int, record, isVertical bool, log *logger.Logger) (*ffmpegSink, error) {
	args := ffmpegCmd(uri, vcodec, fps, isVertical)
	log.DebugFrame("ffmpeg command", "args", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegSink{cmd: cmd, stdin: stdin, log: log}, nil
}

// Write feeds raw elementary-stream bytes to the transcoder.
func (f *ffmpegSink) Write(p []byte) (int, error) {
	return f.stdin.Write(p)
}

// Stop closes stdin, signals the child, and reaps it.
func (f *ffmpegSink) Stop() {
	f.stdin.Close()
	if f.cmd.Process != nil {
		f.cmd.Process.Signal(os.Interrupt)
	}
	done := make(chan struct{})
	go func() {
		f.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		f.cmd.Process.Kill()
		<-done
	}
}

// ffmpegCmd builds the transcoder command line. FFMPEG_CMD (per camera)
// replaces it wholesale; FFMPEG_FLAGS tunes the default input flags.
func ffmpegCmd(uri, vcodec string, fps int, isVertical bool) []string {
	if custom := config.EnvCam("FFMPEG_CMD", strings.ToUpper(uri), ""); custom != "" {
		custom = strings.ReplaceAll(custom, "{cam_name}", uri)
		custom = strings.ReplaceAll(custom, "{CAM_NAME}", strings.ToUpper(uri))
		cmd := strings.Fields(custom)
		if len(cmd) > 0 && !strings.Contains(strings.ToLower(cmd[0]), "ffmpeg") {
			cmd = append([]string{"ffmpeg"}, cmd...)
		}
		return cmd
	}

	flags := config.EnvCam("FFMPEG_FLAGS", strings.ToUpper(uri),
		"-fflags +flush_packets+nobuffer -flags +low_delay")

	args := []string{"ffmpeg", "-hide_banner", "-loglevel", ffmpegLogLevel()}
	args = append(args, strings.Fields(strings.Trim(flags, "'\" \n"))...)
	args = append(args,
		"-thread_queue_size", "8",
		"-analyzeduration", "32",
		"-probesize", "32",
		"-f", vcodec,
	)
	if fps > 0 {
		args = append(args, "-r", fmt.Sprint(fps))
	}
	args = append(args,
		"-i", "pipe:0",
		"-map", "0:v",
		"-c:v", "copy",
		"-fps_mode", "passthrough",
		"-flush_packets", "1",
		"-rtbufsize", "1",
		"-copyts", "-copytb", "1",
		"-rtsp_transport", rtspTransport(),
		"-f", "rtsp", "rtsp://0.0.0.0:8554/"+uri,
	)
	return args
}

func ffmpegLogLevel() string {
	level := strings.ToLower(config.EnvDefault("FFMPEG_LOGLEVEL", "fatal"))
	switch level {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug":
		return level
	}
	return "verbose"
}

func rtspTransport() string {
	if strings.Contains(config.Env("MTX_PROTOCOLS"), "udp") {
		return "udp"
	}
	return "tcp"
}

// rtspSnapCmd builds the ffmpeg invocation that grabs one JPEG from a
// live stream into the image directory.
func rtspSnapCmd(uri, imgPath string) []string {
	auth := ""
	if api := os.Getenv("API_AUTH"); api != "" {
		auth = "wb:" + api + "@"
	}
	return []string{
		"ffmpeg", "-hide_banner", "-loglevel", "fatal",
		"-rtsp_transport", rtspTransport(),
		"-i", fmt.Sprintf("rtsp://%s0.0.0.0:8554/%s", auth, uri),
		"-vframes", "1",
		"-y", imgPath + uri + ".jpg",
	}
}
