// Package config loads the bridge configuration from the environment,
// with optional .env file support and per-camera overrides.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethan/iotc-bridge/pkg/protocol"
)

// Defaults for tunables that have one.
const (
	DefaultBitrate     = 120
	DefaultCooldown    = 10
	DefaultMaxNoReady  = 100
	DefaultMaxBadRes   = 100
	DefaultBoaInterval = 5
	MinSnapshotInt     = 30
)

// Config holds all process-wide settings. Per-camera knobs are resolved
// at stream construction through EnvCam.
type Config struct {
	Email    string
	Password string

	TokenPath string
	ImgPath   string

	IgnoreOffline bool
	OfflineTime   int // cooldown seconds
	FreshData     bool

	SnapshotType string // "rtsp" or "api", empty when disabled
	SnapshotInt  int

	MQTTHost  string
	MQTTPort  string
	MQTTUser  string
	MQTTPass  string
	MQTTTopic string

	MTXConfigPath string
	MTXBinary     string
	EventPipePath string
	RecordPath    string
	RecordLength  string
	RecordKeep    string
	BridgeIP      string
	StreamAuth    string
	APIAuth       string
	LLHLS         bool

	TutkLibPaths []string
	TutkUDPPort  int
	TutkLicense  string
	MaxChannels  int

	MetricsPort string
}

// Load builds the configuration from the environment, optionally merging
// a .env file first (real environment wins).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := mergeEnvFile(envPath); err != nil {
			return nil, err
		}
	}

	snapType, snapInt := SplitIntStr(Env("SNAPSHOT"), MinSnapshotInt, MinSnapshotInt)

	mqttHost, mqttPort, _ := strings.Cut(EnvDefault("MQTT_HOST", ""), ":")
	mqttUser, mqttPass, _ := strings.Cut(EnvDefault("MQTT_AUTH", ""), ":")

	cfg := &Config{
		Email:    Env("WYZE_EMAIL"),
		Password: Env("WYZE_PASSWORD"),

		TokenPath: EnvDefault("TOKEN_PATH", "/tokens/"),
		ImgPath:   "/" + strings.Trim(EnvDefault("IMG_DIR", "img"), "/") + "/",

		IgnoreOffline: EnvBool("IGNORE_OFFLINE"),
		OfflineTime:   EnvInt("OFFLINE_TIME", DefaultCooldown),
		FreshData:     EnvBool("FRESH_DATA"),

		SnapshotType: strings.ToLower(snapType),
		SnapshotInt:  snapInt,

		MQTTHost:  mqttHost,
		MQTTPort:  defaultStr(mqttPort, "1883"),
		MQTTUser:  mqttUser,
		MQTTPass:  mqttPass,
		MQTTTopic: EnvDefault("MQTT_TOPIC", "camerabridge"),

		MTXConfigPath: EnvDefault("MTX_CONFIG", "/app/mediamtx.yml"),
		MTXBinary:     EnvDefault("MTX_BIN", "/app/mediamtx"),
		EventPipePath: EnvDefault("MTX_EVENT_PIPE", "/tmp/mtx_event"),
		RecordPath:    EnvDefault("RECORD_PATH", "/record/%path/%Y-%m-%d-%H-%M-%S"),
		RecordLength:  EnvDefault("RECORD_LENGTH", "60s"),
		RecordKeep:    EnvDefault("RECORD_KEEP", "0s"),
		BridgeIP:      Env("WB_IP"),
		StreamAuth:    os.Getenv("STREAM_AUTH"),
		APIAuth:       os.Getenv("API_AUTH"),
		LLHLS:         EnvBool("LLHLS"),

		TutkUDPPort: EnvInt("TUTK_UDP_PORT", 0),
		TutkLicense: Env("SDK_KEY"),
		MaxChannels: EnvInt("MAX_CHANNELS", 32),

		MetricsPort: Env("METRICS_PORT"),
	}
	if Env("SNAPSHOT") == "" {
		cfg.SnapshotType = ""
	}
	if lib := Env("TUTK_LIB"); lib != "" {
		cfg.TutkLibPaths = strings.Split(lib, ":")
	}
	return cfg, nil
}

// Validate checks the settings without which the bridge cannot start.
func (c *Config) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("missing WYZE_EMAIL")
	}
	if c.Password == "" {
		return fmt.Errorf("missing WYZE_PASSWORD")
	}
	return nil
}

// MQTTEnabled reports whether MQTT publishing is configured.
func (c *Config) MQTTEnabled() bool { return c.MQTTHost != "" }

// Quality is the parsed per-camera QUALITY knob.
type Quality struct {
	FrameSize int
	Bitrate   int
}

// ParseQuality interprets "<HD|SD><bitrate>" with the bitrate clamped to
// its valid range; out-of-range values fall back to the default. is2K
// promotes HD to the 2K frame size on capable models.
func ParseQuality(value string, is2K bool) Quality {
	quality := strings.ToLower(value)
	if quality == "" {
		quality = "na"
	}
	for len(quality) < 3 {
		quality += "0"
	}

	size := protocol.FrameSizeHD
	if strings.Contains(quality, "sd") {
		size = protocol.FrameSizeSD
	}
	bitrate := 0
	fmt.Sscanf(quality[2:], "%d", &bitrate)
	if bitrate < 1 || bitrate > 255 {
		bitrate = DefaultBitrate
	}
	if is2K && size == protocol.FrameSizeHD {
		size = protocol.FrameSizeDoorbellHD
	}
	return Quality{FrameSize: size, Bitrate: bitrate}
}

// mergeEnvFile loads key=value pairs into the process environment,
// skipping keys already set. Values may be URL-encoded.
func mergeEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan env file: %w", err)
	}
	return nil
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
