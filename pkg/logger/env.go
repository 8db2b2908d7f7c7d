package logger

import (
	"os"
	"strings"
)

// ConfigFromEnv builds a logger configuration from environment variables.
//
// Recognized variables:
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: text, json (default: text)
//   - LOG_FILE: output file path (default: stdout)
//   - DEBUG: comma-separated debug categories (iotc, frame, ioctl, mtx,
//     mqtt, cloud, all); any category forces debug level
func ConfigFromEnv() *Config {
	cfg := NewConfig()

	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if format, err := ParseFormat(os.Getenv("LOG_FORMAT")); err == nil {
		cfg.Format = format
	}
	cfg.OutputFile = os.Getenv("LOG_FILE")

	for _, cat := range strings.Split(os.Getenv("DEBUG"), ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat == "" {
			continue
		}
		cfg.EnableCategory(DebugCategory(cat))
		cfg.Level = LevelDebug
	}

	return cfg
}
