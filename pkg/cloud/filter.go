package cloud

import (
	"os"
	"strings"

	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
)

// blacklistModes are the FILTER_MODE values that flip the filter lists
// into a blacklist.
var blacklistModes = map[string]bool{
	"BLOCK": true, "BLACKLIST": true, "EXCLUDE": true, "IGNORE": true, "REVERSE": true,
}

// FilterCameras applies the FILTER_* selection to the device list:
// blacklist when FILTER_MODE says so, whitelist when any FILTER_ knob is
// set, everything otherwise.
func FilterCameras(cams []*Camera, log *logger.Logger) []*Camera {
	if blacklistModes[strings.ToUpper(config.Env("FILTER_MODE"))] {
		var kept []*Camera
		for _, cam := range cams {
			if !matchesFilter(cam) {
				kept = append(kept, cam)
			}
		}
		if len(kept) > 0 {
			log.Info("blacklist mode on", "starting", len(kept), "of", len(cams))
			return kept
		}
	} else if anyFilterSet() {
		var kept []*Camera
		for _, cam := range cams {
			if matchesFilter(cam) {
				kept = append(kept, cam)
			}
		}
		if len(kept) > 0 {
			log.Info("whitelist mode on", "starting", len(kept), "of", len(cams))
			return kept
		}
	}
	return cams
}

func anyFilterSet() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "FILTER_") {
			return true
		}
	}
	return false
}

func matchesFilter(cam *Camera) bool {
	if cam.Nickname == "" {
		return false
	}
	nickname := strings.ToUpper(strings.TrimSpace(cam.Nickname))
	model := strings.ToUpper(cam.ModelName())
	return contains(config.EnvList("FILTER_NAMES"), nickname) ||
		contains(config.EnvList("FILTER_MACS"), cam.MAC) ||
		contains(config.EnvList("FILTER_MODELS"), cam.ProductModel) ||
		contains(config.EnvList("FILTER_MODELS"), model)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
