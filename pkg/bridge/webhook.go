package bridge

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// offlineWebhook notifies an IFTTT-style endpoint that a camera dropped
// offline. Configured as OFFLINE_IFTTT=event:key; unset disables it.
func offlineWebhook(uri string, code int32, log *logger.Logger) {
	ifttt := config.Env("OFFLINE_IFTTT")
	if !strings.Contains(ifttt, ":") {
		return
	}
	event, key, _ := strings.Cut(ifttt, ":")

	target := fmt.Sprintf("https://maker.ifttt.com/trigger/%s/with/key/%s", event, key)
	name := (&tutk.Error{Code: code}).Name()
	resp, err := webhookClient.PostForm(target, url.Values{
		"value1": {uri},
		"value2": {fmt.Sprint(code)},
		"value3": {name},
	})
	if err != nil {
		log.Warn("offline webhook failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn("offline webhook rejected", "status", resp.StatusCode)
		return
	}
	log.Info("sent offline webhook", "event", event, "camera", uri)
}
