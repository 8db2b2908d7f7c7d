package cloud

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// modelNames maps product model codes to their marketing names.
var modelNames = map[string]string{
	"WYZEC1":         "V1",
	"WYZEC1-JZ":      "V2",
	"WYZE_CAKP2JFUS": "V3",
	"HL_CAM4":        "V4",
	"HL_CAM3P":       "V3 Pro",
	"WYZECP1_JEF":    "Pan",
	"HL_PAN2":        "Pan V2",
	"HL_PAN3":        "Pan V3",
	"HL_PANP":        "Pan Pro",
	"WYZEDB3":        "Doorbell",
	"HL_DB2":         "Doorbell V2",
	"GW_BE1":         "Doorbell Pro",
	"AN_RDB1":        "Doorbell Pro 2",
	"GW_GC1":         "OG",
	"GW_GC2":         "OG 3X",
	"WVOD1":          "Outdoor",
	"HL_WCO2":        "Outdoor V2",
	"AN_RSCW":        "Battery Cam Pro",
	"LD_CFP":         "Floodlight Pro",
}

// Models without WebRTC support.
var noWebRTC = map[string]bool{
	"WYZEC1": true, "HL_PANP": true, "WVOD1": true, "HL_WCO2": true,
	"AN_RSCW": true, "WYZEDB3": true, "HL_DB2": true, "GW_BE1": true,
	"AN_RDB1": true,
}

// Known 2K models.
var proCams = map[string]bool{
	"HL_CAM3P": true, "HL_PANP": true, "HL_CAM4": true, "HL_DB2": true,
}

var panCams = map[string]bool{
	"WYZECP1_JEF": true, "HL_PAN2": true, "HL_PAN3": true, "HL_PANP": true,
}

var batteryCams = map[string]bool{
	"WVOD1": true, "HL_WCO2": true, "AN_RSCW": true,
}

// Doorbells with rotated sensors.
var verticalCams = map[string]bool{
	"WYZEDB3": true, "GW_BE1": true, "AN_RDB1": true,
}

// Minimum firmware that supports a substream per model.
var substreamFW = map[string]string{
	"WYZEC1-JZ":      "4.9.9",
	"WYZE_CAKP2JFUS": "4.36.10",
	"HL_CAM3P":       "4.58.0",
}

// Firmware lines that expose a native RTSP server.
var rtspFW = map[string]bool{
	"4.19.": true, "4.20.": true, "4.28.": true, "4.29.": true, "4.61.": true,
}

// Credential is the opaque token state returned by login and refresh.
type Credential struct {
	AccessToken    string         `json:"access_token"`
	RefreshToken   string         `json:"refresh_token"`
	UserID         string         `json:"user_id"`
	MFAOptions     []string       `json:"mfa_options"`
	MFADetails     map[string]any `json:"mfa_details"`
	SMSSessionID   string         `json:"sms_session_id"`
	EmailSessionID string         `json:"email_session_id"`
	PhoneID        string         `json:"phone_id"`
	KeyID          string         `json:"key_id"`
	APIKey         string         `json:"api_key"`
}

// Account is the user profile attached to a credential. OpenUserID is
// required by the user-auth handshake on newer firmwares.
type Account struct {
	PhoneID      string `json:"phone_id"`
	Logo         string `json:"logo"`
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	UserCode     string `json:"user_code"`
	UserCenterID string `json:"user_center_id"`
	OpenUserID   string `json:"open_user_id"`
}

// Camera is one device from the account's device list, plus the
// camera-reported info JSON captured during authentication.
type Camera struct {
	P2PID        string `json:"p2p_id"`
	P2PType      int    `json:"p2p_type"`
	IP           string `json:"ip"`
	Enr          string `json:"enr"`
	MAC          string `json:"mac"`
	ProductModel string `json:"product_model"`
	Nickname     string `json:"nickname"`
	TimezoneName string `json:"timezone_name"`
	FirmwareVer  string `json:"firmware_ver"`
	DTLS         int    `json:"dtls"`
	ParentDTLS   int    `json:"parent_dtls"`
	ParentEnr    string `json:"parent_enr"`
	ParentMAC    string `json:"parent_mac"`
	Thumbnail    string `json:"thumbnail"`

	// CameraInfo is the camera's own settings dump from the auth reply.
	// Kept as decoded JSON; known fields are read through accessors and
	// everything else stays reachable for the control surface.
	CameraInfo map[string]any `json:"camera_info,omitempty"`
}

// SetCameraInfo stores the camera settings JSON from the 10003/10009
// auth response.
func (c *Camera) SetCameraInfo(info map[string]any) {
	c.CameraInfo = info
}

// ModelName returns the marketing name for the camera's product model.
func (c *Camera) ModelName() string {
	if name, ok := modelNames[c.ProductModel]; ok {
		return name
	}
	return c.ProductModel
}

// NameURI returns the slugified, lowercase identifier used as the media
// relay path. URI_SEPARATOR selects the separator; URI_MAC appends the
// MAC tail for disambiguation.
func (c *Camera) NameURI() string {
	sep := "-"
	if s := os.Getenv("URI_SEPARATOR"); s == "-" || s == "_" || s == "#" {
		sep = s
	}
	name := c.Nickname
	if name == "" {
		name = c.MAC
	}
	uri := strings.ToLower(CleanName(name, sep))
	if strings.EqualFold(os.Getenv("URI_MAC"), "true") {
		mac := c.MAC
		if mac == "" {
			mac = c.ParentMAC
		}
		if len(mac) >= 4 {
			uri += sep + strings.ToLower(mac[len(mac)-4:])
		}
	}
	return uri
}

// WebRTCSupport reports whether the model is known to support WebRTC.
func (c *Camera) WebRTCSupport() bool { return !noWebRTC[c.ProductModel] }

// Is2K reports whether the camera encodes at 2K.
func (c *Camera) Is2K() bool {
	return proCams[c.ProductModel] || strings.HasSuffix(c.ModelName(), "Pro")
}

// IsGwell reports the unsupported gwell-based family.
func (c *Camera) IsGwell() bool { return strings.HasPrefix(c.ProductModel, "GW_") }

// IsBattery reports the battery camera family, which needs the wake
// payload and resend disabled.
func (c *Camera) IsBattery() bool { return batteryCams[c.ProductModel] }

// IsVertical reports doorbell models with rotated sensors.
func (c *Camera) IsVertical() bool { return verticalCams[c.ProductModel] }

// IsPanCam reports models with a pan/tilt motor.
func (c *Camera) IsPanCam() bool { return panCams[c.ProductModel] }

// UsesDBResolving reports models that take the doorbell/outdoor variant
// of the resolving command (10052).
func (c *Camera) UsesDBResolving() bool {
	return c.ProductModel == "WYZEDB3" || c.ProductModel == "WVOD1"
}

// IsDTLS reports whether the device (or its parent) requires the DTLS
// connect path.
func (c *Camera) IsDTLS() bool { return c.DTLS > 0 || c.ParentDTLS > 0 }

// AuthEnr returns the secret used to sign the connect challenge: the
// device enr concatenated with the parent device's enr for child devices.
func (c *Camera) AuthEnr() string { return c.Enr + c.ParentEnr }

// CanSubstream reports whether the firmware exposes a secondary stream.
func (c *Camera) CanSubstream() bool {
	if c.RTSPFirmware() {
		return false
	}
	min, ok := substreamFW[c.ProductModel]
	if !ok {
		return false
	}
	return IsMinVersion(c.FirmwareVer, min)
}

// RTSPFirmware reports whether the camera runs a native-RTSP firmware.
func (c *Camera) RTSPFirmware() bool {
	return len(c.FirmwareVer) >= 5 && rtspFW[c.FirmwareVer[:5]]
}

var nonURIChars = regexp.MustCompile(`[^\-\w+]`)

// CleanName strips everything that is not URI safe and uppercases the
// remainder, replacing spaces with the separator.
func CleanName(name, sep string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", sep)
	name = nonURIChars.ReplaceAllString(name, "")
	// Drop any non-ASCII leftovers.
	var b strings.Builder
	for _, r := range name {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// IsMinVersion compares dotted firmware versions numerically.
func IsMinVersion(version, minVersion string) bool {
	if version == "" || minVersion == "" {
		return false
	}
	v := strings.Split(version, ".")
	m := strings.Split(minVersion, ".")
	for i := 0; i < len(v) && i < len(m); i++ {
		vi, err1 := strconv.Atoi(v[i])
		mi, err2 := strconv.Atoi(m[i])
		if err1 != nil || err2 != nil {
			return false
		}
		if vi != mi {
			return vi > mi
		}
	}
	return len(v) >= len(m)
}

// FirmwareAtLeast11 reports fw versions with the newer video-param
// command set (x.y where y >= 50, the "fw 11" line).
func FirmwareAtLeast11(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return major > 4 || (major == 4 && minor >= 50)
}
