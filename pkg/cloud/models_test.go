package cloud

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNameURI(t *testing.T) {
	os.Unsetenv("URI_SEPARATOR")
	os.Unsetenv("URI_MAC")

	tests := []struct {
		name string
		cam  Camera
		want string
	}{
		{"spaces become separator", Camera{Nickname: "Front Door"}, "front-door"},
		{"specials stripped", Camera{Nickname: "Back (Yard) #2!"}, "back-yard-2"},
		{"falls back to mac", Camera{MAC: "AABBCCDDEEFF"}, "aabbccddeeff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cam.NameURI())
		})
	}
}

func TestNameURISeparatorAndMAC(t *testing.T) {
	t.Setenv("URI_SEPARATOR", "_")
	t.Setenv("URI_MAC", "true")
	cam := Camera{Nickname: "Front Door", MAC: "AABBCCDDEEFF"}
	assert.Equal(t, "front_door_eeff", cam.NameURI())
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		is2K      bool
		isPan     bool
		isBattery bool
		vertical  bool
		webrtc    bool
	}{
		{"WYZE_CAKP2JFUS", false, false, false, false, true},
		{"HL_CAM3P", true, false, false, false, true},
		{"HL_PANP", true, true, false, false, false},
		{"WVOD1", false, false, true, false, false},
		{"WYZEDB3", false, false, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			cam := Camera{ProductModel: tt.model}
			assert.Equal(t, tt.is2K, cam.Is2K())
			assert.Equal(t, tt.isPan, cam.IsPanCam())
			assert.Equal(t, tt.isBattery, cam.IsBattery())
			assert.Equal(t, tt.vertical, cam.IsVertical())
			assert.Equal(t, tt.webrtc, cam.WebRTCSupport())
		})
	}
}

func TestUsesDBResolving(t *testing.T) {
	assert.True(t, (&Camera{ProductModel: "WYZEDB3"}).UsesDBResolving())
	assert.True(t, (&Camera{ProductModel: "WVOD1"}).UsesDBResolving())
	assert.False(t, (&Camera{ProductModel: "WYZE_CAKP2JFUS"}).UsesDBResolving())
}

func TestAuthEnrIncludesParent(t *testing.T) {
	cam := Camera{Enr: "0123456789abcdef", ParentEnr: "FEDCBA9876543210"}
	assert.Equal(t, "0123456789abcdefFEDCBA9876543210", cam.AuthEnr())
}

func TestIsDTLS(t *testing.T) {
	assert.False(t, (&Camera{}).IsDTLS())
	assert.True(t, (&Camera{DTLS: 1}).IsDTLS())
	assert.True(t, (&Camera{ParentDTLS: 1}).IsDTLS())
}

func TestCanSubstream(t *testing.T) {
	cam := Camera{ProductModel: "WYZE_CAKP2JFUS", FirmwareVer: "4.36.10"}
	assert.True(t, cam.CanSubstream())
	cam.FirmwareVer = "4.36.9"
	assert.False(t, cam.CanSubstream())
	cam.FirmwareVer = "4.61.0" // native rtsp firmware
	assert.False(t, cam.CanSubstream())
	assert.False(t, (&Camera{ProductModel: "WYZEC1"}).CanSubstream())
}

func TestIsMinVersion(t *testing.T) {
	tests := []struct {
		version, min string
		want         bool
	}{
		{"4.36.10", "4.36.10", true},
		{"4.36.11", "4.36.10", true},
		{"4.37.0", "4.36.10", true},
		{"4.36.9", "4.36.10", false},
		{"4.9.9", "4.36.10", false},
		{"", "1.0", false},
		{"1.0", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMinVersion(tt.version, tt.min), "%s >= %s", tt.version, tt.min)
	}
}

func TestFirmwareAtLeast11(t *testing.T) {
	assert.True(t, FirmwareAtLeast11("4.50.1"))
	assert.True(t, FirmwareAtLeast11("4.61.0"))
	assert.False(t, FirmwareAtLeast11("4.36.10"))
	assert.False(t, FirmwareAtLeast11(""))
}

func TestTripleMD5(t *testing.T) {
	a := TripleMD5("password")
	assert.Len(t, a, 32)
	assert.Equal(t, a, TripleMD5("password"))
	assert.NotEqual(t, a, TripleMD5("Password"))
}

func TestGenerateTOTP(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	code := GenerateTOTP("ABCDEFGHIJKLMNOP", at)
	assert.Len(t, code, 6)
	assert.Equal(t, code, GenerateTOTP("abcd efgh ijkl mnop", at), "secret is normalized")
	assert.NotEqual(t, code, GenerateTOTP("ABCDEFGHIJKLMNOP", at.Add(time.Minute)))
	assert.Empty(t, GenerateTOTP("tooshort", at))
}
