package protocol

// GetCommands maps command topic names to their read codes. Topics with a
// zero code are handled outside the catalog (session status and the like).
var GetCommands = map[string]uint16{
	"take_photo":      10058,
	"irled":           10044,
	"night_vision":    10040,
	"status_light":    10030,
	"camera_time":     10090,
	"night_switch":    10624,
	"alarm":           10632,
	"start_boa":       10148,
	"pan_cruise":      11014,
	"motion_tracking": 11020,
	"motion_tagging":  10290,
	"camera_info":     10020,
	"rtsp":            10604,
	"param_info":      10020,
}

// SetCommands maps command topic names to their write codes. The
// motion_tracking topic intentionally shares the motion_tagging write
// code; the firmware exposes both behind one setting.
var SetCommands = map[string]uint16{
	"irled":           10046,
	"night_vision":    10042,
	"status_light":    10032,
	"camera_time":     10092,
	"night_switch":    10626,
	"alarm":           10630,
	"rotary_action":   11002,
	"rotary_degree":   11000,
	"reset_rotation":  11004,
	"pan_cruise":      11016,
	"motion_tracking": 10292,
	"motion_tagging":  10292,
	"fps":             10052,
	"rtsp":            10600,
}

// GetPayload lists get topics that carry a payload.
var GetPayload = map[string]bool{
	"param_info": true,
}

// ParamIDs maps topic names to the parameter ids understood by
// CheckCameraParams (10020).
var ParamIDs = map[string]byte{
	"status_light":    1,
	"night_vision":    2,
	"bitrate":         3,
	"res":             4,
	"fps":             5,
	"motion_tagging":  21,
	"time_zone":       22,
	"motion_tracking": 27,
	"irled":           50,
}

// CommandValues resolves the symbolic on/off style payload synonyms to
// their wire constants. Directional synonyms resolve to degree pairs for
// the rotary commands.
var CommandValues = map[string][]int{
	"on":    {1},
	"off":   {2},
	"auto":  {3},
	"true":  {1},
	"false": {2},
	"left":  {-90, 0},
	"right": {90, 0},
	"up":    {0, 90},
	"down":  {0, -90},
}

// RotaryActions resolves rotary_action payloads. Both the symbolic names
// and the legacy digit strings are accepted; anything else falls back to
// "clock".
var RotaryActions = map[string]byte{
	"clock": 1,
	"anti":  2,
	"0":     0,
	"1":     1,
	"2":     2,
	"3":     3,
}

// RotaryAction returns the wire value for a rotary_action payload.
func RotaryAction(payload string) byte {
	if v, ok := RotaryActions[payload]; ok {
		return v
	}
	return RotaryActions["clock"]
}
