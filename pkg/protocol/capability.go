package protocol

// supportedCommands records, per minimum protocol version, which optional
// commands a firmware line understands. The default table applies to all
// models; model entries extend it. Derived from observed firmware
// behavior across the camera families.
var supportedCommands = struct {
	Default map[int][]int
	Models  map[string]map[int][]int
}{
	Default: map[int][]int{
		1:  {10000, 10002, 10020, 10056},
		58: {10008, 10050},
	},
	Models: map[string]map[int][]int{
		// Battery cameras speak 10008 on every shipped firmware.
		"WVOD1":   {1: {10008, 10052}},
		"HL_WCO2": {1: {10008, 10052}},
		"AN_RSCW": {1: {10008, 10052}},
	},
}

// Supports reports whether a camera model speaking the given protocol
// version understands a command. The original doorbell never accepts the
// user-auth handshake regardless of protocol version.
func Supports(productModel string, protocol, command int) bool {
	if productModel == "WYZEDB3" {
		return false
	}

	matches := func(table map[int][]int) bool {
		for minProto, cmds := range table {
			if minProto > protocol {
				continue
			}
			for _, c := range cmds {
				if c == command {
					return true
				}
			}
		}
		return false
	}

	if matches(supportedCommands.Default) {
		return true
	}
	if model, ok := supportedCommands.Models[productModel]; ok {
		return matches(model)
	}
	return false
}
