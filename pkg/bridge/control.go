package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/iotc"
	"github.com/ethan/iotc-bridge/pkg/protocol"
)

// commandTimeout bounds how long a dispatched command waits for the
// camera's reply.
const commandTimeout = 5 * time.Second

// runControl is the control dispatcher: a sibling of the frame pump that
// serializes live commands through the session's mux. When idle it
// refreshes the camera parameters on the BOA_INTERVAL cadence.
func (s *Stream) runControl(ctx context.Context, sess *iotc.Session) {
	boa := s.checkBoaEnabled(sess)
	interval := time.Duration(config.EnvInt("BOA_INTERVAL", config.DefaultBoaInterval)) * time.Second

	for sess.State() == iotc.StateAuthSucceeded {
		s.boaControl(sess, boa)

		var cmd command
		select {
		case <-ctx.Done():
			return
		case cmd = <-s.cmds:
		case <-time.After(interval):
			s.updateParams(sess)
			continue
		}

		var resp CommandResult
		switch cmd.Topic {
		case "caminfo":
			info := s.camera.CameraInfo
			if info == nil {
				info = map[string]any{}
			}
			if boa != nil {
				info["boa_info"] = s.boaInfo()
			}
			resp = CommandResult{"status": "success", "response": info}
		case "cruise_point":
			resp = s.panToCruisePoint(sess, cmd.Payload)
		case "bitrate", "fps":
			if cmd.Payload != nil {
				resp = s.updateBitFPS(sess, cmd.Topic, cmd.Payload)
				break
			}
			fallthrough
		default:
			resp = s.sendCameraCommand(sess, cmd.Topic, cmd.Payload)
			if boa != nil && cmd.Topic == "take_photo" {
				s.pullLastImage(boa, "photo", false)
			}
		}

		status, _ := resp["status"].(string)
		commandsSent.WithLabelValues(s.URI, status).Inc()
		cmd.Reply <- resp
	}
}

// updateParams runs the periodic parameter refresh: the enumerated
// param ids, plus the dedicated bitrate read on newer firmwares.
func (s *Stream) updateParams(sess *iotc.Session) {
	if sess.State() != iotc.StateAuthSucceeded {
		return
	}
	fw11 := cloud.FirmwareAtLeast11(s.camera.FirmwareVer)

	var ids []byte
	for topic, id := range protocol.ParamIDs {
		if fw11 && (topic == "bitrate" || topic == "res") {
			continue
		}
		ids = append(ids, id)
	}
	s.queryParams(sess, ids)

	if fw11 {
		s.queryVideoParam(sess)
	}
}

func (s *Stream) queryParams(sess *iotc.Session, ids []byte) {
	mux := sess.Mux()
	if mux == nil {
		return
	}
	res, err := mux.Send(protocol.CheckCameraParams{ParamIDs: ids}).Result(commandTimeout)
	if err != nil {
		s.log.DebugIOCtl("param refresh failed", "error", err)
		return
	}
	if values, ok := res.(map[string]any); ok {
		s.publishParamValues(values)
		s.reconcileBitrate(sess, values)
	}
}

func (s *Stream) queryVideoParam(sess *iotc.Session) {
	mux := sess.Mux()
	if mux == nil {
		return
	}
	res, err := mux.Send(protocol.GetVideoParam{}).Result(commandTimeout)
	if err != nil {
		s.log.DebugIOCtl("video param read failed", "error", err)
		return
	}
	if values, ok := res.(map[string]any); ok {
		s.publishParamValues(values)
		s.reconcileBitrate(sess, values)
	}
}

// publishParamValues mirrors freshly read camera values to MQTT.
func (s *Stream) publishParamValues(values map[string]any) {
	if bitrate, ok := values["bitrate"]; ok {
		s.gateway.Publish(s.URI, "bitrate", bitrate)
	}
	for topic, id := range protocol.ParamIDs {
		if v, ok := values[strconv.Itoa(int(id))]; ok {
			s.gateway.Publish(s.URI, topic, v)
		}
	}
}

// reconcileBitrate re-asserts the preferred bitrate when the camera
// reports something else. Responses carry the value either under
// "bitrate" (10050) or under the "3" param id (10020).
func (s *Stream) reconcileBitrate(sess *iotc.Session, values map[string]any) {
	raw, ok := values["bitrate"]
	if !ok {
		raw, ok = values["3"]
	}
	if !ok {
		return
	}
	reported := intFromAny(raw)
	if reported == 0 || reported == sess.PreferredBitrate() {
		return
	}
	s.log.Info("bitrate drifted, re-asserting",
		"reported", reported, "preferred", sess.PreferredBitrate())
	if err := sess.UpdateFrameSizeRate(0, 0); err != nil {
		s.log.Warn("bitrate re-assert failed", "error", err)
	}
}

// updateBitFPS handles the reframe topics: set a new bitrate or fps via
// the resolving command and publish the accepted value.
func (s *Stream) updateBitFPS(sess *iotc.Session, topic string, payload any) CommandResult {
	resp := CommandResult{"command": topic, "payload": payload, "value": 0}
	s.log.Info("control set", "topic", topic, "payload", payload)

	val := intFromAny(payload)
	if m, ok := payload.(map[string]any); ok {
		val = intFromAny(m[topic])
	}
	if val <= 0 {
		resp["status"] = "error"
		resp["response"] = fmt.Sprintf("invalid %s: %v", topic, payload)
		return resp
	}

	var err error
	if topic == "bitrate" {
		err = sess.UpdateFrameSizeRate(val, 0)
	} else {
		err = sess.UpdateFrameSizeRate(0, val)
	}
	if err != nil {
		resp["status"] = "error"
		resp["response"] = err.Error()
		return resp
	}
	s.gateway.Publish(s.URI, topic, val)
	resp["status"] = "success"
	resp["value"] = val
	return resp
}

// panToCruisePoint reads the patrol waypoints and moves to the indexed
// one. Index 0 and 1 both select the first point; i>=2 selects point
// i-1, matching the 1-based operator surface.
func (s *Stream) panToCruisePoint(sess *iotc.Session, payload any) CommandResult {
	resp := CommandResult{"command": "cruise_point", "status": "error", "value": "-"}
	s.log.Info("control set", "topic", "cruise_point", "payload", payload)

	i := cruiseIndex(intFromAny(payload))

	mux := sess.Mux()
	if mux == nil {
		resp["response"] = "no control channel"
		return resp
	}
	res, err := mux.Send(protocol.GetCruisePoints{}).Result(commandTimeout)
	if err != nil {
		resp["response"] = err.Error()
		return resp
	}
	points, ok := res.([]protocol.CruisePoint)
	if !ok || len(points) == 0 {
		resp["response"] = fmt.Sprintf("invalid cruise points: %v", res)
		return resp
	}
	if i < 0 || i >= len(points) {
		resp["response"] = fmt.Sprintf("cruise point %d not found (%d points)", i, len(points))
		return resp
	}

	s.log.Info("pan to cruise point", "index", i, "vertical", points[i].Vertical, "horizontal", points[i].Horizontal)
	res, err = mux.Send(protocol.SetPTZPosition{
		Vertical:   points[i].Vertical,
		Horizontal: points[i].Horizontal,
	}).Result(commandTimeout)
	if err != nil {
		resp["response"] = err.Error()
		return resp
	}
	resp["status"] = "success"
	resp["response"] = normalizeResponse(res)
	return resp
}

// cruiseIndex maps the 1-based operator index onto the waypoint list;
// zero and one both select the first point.
func cruiseIndex(index int) int {
	if index > 0 {
		return index - 1
	}
	return index
}

// sendCameraCommand resolves a catalog topic into a wire message, sends
// it, and normalizes the reply. Command failures never interrupt the
// dispatcher loop.
func (s *Stream) sendCameraCommand(sess *iotc.Session, topic string, payload any) CommandResult {
	resp := CommandResult{"command": topic, "payload": payload, "value": nil}

	// The status topic reports the session state without a wire message.
	if topic == "status" {
		resp["status"] = "success"
		resp["response"] = s.State().String()
		resp["value"] = s.State().String()
		return resp
	}

	msg, params, err := buildCommand(topic, payload)
	if topic == "bitrate" && payload == nil {
		// A bitrate read goes through the dedicated video-param command
		// on newer firmwares, the enumerated params otherwise.
		if cloud.FirmwareAtLeast11(s.camera.FirmwareVer) {
			msg, params, err = protocol.GetVideoParam{}, nil, nil
		} else {
			msg, params, err = protocol.CheckCameraParams{ParamIDs: []byte{protocol.ParamIDs["bitrate"]}}, nil, nil
		}
	}
	if err != nil {
		s.log.Error("control command error", "topic", topic, "error", err)
		return CommandResult{"status": "error", "response": err.Error(), "command": topic}
	}
	if payload != nil {
		s.log.Info("control set", "topic", topic, "payload", payload)
	} else {
		s.log.Info("control get", "topic", topic)
	}

	mux := sess.Mux()
	if mux == nil {
		return CommandResult{"status": "error", "response": "no control channel", "command": topic}
	}
	fut := mux.Send(msg)

	// Rotary commands ack out of band; report success immediately.
	if msg.Code() == 11000 || msg.Code() == 11004 {
		resp["status"] = "success"
		return resp
	}

	res, err := fut.Result(commandTimeout)
	if err != nil {
		if err == iotc.ErrResultTimeout {
			resp["status"] = "success"
			return resp
		}
		s.log.Error("control command error", "topic", topic, "error", err)
		return CommandResult{"status": "error", "response": err.Error(), "command": topic}
	}

	if values, ok := res.(map[string]any); ok && (msg.Code() == 10020 || msg.Code() == 10050) {
		s.publishParamValues(values)
		s.reconcileBitrate(sess, values)
	}

	normalized := normalizeResponse(res)
	resp["status"] = "success"
	resp["response"] = normalized
	resp["value"] = normalized
	if params != nil && !protocol.GetPayload[topic] {
		resp["value"] = joinInts(params)
	}
	return resp
}

// buildCommand maps a topic and payload onto a catalog message. Set
// semantics apply when a payload is present and the topic has a write
// code; read semantics otherwise.
func buildCommand(topic string, payload any) (protocol.Message, []int, error) {
	params := parsePayload(payload)
	isSet := payload != nil && !protocol.GetPayload[topic]

	if isSet {
		code, ok := protocol.SetCommands[topic]
		if !ok {
			return nil, nil, fmt.Errorf("unknown command %q", topic)
		}
		switch code {
		case 11000:
			if len(params) < 2 {
				return nil, nil, fmt.Errorf("rotary_degree needs horizontal and vertical")
			}
			msg := protocol.SetRotaryByDegree{Horizontal: int16(params[0]), Vertical: int16(params[1])}
			if len(params) > 2 {
				msg.Degree = int16(params[2])
			}
			return msg, params, nil
		case 11002:
			text, _ := payload.(string)
			action := protocol.RotaryAction(strings.ToLower(strings.TrimSpace(text)))
			return protocol.SetRotaryByAction{Horizontal: action}, []int{int(action)}, nil
		case 11004:
			return protocol.ResetRotatePosition{}, nil, nil
		default:
			bytesParams := make([]byte, len(params))
			for i, p := range params {
				bytesParams[i] = byte(p)
			}
			return protocol.Set{Cmd: code, Params: bytesParams}, params, nil
		}
	}

	code, ok := protocol.GetCommands[topic]
	if !ok {
		return nil, nil, fmt.Errorf("unknown command %q", topic)
	}
	switch code {
	case 10020:
		if topic == "param_info" {
			ids := paramIDsFromPayload(payload)
			return protocol.CheckCameraParams{ParamIDs: ids}, params, nil
		}
		return protocol.CheckCameraInfo{}, nil, nil
	case 10058:
		return protocol.TakePhoto{}, nil, nil
	case 10148:
		return protocol.StartBoa{}, nil, nil
	default:
		return protocol.Get{Cmd: code}, nil, nil
	}
}

// parsePayload resolves a command payload into integer parameters:
// symbolic values through the synonym table, digit strings, and comma
// separated lists.
func parsePayload(payload any) []int {
	switch v := payload.(type) {
	case nil:
		return nil
	case int:
		return []int{v}
	case float64:
		return []int{int(v)}
	case []int:
		return v
	case string:
		text := strings.ToLower(strings.TrimSpace(v))
		if vals, ok := protocol.CommandValues[text]; ok {
			return vals
		}
		var params []int
		for _, part := range strings.Split(strings.Trim(text, "'\""), ",") {
			part = strings.TrimSpace(part)
			if n, err := strconv.Atoi(part); err == nil {
				params = append(params, n)
			}
		}
		return params
	case map[string]any:
		var params []int
		for _, val := range v {
			params = append(params, intFromAny(val))
		}
		return params
	default:
		return nil
	}
}

// paramIDsFromPayload turns a param_info payload into raw param ids,
// defaulting to the full enumerated set.
func paramIDsFromPayload(payload any) []byte {
	var ids []byte
	if text, ok := payload.(string); ok && text != "" {
		for _, part := range strings.Split(text, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				ids = append(ids, byte(n))
			}
		}
	}
	if len(ids) == 0 {
		for _, id := range protocol.ParamIDs {
			ids = append(ids, id)
		}
	}
	return ids
}

// normalizeResponse flattens camera replies for the operator surface:
// raw bytes become a comma-joined decimal string, digit strings become
// integers.
func normalizeResponse(res any) any {
	switch v := res.(type) {
	case []byte:
		parts := make([]string, len(v))
		for i, b := range v {
			parts[i] = strconv.Itoa(int(b))
		}
		joined := strings.Join(parts, ",")
		if n, err := strconv.Atoi(joined); err == nil {
			return n
		}
		return joined
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		return v
	default:
		return v
	}
}

func joinInts(params []int) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
