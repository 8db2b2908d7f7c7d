package protocol

import (
	"fmt"

	"github.com/ethan/iotc-bridge/pkg/xxtea"
)

// Camera status values reported in the first byte of the 10001 reply.
const (
	statusUpdating = 2
	statusEnrCheck = 4
	statusPlain    = 1
	statusEnr16    = 3
	statusEnr32    = 6
)

// ChallengeInput carries everything needed to answer the camera's 10001
// connect challenge.
type ChallengeInput struct {
	// Data is the raw 10001 payload: one status byte followed by the
	// sixteen encrypted challenge bytes.
	Data []byte
	// Protocol is the version the camera stamped on the 10001 header.
	Protocol uint16
	// Enr is the device secret, concatenated with the parent device's
	// secret for child devices. 16 ASCII chars minimum, 32 for DTLS.
	Enr          string
	ProductModel string
	MAC          string
	PhoneID      string
	OpenUserID   string
	EnableAudio  bool
}

// RespondToChallenge runs the challenge procedure on a 10001 reply and
// builds the matching auth message: ConnectUserAuth when the model and
// protocol support command 10008, ConnectAuth otherwise.
func RespondToChallenge(in ChallengeInput) (Message, error) {
	if len(in.Data) < 17 {
		return nil, &ErrProtocol{Reason: fmt.Sprintf("connect challenge too short (%d bytes)", len(in.Data))}
	}

	switch status := in.Data[0]; status {
	case statusUpdating:
		return nil, fmt.Errorf("camera is updating, can't auth")
	case statusEnrCheck:
		return nil, fmt.Errorf("camera is checking enr, can't auth")
	case statusPlain, statusEnr16, statusEnr32:
	default:
		return nil, fmt.Errorf("unexpected camera status in connect challenge: %d", status)
	}

	cameraEnr := make([]byte, 16)
	copy(cameraEnr, in.Data[1:17])

	key := []byte("FFFFFFFFFFFFFFFF")
	switch in.Data[0] {
	case statusEnr16:
		if len(in.Enr) < 16 {
			return nil, fmt.Errorf("enr expected to be at least 16 bytes")
		}
		key = []byte(in.Enr[:16])
	case statusEnr32:
		if len(in.Enr) < 32 {
			return nil, fmt.Errorf("enr expected to be at least 32 bytes")
		}
		inner, err := xxtea.Decrypt(cameraEnr, []byte(in.Enr[:16]))
		if err != nil {
			return nil, fmt.Errorf("decrypt outer challenge: %w", err)
		}
		cameraEnr = inner
		key = []byte(in.Enr[16:32])
	}

	challengeResponse, err := xxtea.Decrypt(cameraEnr, key)
	if err != nil {
		return nil, fmt.Errorf("decrypt challenge: %w", err)
	}

	if Supports(in.ProductModel, int(in.Protocol), 10008) {
		return ConnectUserAuth{
			ChallengeResponse: challengeResponse,
			PhoneID:           in.PhoneID,
			OpenUserID:        in.OpenUserID,
			OpenVideo:         true,
			OpenAudio:         in.EnableAudio,
		}, nil
	}
	return ConnectAuth{
		ChallengeResponse: challengeResponse,
		MAC:               in.MAC,
		OpenVideo:         true,
		OpenAudio:         in.EnableAudio,
	}, nil
}
