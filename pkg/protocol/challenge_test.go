package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/iotc-bridge/pkg/xxtea"
)

// challengeData builds a 10001 payload carrying an encrypted challenge.
func challengeData(t *testing.T, status byte, challenge, key []byte) []byte {
	t.Helper()
	enc, err := xxtea.Encrypt(challenge, key)
	require.NoError(t, err)
	return append([]byte{status}, enc...)
}

func TestRespondToChallengeStatus3(t *testing.T) {
	enr := "0123456789abcdef"
	challenge := []byte("SECRETCHALLENGE0")
	data := challengeData(t, 3, challenge, []byte(enr))

	msg, err := RespondToChallenge(ChallengeInput{
		Data:         data,
		Protocol:     100,
		Enr:          enr,
		ProductModel: "WYZE_CAKP2JFUS",
		MAC:          "AABBCCDDEEFF",
		PhoneID:      "phone-id",
		OpenUserID:   "open-user",
		EnableAudio:  true,
	})
	require.NoError(t, err)

	auth, ok := msg.(ConnectUserAuth)
	require.True(t, ok, "high protocol V3 should use the user auth")
	assert.Equal(t, challenge, auth.ChallengeResponse)
	assert.Equal(t, "open-user", auth.OpenUserID)
}

func TestRespondToChallengeStatus6(t *testing.T) {
	enr := "0123456789abcdefFEDCBA9876543210"
	challenge := []byte("SECRETCHALLENGE0")

	inner, err := xxtea.Encrypt(challenge, []byte(enr[16:32]))
	require.NoError(t, err)
	outer, err := xxtea.Encrypt(inner, []byte(enr[:16]))
	require.NoError(t, err)
	data := append([]byte{6}, outer...)

	msg, err := RespondToChallenge(ChallengeInput{
		Data:         data,
		Protocol:     100,
		Enr:          enr,
		ProductModel: "HL_CAM4",
		MAC:          "AABBCCDDEEFF",
		PhoneID:      "phone-id",
		OpenUserID:   "open-user",
	})
	require.NoError(t, err)
	auth, ok := msg.(ConnectUserAuth)
	require.True(t, ok)
	assert.Equal(t, challenge, auth.ChallengeResponse)
}

func TestRespondToChallengeLegacyAuth(t *testing.T) {
	enr := "0123456789abcdef"
	data := challengeData(t, 3, []byte("SECRETCHALLENGE0"), []byte(enr))

	// The doorbell never speaks the user-auth handshake.
	msg, err := RespondToChallenge(ChallengeInput{
		Data:         data,
		Protocol:     100,
		Enr:          enr,
		ProductModel: "WYZEDB3",
		MAC:          "AABBCCDDEEFF",
	})
	require.NoError(t, err)
	_, ok := msg.(ConnectAuth)
	assert.True(t, ok)

	// Low protocol versions fall back to the legacy auth too.
	msg, err = RespondToChallenge(ChallengeInput{
		Data:         data,
		Protocol:     10,
		Enr:          enr,
		ProductModel: "WYZEC1-JZ",
		MAC:          "AABBCCDDEEFF",
	})
	require.NoError(t, err)
	_, ok = msg.(ConnectAuth)
	assert.True(t, ok)
}

func TestRespondToChallengeDeterministic(t *testing.T) {
	enr := "0123456789abcdef"
	data := challengeData(t, 3, []byte("SECRETCHALLENGE0"), []byte(enr))
	in := ChallengeInput{
		Data: data, Protocol: 100, Enr: enr,
		ProductModel: "WYZE_CAKP2JFUS", MAC: "AABBCCDDEEFF",
		PhoneID: "phone", OpenUserID: "user",
	}
	a, err := RespondToChallenge(in)
	require.NoError(t, err)
	b, err := RespondToChallenge(in)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.(ConnectUserAuth).ChallengeResponse, b.(ConnectUserAuth).ChallengeResponse))
}

func TestRespondToChallengeAborts(t *testing.T) {
	pad := make([]byte, 16)
	tests := []struct {
		name   string
		status byte
	}{
		{"updating", 2},
		{"enr check", 4},
		{"unexpected", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RespondToChallenge(ChallengeInput{
				Data: append([]byte{tt.status}, pad...),
				Enr:  "0123456789abcdef",
			})
			assert.Error(t, err)
		})
	}

	t.Run("short data", func(t *testing.T) {
		_, err := RespondToChallenge(ChallengeInput{Data: []byte{3, 1, 2}})
		assert.Error(t, err)
	})
	t.Run("short enr for status 3", func(t *testing.T) {
		_, err := RespondToChallenge(ChallengeInput{
			Data: append([]byte{3}, pad...),
			Enr:  "short",
		})
		assert.Error(t, err)
	})
	t.Run("short enr for status 6", func(t *testing.T) {
		_, err := RespondToChallenge(ChallengeInput{
			Data: append([]byte{6}, pad...),
			Enr:  "0123456789abcdef",
		})
		assert.Error(t, err)
	})
}

func TestSupports(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		protocol int
		command  int
		want     bool
	}{
		{"doorbell never", "WYZEDB3", 200, 10008, false},
		{"v3 new protocol", "WYZE_CAKP2JFUS", 58, 10008, true},
		{"v3 old protocol", "WYZE_CAKP2JFUS", 10, 10008, false},
		{"battery always", "WVOD1", 1, 10008, true},
		{"legacy auth everywhere", "WYZEC1", 1, 10002, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Supports(tt.model, tt.protocol, tt.command))
		})
	}
}
