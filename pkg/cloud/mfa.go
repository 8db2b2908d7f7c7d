package cloud

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// mfaCodeFile is where the operator drops the verification code.
const mfaCodeFile = "mfa_token.txt"

// totpKeyFile optionally stores a TOTP secret so codes can be generated
// without operator involvement.
const totpKeyFile = "totp"

// resolveMFA picks the verification method from the credential's MFA
// options and fills in a code when one can be generated locally.
func (s *Service) resolveMFA(ctx context.Context, cred *Credential) (*MFAOptions, error) {
	if len(cred.MFAOptions) == 0 {
		return nil, fmt.Errorf("no mfa options offered")
	}

	for _, option := range cred.MFAOptions {
		if option == "PrimaryPhone" {
			s.log.Info("sms verification code requested")
			id, err := s.client.SendSMSCode(ctx, cred)
			if err != nil {
				return nil, fmt.Errorf("request sms code: %w", err)
			}
			return &MFAOptions{Type: "PrimaryPhone", VerificationID: id}, nil
		}
	}

	mfa := &MFAOptions{Type: "TotpVerificationCode"}
	if apps, ok := cred.MFADetails["totp_apps"].([]any); ok && len(apps) > 0 {
		if app, ok := apps[0].(map[string]any); ok {
			mfa.VerificationID, _ = app["app_id"].(string)
		}
	}

	if key := os.Getenv("TOTP_KEY"); key != "" {
		s.log.Info("using TOTP_KEY to generate verification code")
		mfa.Code = GenerateTOTP(key, time.Now())
		return mfa, nil
	}
	if key, err := os.ReadFile(filepath.Join(s.tokenPath, totpKeyFile)); err == nil && len(key) > 15 {
		s.log.Info("using stored totp key to generate verification code")
		mfa.Code = GenerateTOTP(string(key), time.Now())
	}
	return mfa, nil
}

// waitForMFACode blocks until the operator writes a code to the token
// directory's code file, then consumes and truncates it. The directory
// is watched so the code is picked up as soon as it lands.
func (s *Service) waitForMFACode(ctx context.Context) (string, error) {
	path := filepath.Join(s.tokenPath, mfaCodeFile)
	s.log.Warn("mfa code required", "file", path)

	if err := os.MkdirAll(s.tokenPath, 0o755); err != nil {
		return "", err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("watch token dir: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.tokenPath); err != nil {
		return "", fmt.Errorf("watch token dir: %w", err)
	}

	for {
		if code := consumeCodeFile(path); code != "" {
			return code, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event := <-watcher.Events:
			if event.Name != path {
				continue
			}
		case err := <-watcher.Errors:
			s.log.Warn("mfa watcher error", "error", err)
		case <-time.After(5 * time.Second):
			// Periodic re-check in case the write predated the watch.
		}
	}
}

// consumeCodeFile reads the digits from the code file and truncates it.
func consumeCodeFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	var digits strings.Builder
	for _, c := range string(data) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	os.Truncate(path, 0)
	return digits.String()
}

// GenerateTOTP computes the 6-digit TOTP for a base32 secret at the
// given time, with a 30 second step.
func GenerateTOTP(secret string, at time.Time) string {
	var key strings.Builder
	for _, c := range strings.ToUpper(secret) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			key.WriteRune(c)
		}
	}
	if key.Len() != 16 {
		return ""
	}
	decoded, err := base32.StdEncoding.DecodeString(key.String())
	if err != nil {
		return ""
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix()/30))
	mac := hmac.New(sha1.New, decoded)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0xF
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%06d", code%1_000_000)
}
