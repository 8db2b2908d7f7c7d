// Package cloud talks to the camera vendor's account API: login (with
// MFA), token refresh, the device list, and WebRTC signaling info.
// Results are cached on disk as opaque JSON blobs keyed by name.
package cloud

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ethan/iotc-bridge/pkg/logger"
)

const (
	authBaseURL   = "https://auth-prod.api.wyze.com"
	apiBaseURL    = "https://api.wyzecam.com"
	webrtcBaseURL = "https://webrtc.api.wyze.com"

	iosVersion = "15.6"
	appVersion = "2.33.0.17"

	svValue   = "e1fe392906d54888a9b99b88de4162d7"
	scValue   = "9f275790cab94a72bd206c8876429f3c"
	appAPIKey = "WMXHYf79Nr5gIlt3r0r7p9Tcw5bvs6BB4U8O8nGJ"
)

// StatusError carries a non-2xx API response. A 400 means bad
// credentials and is not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Body)
}

// IsBadCredentials reports a 400 from the auth endpoints.
func IsBadCredentials(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == http.StatusBadRequest
}

// isExpiredToken reports a 401/403, which a refresh may fix.
func isExpiredToken(err error) bool {
	se, ok := err.(*StatusError)
	return ok && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden)
}

// Client is the authenticated API client. Calls are paced through a
// shared limiter; the upstream enforces a small request budget.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient creates an API client. qpm bounds outgoing queries per
// minute; 0 selects a conservative default.
func NewClient(qpm float64, log *logger.Logger) *Client {
	if qpm <= 0 {
		qpm = 20
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(qpm/60.0), 1),
		log:        log,
	}
}

// MFAOptions carries the verification parameters for an MFA login.
type MFAOptions struct {
	Type           string
	VerificationID string
	Code           string
}

// Login authenticates with email and password, optionally completing an
// MFA challenge. The returned credential may lack an access token when
// MFA is still required; the caller then resolves a code and calls Login
// again with the same phone id.
func (c *Client) Login(ctx context.Context, email, password, phoneID string, mfa *MFAOptions) (*Credential, error) {
	if phoneID == "" {
		phoneID = uuid.NewString()
	}
	payload := map[string]any{
		"email":    email,
		"password": TripleMD5(password),
	}
	if mfa != nil {
		payload["mfa_type"] = mfa.Type
		payload["verification_id"] = mfa.VerificationID
		payload["verification_code"] = mfa.Code
	}

	body, err := c.post(ctx, authBaseURL+"/user/login", payload, c.headers(phoneID, ""))
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	cred.PhoneID = phoneID
	return &cred, nil
}

// SendSMSCode requests an SMS verification code and returns the session
// id to use as the verification id.
func (c *Client) SendSMSCode(ctx context.Context, cred *Credential) (string, error) {
	u := fmt.Sprintf("%s/user/login/sendSmsCode?mfaPhoneType=Primary&sessionId=%s&userId=%s",
		authBaseURL, cred.SMSSessionID, cred.UserID)
	body, err := c.post(ctx, u, map[string]any{}, c.headers(cred.PhoneID, ""))
	if err != nil {
		return "", err
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	return resp.SessionID, nil
}

// Refresh exchanges the refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	payload := c.payload(cred)
	payload["refresh_token"] = cred.RefreshToken

	body, err := c.post(ctx, apiBaseURL+"/app/user/refresh_token", payload, c.headers(cred.PhoneID, scaleUserAgent()))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code string     `json:"code"`
		Data Credential `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if resp.Code != "1" {
		return nil, fmt.Errorf("refresh rejected (code %s)", resp.Code)
	}
	fresh := resp.Data
	fresh.UserID = cred.UserID
	fresh.PhoneID = cred.PhoneID
	return &fresh, nil
}

// GetAccount fetches the user profile attached to the credential.
func (c *Client) GetAccount(ctx context.Context, cred *Credential) (*Account, error) {
	body, err := c.post(ctx, apiBaseURL+"/app/user/get_user_info", c.payload(cred), c.headers(cred.PhoneID, scaleUserAgent()))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code string  `json:"code"`
		Data Account `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}
	if resp.Code != "1" {
		return nil, fmt.Errorf("get account failed (code %s)", resp.Code)
	}
	account := resp.Data
	account.PhoneID = cred.PhoneID
	return &account, nil
}

// ListCameras fetches the device list and keeps camera devices with
// complete connection parameters.
func (c *Client) ListCameras(ctx context.Context, cred *Credential) ([]*Camera, error) {
	body, err := c.post(ctx, apiBaseURL+"/app/v2/home_page/get_object_list", c.payload(cred), c.headers(cred.PhoneID, scaleUserAgent()))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code string `json:"code"`
		Data struct {
			DeviceList []struct {
				ProductType     string `json:"product_type"`
				ProductModel    string `json:"product_model"`
				MAC             string `json:"mac"`
				Enr             string `json:"enr"`
				Nickname        string `json:"nickname"`
				TimezoneName    string `json:"timezone_name"`
				FirmwareVer     string `json:"firmware_ver"`
				ParentDeviceEnr string `json:"parent_device_enr"`
				ParentDeviceMAC string `json:"parent_device_mac"`
				DeviceParams    struct {
					P2PID            string `json:"p2p_id"`
					P2PType          int    `json:"p2p_type"`
					IP               string `json:"ip"`
					DTLS             int    `json:"dtls"`
					MainDeviceDTLS   int    `json:"main_device_dtls"`
					CameraThumbnails struct {
						ThumbnailsURL string `json:"thumbnails_url"`
					} `json:"camera_thumbnails"`
				} `json:"device_params"`
			} `json:"device_list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	if resp.Code != "1" {
		return nil, fmt.Errorf("device list failed (code %s)", resp.Code)
	}

	var cameras []*Camera
	for _, dev := range resp.Data.DeviceList {
		if dev.ProductType != "Camera" {
			continue
		}
		p := dev.DeviceParams
		if p.P2PID == "" || p.P2PType == 0 || p.IP == "" || dev.Enr == "" || dev.MAC == "" || dev.ProductModel == "" {
			continue
		}
		cameras = append(cameras, &Camera{
			P2PID:        p.P2PID,
			P2PType:      p.P2PType,
			IP:           p.IP,
			Enr:          dev.Enr,
			MAC:          dev.MAC,
			ProductModel: dev.ProductModel,
			Nickname:     dev.Nickname,
			TimezoneName: dev.TimezoneName,
			FirmwareVer:  dev.FirmwareVer,
			DTLS:         p.DTLS,
			ParentDTLS:   p.MainDeviceDTLS,
			ParentEnr:    dev.ParentDeviceEnr,
			ParentMAC:    dev.ParentDeviceMAC,
			Thumbnail:    p.CameraThumbnails.ThumbnailsURL,
		})
	}
	c.log.Info("listed cameras", "count", len(cameras))
	return cameras, nil
}

// WebRTCSignal is the signaling bootstrap for a camera.
type WebRTCSignal struct {
	SignalingURL string `json:"signalingUrl"`
	ClientID     string `json:"ClientId"`
	SignalToken  string `json:"signalToken"`
}

// GetWebRTCSignal fetches the WebRTC signaling info for a camera mac.
func (c *Client) GetWebRTCSignal(ctx context.Context, cred *Credential, mac string) (*WebRTCSignal, error) {
	headers := c.headers(cred.PhoneID, scaleUserAgent())
	headers["content-type"] = "application/json"
	headers["authorization"] = cred.AccessToken

	body, err := c.get(ctx, fmt.Sprintf("%s/signaling/device/%s?use_trickle=true", webrtcBaseURL, mac), headers)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code    int `json:"code"`
		Results struct {
			SignalingURL string `json:"signalingUrl"`
			SignalToken  string `json:"signalToken"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode signaling response: %w", err)
	}
	if resp.Code != 1 {
		return nil, fmt.Errorf("signaling failed (code %d)", resp.Code)
	}
	return &WebRTCSignal{
		SignalingURL: resp.Results.SignalingURL,
		ClientID:     cred.PhoneID,
		SignalToken:  resp.Results.SignalToken,
	}, nil
}

// DownloadThumbnail saves a camera's cloud thumbnail to a file.
func (c *Client) DownloadThumbnail(ctx context.Context, thumbURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (c *Client) payload(cred *Credential) map[string]any {
	return map[string]any{
		"sc":                scValue,
		"sv":                svValue,
		"app_ver":           "com.hualai.WyzeCam___" + appVersion,
		"app_version":       appVersion,
		"app_name":          "com.hualai.WyzeCam",
		"phone_system_type": "1",
		"ts":                time.Now().UnixMilli(),
		"access_token":      cred.AccessToken,
		"phone_id":          cred.PhoneID,
	}
}

func (c *Client) headers(phoneID, userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = "wyze_ios_" + appVersion
	}
	return map[string]string{
		"X-API-Key":  appAPIKey,
		"Phone-Id":   phoneID,
		"User-Agent": userAgent,
	}
}

func scaleUserAgent() string {
	return fmt.Sprintf("Wyze/%s (iPhone; iOS %s; Scale/3.00)", appVersion, iosVersion)
}

func (c *Client) post(ctx context.Context, u string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers)
}

func (c *Client) get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, headers)
}

func (c *Client) do(req *http.Request, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil && n < 25 {
			c.log.Warn("approaching api rate limit",
				"remaining", n,
				"reset_by", resp.Header.Get("X-RateLimit-Reset-By"))
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// TripleMD5 applies the md5 hex digest three times, the password
// obfuscation the upstream login expects.
func TripleMD5(password string) string {
	encoded := password
	for i := 0; i < 3; i++ {
		sum := md5.Sum([]byte(encoded))
		encoded = hex.EncodeToString(sum[:])
	}
	return encoded
}
