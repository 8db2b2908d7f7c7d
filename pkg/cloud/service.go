package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
)

// cameraListMaxAge bounds how stale the cached device list may be when
// a stream asks for a refreshed descriptor.
const cameraListMaxAge = 2 * time.Minute

// retrySleep is the pause between retries of transient API failures.
const retrySleep = 10 * time.Second

// Service is the cached, authenticated account surface: credential,
// user profile, and device list, each mirrored to disk as an opaque
// blob under the token directory.
type Service struct {
	client    *Client
	log       *logger.Logger
	tokenPath string
	email     string
	password  string

	mu       sync.Mutex
	cred     *Credential
	account  *Account
	cameras  []*Camera
	lastPull time.Time

	// mfaType is exposed to the operator surface while a login is
	// blocked on a verification code.
	mfaType string
}

// NewService builds the account service. FRESH_DATA in the config wipes
// the local cache before first use.
func NewService(client *Client, cfg *config.Config, log *logger.Logger) *Service {
	s := &Service{
		client:    client,
		log:       log,
		tokenPath: cfg.TokenPath,
		email:     cfg.Email,
		password:  cfg.Password,
	}
	if cfg.FreshData {
		s.log.Info("clearing local cache")
		clearCache(s.tokenPath)
	}
	return s
}

// Login returns a credential, from cache when possible. A login blocked
// on MFA resolves the code (TOTP key or operator file) and resubmits.
func (s *Service) Login(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Service) loginLocked(ctx context.Context) (*Credential, error) {
	if s.cred != nil && s.cred.AccessToken != "" {
		return s.cred, nil
	}

	var cached Credential
	if loadCache(s.tokenPath, "auth", &cached) && cached.AccessToken != "" {
		s.log.Info("using auth from local cache")
		s.cred = &cached
		return s.cred, nil
	}

	s.log.Info("logging into cloud api")
	cred, err := s.client.Login(ctx, s.email, s.password, "", nil)
	if err != nil {
		if IsBadCredentials(err) {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
		return nil, err
	}

	for cred.AccessToken == "" {
		mfa, err := s.resolveMFA(ctx, cred)
		if err != nil {
			return nil, err
		}
		if mfa.Code == "" {
			s.mfaType = mfa.Type
			code, err := s.waitForMFACode(ctx)
			if err != nil {
				return nil, err
			}
			mfa.Code = code
		}
		s.log.Info("submitting verification code")
		next, err := s.client.Login(ctx, s.email, s.password, cred.PhoneID, mfa)
		if err != nil {
			if IsBadCredentials(err) {
				s.log.Warn("verification code rejected")
				time.Sleep(5 * time.Second)
				continue
			}
			return nil, err
		}
		next.MFAOptions = cred.MFAOptions
		next.MFADetails = cred.MFADetails
		next.SMSSessionID = cred.SMSSessionID
		if next.AccessToken != "" {
			s.log.Info("verification code accepted")
		}
		cred = next
	}
	s.mfaType = ""
	s.cred = cred

	if err := saveCache(s.tokenPath, "auth", cred); err != nil {
		s.log.Warn("could not cache credential", "error", err)
	}
	return cred, nil
}

// MFAType returns the pending verification type, empty when no login is
// waiting on a code.
func (s *Service) MFAType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mfaType
}

// refreshLocked renews the tokens, falling back to a fresh login when
// the refresh token itself has expired.
func (s *Service) refreshLocked(ctx context.Context) error {
	s.log.Info("refreshing tokens")
	fresh, err := s.client.Refresh(ctx, s.cred)
	if err != nil {
		s.log.Warn("token refresh failed, logging in again", "error", err)
		s.cred = nil
		os.Remove(cacheFile(s.tokenPath, "auth"))
		_, err = s.loginLocked(ctx)
		return err
	}
	s.cred = fresh
	if err := saveCache(s.tokenPath, "auth", fresh); err != nil {
		s.log.Warn("could not cache credential", "error", err)
	}
	return nil
}

// authenticated runs an API call, refreshing tokens once on an expiry
// response and sleeping through transient upstream failures. A 400
// surfaces immediately as bad credentials.
func (s *Service) authenticated(ctx context.Context, fn func(cred *Credential) error) error {
	if _, err := s.loginLocked(ctx); err != nil {
		return err
	}
	for {
		err := fn(s.cred)
		if err == nil {
			return nil
		}
		if IsBadCredentials(err) {
			return err
		}
		if isExpiredToken(err) {
			if err := s.refreshLocked(ctx); err != nil {
				return err
			}
			if err := fn(s.cred); err == nil {
				return nil
			} else if IsBadCredentials(err) || isExpiredToken(err) {
				return err
			}
		}
		s.log.Warn("cloud api error, retrying", "error", err, "sleep", retrySleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retrySleep):
		}
	}
}

// GetAccount returns the user profile, cached on disk.
func (s *Service) GetAccount(ctx context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account != nil {
		return s.account, nil
	}
	var cached Account
	if loadCache(s.tokenPath, "user", &cached) && cached.OpenUserID != "" {
		s.log.Info("using user from local cache")
		s.account = &cached
		return s.account, nil
	}

	err := s.authenticated(ctx, func(cred *Credential) error {
		account, err := s.client.GetAccount(ctx, cred)
		if err != nil {
			return err
		}
		s.account = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := saveCache(s.tokenPath, "user", s.account); err != nil {
		s.log.Warn("could not cache user", "error", err)
	}
	return s.account, nil
}

// GetCameras returns the device list, cached on disk and in memory.
func (s *Service) GetCameras(ctx context.Context, freshData bool) ([]*Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCamerasLocked(ctx, freshData)
}

func (s *Service) getCamerasLocked(ctx context.Context, freshData bool) ([]*Camera, error) {
	if s.cameras != nil && !freshData {
		return s.cameras, nil
	}
	if !freshData {
		var cached []*Camera
		if loadCache(s.tokenPath, "cameras", &cached) && len(cached) > 0 {
			s.log.Info("using cameras from local cache")
			s.cameras = cached
			s.lastPull = time.Now()
			return s.cameras, nil
		}
	}

	err := s.authenticated(ctx, func(cred *Credential) error {
		cameras, err := s.client.ListCameras(ctx, cred)
		if err != nil {
			return err
		}
		s.cameras = cameras
		s.lastPull = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := saveCache(s.tokenPath, "cameras", s.cameras); err != nil {
		s.log.Warn("could not cache cameras", "error", err)
	}
	return s.cameras, nil
}

// GetCamera returns a refreshed descriptor by uri name, re-pulling the
// device list when the cached one has aged out. Used when a stream hits
// an auth error and may need a new ip or enr.
func (s *Service) GetCamera(ctx context.Context, uri string) (*Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := time.Since(s.lastPull) > cameraListMaxAge
	cameras, err := s.getCamerasLocked(ctx, fresh)
	if err != nil {
		return nil, err
	}
	for _, cam := range cameras {
		if cam.NameURI() == uri {
			return cam, nil
		}
	}
	return nil, fmt.Errorf("camera %q not found", uri)
}

// GetWebRTCSignal fetches signaling info for a camera by uri name.
func (s *Service) GetWebRTCSignal(ctx context.Context, uri string) (*WebRTCSignal, error) {
	cam, err := s.GetCamera(ctx, uri)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var signal *WebRTCSignal
	err = s.authenticated(ctx, func(cred *Credential) error {
		sig, err := s.client.GetWebRTCSignal(ctx, cred, cam.MAC)
		if err != nil {
			return err
		}
		signal = sig
		return nil
	})
	return signal, err
}

// SaveThumbnail downloads a camera's cloud thumbnail into the image
// directory as <uri>.jpg.
func (s *Service) SaveThumbnail(ctx context.Context, uri, imgPath string) error {
	cam, err := s.GetCamera(ctx, uri)
	if err != nil {
		return err
	}
	if cam.Thumbnail == "" {
		return fmt.Errorf("camera %q has no thumbnail", uri)
	}
	dest := filepath.Join(imgPath, uri+".jpg")
	s.log.Info("pulling thumbnail", "camera", uri, "dest", dest)
	return s.client.DownloadThumbnail(ctx, cam.Thumbnail, dest)
}
