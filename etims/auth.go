package etims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// TokenSource hands out a valid access token for a tenant and refreshes it
// on demand. The executor depends on this interface, not on the manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// CredentialManager implements TokenSource against the OAuth2 password
// grant of the Slade360 auth server. Refreshes are single-flight: a redis
// lock keyed per settings record keeps concurrent workers from stampeding
// the auth server, with an in-process mutex as fallback when redis is down.
type CredentialManager struct {
	db       *gorm.DB
	settings *models.EtimsSettings
	http     *http.Client

	mu sync.Mutex
}

func NewCredentialManager(db *gorm.DB, settings *models.EtimsSettings) *CredentialManager {
	return &CredentialManager{
		db:       db,
		settings: settings,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *CredentialManager) Token(ctx context.Context) (string, error) {
	if m.settings.TokenValid(time.Now()) {
		return m.settings.AccessToken, nil
	}
	return m.Refresh(ctx)
}

func (m *CredentialManager) lockKey() string {
	return fmt.Sprintf("EtimsTokenRefresh:%d", m.settings.ID)
}

// Refresh fetches a new token, serialized across workers.
func (m *CredentialManager) Refresh(ctx context.Context) (string, error) {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, m.lockKey(), 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(500 * time.Millisecond),
		})
		if err == nil {
			defer lock.Release(ctx)
			return m.refreshLocked(ctx)
		}
		if !errors.Is(err, redislock.ErrNotObtained) {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "Refresh", "obtain redis lock", m.lockKey(), err)
		}
		// Fall through to the local mutex when the lock service misbehaves.
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *CredentialManager) refreshLocked(ctx context.Context) (string, error) {
	// Another worker may have refreshed while we waited for the lock.
	var latest models.EtimsSettings
	if err := m.db.WithContext(ctx).First(&latest, m.settings.ID).Error; err == nil {
		if latest.TokenValid(time.Now()) {
			m.settings.AccessToken = latest.AccessToken
			m.settings.TokenExpiry = latest.TokenExpiry
			return latest.AccessToken, nil
		}
	}

	token, expiry, err := m.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if err := m.settings.SaveToken(ctx, m.db, token, expiry); err != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "refreshLocked", "persist token", m.settings.ID, err)
	}
	return token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// fetchToken performs the password grant against {auth_server}/oauth2/token/.
func (m *CredentialManager) fetchToken(ctx context.Context) (string, time.Time, error) {
	endpoint := strings.TrimRight(m.settings.AuthServerURL, "/") + "/oauth2/token/"

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", m.settings.Username)
	form.Set("password", m.settings.Password)
	form.Set("client_id", m.settings.ClientId)
	form.Set("client_secret", m.settings.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", time.Time{}, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Detail:     extractErrorDetail(body),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Detail:     "token response missing access_token",
		}
	}

	expiry := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return parsed.AccessToken, expiry, nil
}
