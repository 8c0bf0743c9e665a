// Package spotify is a minimal Spotify Web API client covering the playback
// surface the peer agent needs: OAuth2 authorization-code flow with a token
// cache file, and the /me/player endpoints.
package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/clock"
)

const (
	defaultAuthURL  = "https://accounts.spotify.com/authorize"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultAPIURL   = "https://api.spotify.com/v1"

	defaultScopes = "user-read-private user-read-playback-state user-modify-playback-state"

	// Refresh this long before the token actually expires.
	expiryBuffer = 5 * time.Minute
)

// Config holds application credentials and endpoint overrides (tests point
// the URLs at an httptest server).
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	TokenFile    string

	AuthURL  string
	TokenURL string
	APIURL   string
}

// Client talks to the Spotify Web API on behalf of one user.
type Client struct {
	cfg   Config
	http  *http.Client
	clock clock.Clock

	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewClient creates a Spotify client. Missing endpoint and scope fields fall
// back to the production defaults.
func NewClient(cfg Config, clk clock.Clock) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Scopes == "" {
		cfg.Scopes = defaultScopes
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = ".spotify_tokens.json"
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 10 * time.Second},
		clock: clk,
	}
}

func (c *Client) basicAuthHeader() string {
	raw := c.cfg.ClientID + ":" + c.cfg.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// AuthorizationURL is the URL the user visits to grant access.
func (c *Client) AuthorizationURL() string {
	q := url.Values{
		"client_id":     {c.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {c.cfg.RedirectURI},
		"scope":         {c.cfg.Scopes},
	}
	return c.cfg.AuthURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type cachedTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Authorize makes the client usable: cached tokens are loaded and refreshed
// when stale; without a usable refresh token the caller must run the
// authorization-code flow and call Exchange.
func (c *Client) Authorize(ctx context.Context) error {
	if err := c.loadTokens(); err != nil {
		return fmt.Errorf("no cached tokens: %w", err)
	}
	if c.tokenExpired() {
		log.Info().Msg("cached token expired, refreshing")
		return c.refresh(ctx)
	}
	return nil
}

// Exchange trades an authorization code for tokens and caches them.
func (c *Client) Exchange(ctx context.Context, code string) error {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	tok, err := c.tokenRequest(ctx, form)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	c.accessToken = tok.AccessToken
	c.refreshToken = tok.RefreshToken
	c.expiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.saveTokens()
}

func (c *Client) refresh(ctx context.Context) error {
	if c.refreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	tok, err := c.tokenRequest(ctx, form)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	c.accessToken = tok.AccessToken
	// A refresh response may omit the refresh token; keep the existing one.
	if tok.RefreshToken != "" {
		c.refreshToken = tok.RefreshToken
	}
	c.expiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.saveTokens()
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.basicAuthHeader())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tok, nil
}

func (c *Client) tokenExpired() bool {
	if c.expiresAt.IsZero() {
		return true
	}
	return !c.clock.Now().Before(c.expiresAt.Add(-expiryBuffer))
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.accessToken == "" {
		return fmt.Errorf("not authorized")
	}
	if c.tokenExpired() {
		return c.refresh(ctx)
	}
	return nil
}

func (c *Client) loadTokens() error {
	data, err := os.ReadFile(c.cfg.TokenFile)
	if err != nil {
		return err
	}
	var cached cachedTokens
	if err := json.Unmarshal(data, &cached); err != nil {
		return fmt.Errorf("invalid token cache: %w", err)
	}
	if cached.RefreshToken == "" {
		return fmt.Errorf("token cache has no refresh token")
	}
	c.accessToken = cached.AccessToken
	c.refreshToken = cached.RefreshToken
	c.expiresAt = cached.ExpiresAt
	return nil
}

func (c *Client) saveTokens() error {
	data, err := json.MarshalIndent(cachedTokens{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		ExpiresAt:    c.expiresAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.cfg.TokenFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// apiRequest performs an authenticated call. 204 No Content is success for
// most player endpoints.
func (c *Client) apiRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// PlaybackState is the subset of /me/player this system cares about.
type PlaybackState struct {
	ProgressMs int64 `json:"progress_ms"`
	IsPlaying  bool  `json:"is_playing"`
	Item       *struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
	} `json:"item"`
	Device *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"device"`
}

// CurrentPlayback fetches the user's playback state. A nil result with nil
// error means nothing is playing on any device.
func (c *Client) CurrentPlayback(ctx context.Context) (*PlaybackState, error) {
	body, err := c.apiRequest(ctx, http.MethodGet, "/me/player", nil)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var state PlaybackState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode playback state: %w", err)
	}
	return &state, nil
}

// Device is one of the user's available playback targets.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Devices lists the user's available devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	body, err := c.apiRequest(ctx, http.MethodGet, "/me/player/devices", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return out.Devices, nil
}

// Play starts playback of a track at the given position. An empty trackURI
// resumes whatever is paused.
func (c *Client) Play(ctx context.Context, trackURI string, positionMs int64) error {
	var body io.Reader
	if trackURI != "" {
		payload, err := json.Marshal(map[string]interface{}{
			"uris":        []string{trackURI},
			"position_ms": positionMs,
		})
		if err != nil {
			return err
		}
		body = strings.NewReader(string(payload))
	}
	_, err := c.apiRequest(ctx, http.MethodPut, "/me/player/play", body)
	return err
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.apiRequest(ctx, http.MethodPut, "/me/player/pause", nil)
	return err
}

// Seek moves playback to positionMs in the current track.
func (c *Client) Seek(ctx context.Context, positionMs int64) error {
	_, err := c.apiRequest(ctx, http.MethodPut, fmt.Sprintf("/me/player/seek?position_ms=%d", positionMs), nil)
	return err
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context) error {
	_, err := c.apiRequest(ctx, http.MethodPost, "/me/player/next", nil)
	return err
}
