package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Identity endpoints.
const (
	DefaultLoginURL     = "https://identitysso-cert.betfair.com/api/certlogin"
	DefaultKeepAliveURL = "https://identitysso.betfair.com/api/keepAlive"
)

// LoginConfig configures certificate login.
type LoginConfig struct {
	URL      string
	AppKey   string
	Username string
	Password string
	CertFile string
	KeyFile  string
	Timeout  time.Duration

	// HTTPClient overrides the client built from CertFile/KeyFile.
	HTTPClient *http.Client
}

// LoginResponse is the identity service's certificate login reply.
type LoginResponse struct {
	SessionToken string `json:"sessionToken"`
	LoginStatus  string `json:"loginStatus"`
}

// LoginError is returned when the identity service refuses the login.
type LoginError struct {
	Status string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed: %s", e.Status)
}

// CertLogin exchanges username, password and client certificate for a
// session token.
func CertLogin(ctx context.Context, cfg LoginConfig) (*LoginResponse, error) {
	if cfg.AppKey == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("app key, username and password are required")
	}

	client := cfg.HTTPClient
	if client == nil {
		cert, err := LoadClientCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			},
		}
	}

	loginURL := cfg.URL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	form := url.Values{}
	form.Set("username", cfg.Username)
	form.Set("password", cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Application", cfg.AppKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp LoginResponse
	if err := doJSON(client, req, &resp); err != nil {
		return nil, err
	}
	if resp.LoginStatus != "SUCCESS" {
		return nil, &LoginError{Status: resp.LoginStatus}
	}
	return &resp, nil
}

// keepAliveResponse is the identity service's keep-alive reply.
type keepAliveResponse struct {
	Token   string `json:"token"`
	Product string `json:"product"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

// KeepAlive extends the session's lifetime. An empty url uses the default
// endpoint.
func KeepAlive(ctx context.Context, client *http.Client, endpoint string, s *Session) error {
	appKey, token, err := s.Credentials()
	if err != nil {
		return err
	}
	if endpoint == "" {
		endpoint = DefaultKeepAliveURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Application", appKey)
	req.Header.Set("X-Authentication", token)
	req.Header.Set("Accept", "application/json")

	var resp keepAliveResponse
	if err := doJSON(client, req, &resp); err != nil {
		return err
	}
	if resp.Status != "SUCCESS" {
		return &LoginError{Status: resp.Error}
	}
	if resp.Token != "" && resp.Token != token {
		s.SetToken(resp.Token)
	}
	return nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("identity service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
