// Package auth holds the exchange session credentials and performs
// certificate-based login to obtain a session token.
//
// The streaming and REST clients only ever read the Session. Obtaining or
// refreshing the token is the caller's job, typically in response to an
// authentication failure event from the stream.
package auth

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNoSession is returned when an operation needs a session token that has
// not been set.
var ErrNoSession = errors.New("no session token")

// Session holds the application key and the current session token.
// Safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	appKey    string
	token     string
	updatedAt time.Time
}

// NewSession creates a Session. token may be empty until login.
func NewSession(appKey, token string) *Session {
	s := &Session{appKey: appKey, token: token}
	if token != "" {
		s.updatedAt = time.Now()
	}
	return s
}

// AppKey returns the application key.
func (s *Session) AppKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appKey
}

// Token returns the session token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Credentials returns the app key and token together, or ErrNoSession.
func (s *Session) Credentials() (appKey, token string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return s.appKey, "", ErrNoSession
	}
	return s.appKey, s.token, nil
}

// SetToken replaces the session token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.updatedAt = time.Now()
}

// UpdatedAt returns when the token was last set.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// LoadToken reads a session token from a file, trimming whitespace.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// LoadClientCertificate loads a PEM client certificate and its RSA private
// key for certificate login.
func LoadClientCertificate(certPath, keyPath string) (tls.Certificate, error) {
	if certPath == "" {
		return tls.Certificate{}, fmt.Errorf("certificate path is required")
	}
	if keyPath == "" {
		return tls.Certificate{}, fmt.Errorf("private key path is required")
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate file: %w", err)
	}

	var chain [][]byte
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, fmt.Errorf("no certificate found in %s", certPath)
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}

	key, err := LoadPrivateKey(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load private key: %w", err)
	}

	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return tls.Certificate{}, fmt.Errorf("private key does not match certificate")
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// PKCS#8 first, then PKCS#1.
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}
