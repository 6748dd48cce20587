// Package client talks to the ejauth admin API over mutual TLS.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/ejauth/internal/models"
)

var (
	// ErrUserExists is returned by Register for an existing account.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned by SetActive for an unknown account.
	ErrUserNotFound = errors.New("user not found")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Code, strings.TrimSpace(e.Body))
}

// Client is an admin API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client using hc for requests.
func New(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// LoadClientCertificate builds an HTTP client presenting certFile/keyFile
// and trusting only the CA in caFile.
func LoadClientCertificate(certFile, keyFile, caFile string) (*http.Client, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}

	tlsConfig := &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{TLSClientConfig: tlsConfig}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func userPath(user, server string) string {
	return "/api/users/" + url.PathEscape(server) + "/" + url.PathEscape(user)
}

// Register creates an active account.
func (c *Client) Register(ctx context.Context, user, server, password string) error {
	payload := map[string]string{"user": user, "server": server, "password": password}
	code, err := c.do(ctx, http.MethodPost, "/api/users", payload, nil)
	if code == http.StatusConflict {
		return ErrUserExists
	}
	return err
}

// SetActive enables or disables an account.
func (c *Client) SetActive(ctx context.Context, user, server string, active bool) error {
	code, err := c.do(ctx, http.MethodPut, userPath(user, server)+"/active", map[string]bool{"active": active}, nil)
	if code == http.StatusNotFound {
		return ErrUserNotFound
	}
	return err
}

// Exists reports whether the account exists, active or not.
func (c *Client) Exists(ctx context.Context, user, server string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if _, err := c.do(ctx, http.MethodGet, userPath(user, server), nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Events returns recent audit events; empty filters match everything and a
// non-positive limit uses the server default.
func (c *Client) Events(ctx context.Context, user, server string, limit int) ([]models.AuthEvent, error) {
	q := url.Values{}
	if user != "" {
		q.Set("user", user)
	}
	if server != "" {
		q.Set("server", server)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var events []models.AuthEvent
	if _, err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
