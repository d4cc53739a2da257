package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultClientTimeout = 15 * time.Second

// Client calls a remote login-resolver endpoint. It satisfies the same
// contract as Service, so the session controller can compose either.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// ClientConfig describes the remote resolver endpoint.
type ClientConfig struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient constructs a resolver client.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("resolver: endpoint required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, timeout: timeout}, nil
}

type resolveRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type resolveResponse struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Resolve submits the handle and password and returns the resolved email.
// A 401 maps to ErrInvalidLogin regardless of the server's reason.
func (c *Client) Resolve(ctx context.Context, loginID, password string) (string, error) {
	if strings.TrimSpace(loginID) == "" || password == "" {
		return "", ErrMissingInput
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	encoded, err := json.Marshal(resolveRequest{LoginID: loginID, Password: password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		var payload resolveResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
			return "", err
		}
		if payload.Email == "" {
			return "", fmt.Errorf("resolver: empty email in response")
		}
		return payload.Email, nil
	case http.StatusUnauthorized, http.StatusBadRequest:
		return "", ErrInvalidLogin
	default:
		return "", fmt.Errorf("resolver: unexpected status %d", response.StatusCode)
	}
}
