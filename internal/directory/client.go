package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	errMissingBaseURL        = errors.New("base url required")
	errMissingServiceKey     = errors.New("service key required for admin operation")
	ErrInvalidClientConfig   = errors.New("directory: invalid client config")
	ErrAccountNotFound       = errors.New("directory: account not found")
	errEmptyAccountID        = errors.New("directory: account id required")
	errEmptySignInEmail      = errors.New("directory: sign-in email required")
	errEmptyAccessTokenValue = errors.New("directory: access token required")
)

// ClientConfig bundles configuration for the identity provider HTTP client.
type ClientConfig struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client talks to the managed identity provider's auth and admin endpoints.
// Admin calls require the service key; sign-in uses the anon key.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewClient constructs a provider client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		anonKey:    strings.TrimSpace(cfg.AnonKey),
		serviceKey: strings.TrimSpace(cfg.ServiceKey),
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// CreateParams describes a new directory account.
type CreateParams struct {
	Email    string
	Password string
	Metadata map[string]any
	Confirm  bool
}

// UpdateParams describes an in-place account update. Empty password leaves
// the credential untouched; nil metadata leaves the bag untouched.
type UpdateParams struct {
	Password string
	Metadata map[string]any
}

type accountPayload struct {
	Email        string         `json:"email,omitempty"`
	Password     string         `json:"password,omitempty"`
	Metadata     map[string]any `json:"user_metadata,omitempty"`
	EmailConfirm bool           `json:"email_confirm,omitempty"`
}

// CreateAccount registers a new account keyed by normalized email.
func (c *Client) CreateAccount(ctx context.Context, params CreateParams) (Account, error) {
	if c.serviceKey == "" {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingServiceKey)
	}
	payload := accountPayload{
		Email:        NormalizeEmail(params.Email),
		Password:     params.Password,
		Metadata:     params.Metadata,
		EmailConfirm: params.Confirm,
	}
	var account Account
	if err := c.do(ctx, http.MethodPost, "/admin/users", c.serviceKey, payload, &account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// UpdateAccount replaces the password and/or metadata of an existing account.
func (c *Client) UpdateAccount(ctx context.Context, accountID string, params UpdateParams) (Account, error) {
	if c.serviceKey == "" {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingServiceKey)
	}
	if strings.TrimSpace(accountID) == "" {
		return Account{}, errEmptyAccountID
	}
	payload := accountPayload{
		Password: params.Password,
		Metadata: params.Metadata,
	}
	var account Account
	path := "/admin/users/" + url.PathEscape(accountID)
	if err := c.do(ctx, http.MethodPut, path, c.serviceKey, payload, &account); err != nil {
		return Account{}, err
	}
	return account, nil
}

type listResponse struct {
	Users []Account `json:"users"`
}

// ListAccounts returns one page of the directory. Pages are 1-based; a page
// shorter than perPage is the last one.
func (c *Client) ListAccounts(ctx context.Context, page, perPage int) ([]Account, error) {
	if c.serviceKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingServiceKey)
	}
	if page < 1 {
		page = 1
	}
	path := "/admin/users?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)
	var response listResponse
	if err := c.do(ctx, http.MethodGet, path, c.serviceKey, nil, &response); err != nil {
		return nil, err
	}
	return response.Users, nil
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPassword exchanges email+password for a session grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Grant, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return Grant{}, errEmptySignInEmail
	}
	var grant Grant
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, signInPayload{
		Email:    normalized,
		Password: password,
	}, &grant)
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// SignOut revokes the grant behind the access token. The provider treats an
// already-revoked token as success.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return errEmptyAccessTokenValue
	}
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// GetAccount returns the account behind a live access token, or
// ErrAccountNotFound when the token no longer maps to a session.
func (c *Client) GetAccount(ctx context.Context, accessToken string) (Account, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Account{}, errEmptyAccessTokenValue
	}
	var account Account
	err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &account)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return account, nil
}

type errorPayload struct {
	Code        string `json:"error_code"`
	Message     string `json:"msg"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return c.decodeError(response)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (c *Client) decodeError(response *http.Response) error {
	var payload errorPayload
	message := http.StatusText(response.StatusCode)
	code := ""
	if err := json.NewDecoder(response.Body).Decode(&payload); err == nil {
		code = payload.Code
		switch {
		case payload.Message != "":
			message = payload.Message
		case payload.Description != "":
			message = payload.Description
		case payload.Error != "":
			message = payload.Error
		}
	}
	apiErr := &APIError{Status: response.StatusCode, Code: code, Message: message}
	c.logger.Debug("provider request failed",
		zap.Int("status", apiErr.Status),
		zap.String("code", apiErr.Code),
		zap.String("message", apiErr.Message))
	return apiErr
}
