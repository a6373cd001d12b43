package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// ClientConfig holds configuration for the provider HTTP client.
type ClientConfig struct {
	// BaseURL is the provider API root, e.g. https://api.provider.example
	BaseURL string

	// APIKey is sent as a bearer token on every request.
	APIKey string

	// RequestTimeout bounds a single HTTP attempt. Default: 10s.
	RequestTimeout time.Duration

	// MaxAttempts bounds retries of transient failures (429, 5xx, network).
	// Default: 4.
	MaxAttempts uint
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("provider API key is required")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
}

// Client implements Provider over the provider's JSON HTTP API. Transient
// failures are retried with exponential backoff; 4xx responses are permanent.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

var _ Provider = (*Client)(nil)

// NewClient creates a provider client with the given configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider client config: %w", err)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}, nil
}

// StatusError is returned for non-2xx provider responses that are not
// mapped to a sentinel error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) CreateOrganization(ctx context.Context, name, slug string) (*Organization, error) {
	var org Organization
	err := c.do(ctx, http.MethodPost, "/v1/organizations", map[string]string{
		"name": name,
		"slug": slug,
	}, &org)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider organization: %w", err)
	}

	log.Debug().Str("external_org_id", org.ID).Str("slug", org.Slug).Msg("Created provider organization")

	return &org, nil
}

func (c *Client) UpdateOrganization(ctx context.Context, orgID string, patch OrganizationPatch) error {
	path := "/v1/organizations/" + url.PathEscape(orgID)
	if err := c.do(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return fmt.Errorf("failed to update provider organization %s: %w", orgID, err)
	}
	return nil
}

func (c *Client) DeleteOrganization(ctx context.Context, orgID string) error {
	path := "/v1/organizations/" + url.PathEscape(orgID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete provider organization %s: %w", orgID, err)
	}
	return nil
}

func (c *Client) AddMembership(ctx context.Context, orgID, userID string, role Role) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := "/v1/organizations/" + url.PathEscape(orgID) + "/memberships"
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"user_id": userID,
		"role":    string(role),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to add provider membership: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) RemoveMembership(ctx context.Context, orgID, userID, membershipID string) error {
	path := "/v1/organizations/" + url.PathEscape(orgID) + "/memberships/" + url.PathEscape(membershipID) +
		"?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to remove provider membership %s: %w", membershipID, err)
	}
	return nil
}

func (c *Client) UpdateMembershipRole(ctx context.Context, orgID, userID, membershipID string, role Role) error {
	path := "/v1/organizations/" + url.PathEscape(orgID) + "/memberships/" + url.PathEscape(membershipID)
	err := c.do(ctx, http.MethodPatch, path, map[string]string{
		"user_id": userID,
		"role":    string(role),
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to update provider membership role: %w", err)
	}
	return nil
}

func (c *Client) InviteOwner(ctx context.Context, orgID, email string) error {
	path := "/v1/organizations/" + url.PathEscape(orgID) + "/invitations"
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"email": email,
		"role":  string(RoleOwner),
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to invite owner %s: %w", email, err)
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	path := "/v1/users/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &user); err != nil {
		return nil, fmt.Errorf("failed to get provider user %s: %w", userID, err)
	}
	return &user, nil
}

func (c *Client) ListOrganizations(ctx context.Context, limit, offset int) (*OrganizationPage, error) {
	var page OrganizationPage
	path := "/v1/organizations?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list provider organizations: %w", err)
	}
	return &page, nil
}

// do executes one API call with bounded retries. The response body, when out
// is non-nil, is decoded as JSON.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		return c.attempt(ctx, method, path, payload)
	}

	respBody, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
	)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}

	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are retryable.
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		log.Warn().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Msg("Transient provider error, will retry")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	default:
		return nil, backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}
}
