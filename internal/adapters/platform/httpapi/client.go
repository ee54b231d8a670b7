package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

const (
	maxResponseBytes      = 1 << 20
	defaultRequestTimeout = 30 * time.Second

	challengesPath   = "v1/challenges"
	verifyPath       = "v1/challenges/verify"
	secondFactorPath = "v1/challenges/second-factor"

	credentialHeader = "X-Credential-ID"
)

var ErrNoChallenge = errors.New("no challenge sent for account")

// Client talks to the chat platform's login API. The credential used for
// SendChallenge is remembered per account and reused for the verify calls
// of the same handshake.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration

	mu          sync.Mutex
	credentials map[domain.AccountID]domain.Credential
}

var (
	_ ports.ChallengePlatform  = (*Client)(nil)
	_ ports.ChallengeForgetter = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestTimeout bounds each request when the caller's context has no deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := buildAPIURL(baseURL, challengesPath); err != nil {
		return nil, err
	}

	client := &Client{
		baseURL:        baseURL,
		httpClient:     http.DefaultClient,
		requestTimeout: defaultRequestTimeout,
		credentials:    make(map[domain.AccountID]domain.Credential),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type sendChallengeRequest struct {
	AccountID string `json:"account_id"`
}

type verifyRequest struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code,omitempty"`
	Secret    string `json:"secret,omitempty"`
}

type verifyResponse struct {
	SecondFactorRequired bool `json:"second_factor_required"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) SendChallenge(ctx context.Context, account domain.AccountID, credential domain.Credential) error {
	if credential.Secret == "" {
		return fmt.Errorf("%w: credential %s has no secret", domain.ErrValidation, credential.ID)
	}

	if err := c.post(ctx, challengesPath, credential, sendChallengeRequest{AccountID: string(account)}, nil); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	c.mu.Lock()
	c.credentials[account] = credential
	c.mu.Unlock()
	return nil
}

func (c *Client) VerifyChallenge(ctx context.Context, account domain.AccountID, code string) (ports.ChallengeResult, error) {
	credential, err := c.credentialFor(account)
	if err != nil {
		return ports.ChallengeResult{}, err
	}

	var payload verifyResponse
	if err := c.post(ctx, verifyPath, credential, verifyRequest{AccountID: string(account), Code: code}, &payload); err != nil {
		return ports.ChallengeResult{}, fmt.Errorf("verify challenge: %w", err)
	}

	if !payload.SecondFactorRequired {
		c.Forget(account)
	}
	return ports.ChallengeResult{SecondFactorRequired: payload.SecondFactorRequired}, nil
}

func (c *Client) VerifySecondFactor(ctx context.Context, account domain.AccountID, secret string) error {
	credential, err := c.credentialFor(account)
	if err != nil {
		return err
	}

	if err := c.post(ctx, secondFactorPath, credential, verifyRequest{AccountID: string(account), Secret: secret}, nil); err != nil {
		return fmt.Errorf("verify second factor: %w", err)
	}

	c.Forget(account)
	return nil
}

func (c *Client) credentialFor(account domain.AccountID) (domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	credential, ok := c.credentials[account]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: %s", ErrNoChallenge, account)
	}
	return credential, nil
}

// Forget drops the credential remembered for an unfinished handshake.
func (c *Client) Forget(account domain.AccountID) {
	c.mu.Lock()
	delete(c.credentials, account)
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, path string, credential domain.Credential, body any, dst any) error {
	endpoint, err := buildAPIURL(c.baseURL, path)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential.Secret)
	req.Header.Set(credentialHeader, string(credential.ID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrChallengeRejected, decodeError(resp))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("request %s: %s", path, decodeError(resp))
	}

	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func decodeError(resp *http.Response) string {
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil || payload.Error == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	if payload.ErrorDescription != "" {
		return payload.Error + ": " + payload.ErrorDescription
	}
	return payload.Error
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("%w: platform base url is required", domain.ErrValidation)
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse platform base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: platform base url must use http or https", domain.ErrValidation)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: platform base url host is required", domain.ErrValidation)
	}

	return parsed.JoinPath(path).String(), nil
}
