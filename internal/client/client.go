// Package client implements the signed outbound HTTP client used for
// platform requests against links cached from callbacks (video subscription
// PUTs, end-call DELETEs, bot-initiated join POSTs). Every request carries a
// correlation id and a fresh message id, both as headers and inside an HS256
// bearer token, and is retried per the shared retry policy.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Correlation headers sent on every outbound platform request.
const (
	HeaderChainID   = "X-Microsoft-Skype-Chain-Id"
	HeaderMessageID = "X-Microsoft-Skype-Message-Id"
)

// Retry policy defaults: up to 3 retries with a fixed 100ms delay.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// tokenTTL is the lifetime of the per-request bearer token.
const tokenTTL = time.Minute

// requestClaims are the JWT claims attached to each outbound request.
type requestClaims struct {
	CorrelationID string `json:"corrId"`
	MessageID     string `json:"msgId"`
	jwt.RegisteredClaims
}

// Client sends signed JSON requests to the calling platform.
type Client struct {
	httpClient *http.Client
	secret     []byte
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a platform client with the default retry policy.
// secret is the HS256 signing key for outbound bearer tokens.
func New(secret []byte, logger *slog.Logger) *Client {
	return NewWithPolicy(secret, DefaultMaxRetries, DefaultRetryDelay, logger)
}

// NewWithPolicy creates a platform client with an explicit retry policy.
func NewWithPolicy(secret []byte, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secret:     secret,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.With("subsystem", "client"),
	}
}

// SendSigned sends a signed request to the given platform URL, retrying on
// failure. The context is checked before every attempt; cancellation aborts
// the remaining attempts. When all attempts fail, the collected attempt
// errors are returned joined as one failure.
func (c *Client) SendSigned(ctx context.Context, method, url string, body []byte, correlationID string) error {
	var attemptErrs []error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			attemptErrs = append(attemptErrs, fmt.Errorf("aborting before attempt %d: %w", attempt+1, err))
			return errors.Join(attemptErrs...)
		}

		err := c.send(ctx, method, url, body, correlationID)
		if err == nil {
			return nil
		}
		attemptErrs = append(attemptErrs, err)
		c.logger.Error("platform request failed",
			"method", method,
			"url", url,
			"attempt", attempt+1,
			"correlation_id", correlationID,
			"error", err,
		)

		if attempt < c.maxRetries {
			c.logger.Info("retrying platform request",
				"method", method,
				"url", url,
				"next_attempt", attempt+2,
				"delay_ms", c.retryDelay.Milliseconds(),
			)
			select {
			case <-ctx.Done():
				attemptErrs = append(attemptErrs, fmt.Errorf("cancelled during retry delay: %w", ctx.Err()))
				return errors.Join(attemptErrs...)
			case <-time.After(c.retryDelay):
			}
		}
	}

	return errors.Join(attemptErrs...)
}

// send performs a single signed request attempt. Each attempt carries a
// fresh message id.
func (c *Client) send(ctx context.Context, method, url string, body []byte, correlationID string) error {
	messageID := uuid.NewString()

	token, err := c.signToken(correlationID, messageID)
	if err != nil {
		return fmt.Errorf("signing request token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderChainID, correlationID)
	req.Header.Set(HeaderMessageID, messageID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(respBody) > 0 {
			return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, respBody)
		}
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	return nil
}

// signToken builds the HS256 bearer token for one request.
func (c *Client) signToken(correlationID, messageID string) (string, error) {
	now := time.Now()
	claims := requestClaims{
		CorrelationID: correlationID,
		MessageID:     messageID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    "callbot",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
