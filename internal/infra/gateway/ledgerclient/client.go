// Package ledgerclient talks to the remote ledger over HTTP on behalf of the device.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

const requestTimeout = 30 * time.Second

// Client is an HTTP client for the ledger API. It authenticates as the
// device with its enrollment key and refreshes the token on 401.
type Client struct {
	baseURL       string
	deviceID      string
	enrollmentKey string
	httpClient    *http.Client
	logger        *logger.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a ledger client
func NewClient(baseURL, deviceID, enrollmentKey string, log *logger.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		deviceID:      deviceID,
		enrollmentKey: enrollmentKey,
		httpClient:    &http.Client{Timeout: requestTimeout},
		logger:        log.Component("ledger_client"),
	}
}

// SetHTTPClient overrides the HTTP client (useful for testing)
func (c *Client) SetHTTPClient(h *http.Client) {
	c.httpClient = h
}

// response is a raw ledger reply
type response struct {
	status int
	body   []byte
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}

// do sends one request. Transport problems come back as *TransportError;
// any HTTP status is returned to the caller to interpret.
func (c *Client) do(ctx context.Context, method, path string, body any, authed bool) (*response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.currentToken())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.Debug("ledger response",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &response{status: resp.StatusCode, body: raw}, nil
}

// doAuthed sends an authenticated request, logging in first if needed and
// once more if the token was refused
func (c *Client) doAuthed(ctx context.Context, method, path string, body any) (*response, error) {
	if c.currentToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, method, path, body, true)
	if err != nil || resp.status != http.StatusUnauthorized {
		return resp, err
	}

	c.logger.Info("device token refused, re-authenticating")
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, body, true)
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authenticate exchanges the enrollment key for a device token
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, ledgerapi.PathDeviceAuth, ledgerapi.DeviceAuthRequest{
		DeviceID:      c.deviceID,
		EnrollmentKey: c.enrollmentKey,
	}, false)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(resp))
		}
		return statusError(resp)
	}

	var out ledgerapi.DeviceAuthResponse
	if err := resp.decode(&out); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()

	c.logger.Info("device authenticated", "expires_at", out.ExpiresAt)
	return nil
}

// Provision fetches the device's signing secret
func (c *Client) Provision(ctx context.Context) ([]byte, error) {
	resp, err := c.doAuthed(ctx, http.MethodPost, ledgerapi.PathProvision, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}

	var out ledgerapi.ProvisionResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(out.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode provisioned secret: %w", err)
	}
	return secret, nil
}

// SubmitTransaction posts one transaction. 200 and 409 are acknowledgments.
// A 409 is a duplicate whatever its body says; an unreadable body only
// loses the balance.
func (c *Client) SubmitTransaction(ctx context.Context, req ledgerapi.TransactionRequest) (*ledgerapi.TransactionResponse, error) {
	resp, err := c.doAuthed(ctx, http.MethodPost, ledgerapi.PathSyncTransactions, req)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusConflict:
		var out ledgerapi.TransactionResponse
		if err := resp.decode(&out); err != nil {
			c.logger.Warn("undecodable duplicate acknowledgment", "idempotency_key", req.IdempotencyKey, "error", err)
			out = ledgerapi.TransactionResponse{}
		}
		out.Status = ledgerapi.StatusDuplicate
		return &out, nil
	case http.StatusOK, http.StatusCreated:
		var out ledgerapi.TransactionResponse
		if err := resp.decode(&out); err != nil {
			return nil, &TransportError{StatusCode: resp.status, Err: err}
		}
		return &out, nil
	}
	return nil, statusError(resp)
}

// SubmitItem posts one generic sync item
func (c *Client) SubmitItem(ctx context.Context, req ledgerapi.ItemRequest) error {
	resp, err := c.doAuthed(ctx, http.MethodPost, ledgerapi.PathSyncItems, req)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	}
	return statusError(resp)
}

// GetWallet fetches a wallet's confirmed state
func (c *Client) GetWallet(ctx context.Context, walletID string) (*ledgerapi.WalletResponse, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, ledgerapi.PathWallets+"/"+walletID, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: wallet %s", ErrNotFound, walletID)
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}

	var out ledgerapi.WalletResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCatalog fetches the product catalog
func (c *Client) GetCatalog(ctx context.Context) (*ledgerapi.CatalogResponse, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, ledgerapi.PathCatalog, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}

	var out ledgerapi.CatalogResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe measures a round trip to the health endpoint
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := c.do(ctx, http.MethodGet, ledgerapi.PathHealth, nil, false)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, statusError(resp)
	}
	return time.Since(start), nil
}

// statusError classifies an unexpected status: 4xx other than 401/408/429
// are rejections, everything else is retryable
func statusError(resp *response) error {
	msg := errorMessage(resp)
	switch {
	case resp.status == http.StatusUnauthorized:
		return &TransportError{StatusCode: resp.status, Err: fmt.Errorf("%w: %s", ErrUnauthorized, msg)}
	case resp.status == http.StatusRequestTimeout, resp.status == http.StatusTooManyRequests:
		return &TransportError{StatusCode: resp.status, Err: errors.New(msg)}
	case resp.status >= 400 && resp.status < 500:
		reason := ledgerapi.ReasonInvalidRequest
		var body ledgerapi.ErrorResponse
		if json.Unmarshal(resp.body, &body) == nil && body.Reason != "" {
			reason = body.Reason
		}
		return &RejectedError{StatusCode: resp.status, Reason: reason, Message: msg}
	default:
		return &TransportError{StatusCode: resp.status, Err: errors.New(msg)}
	}
}

func errorMessage(resp *response) string {
	var body ledgerapi.ErrorResponse
	if err := json.Unmarshal(resp.body, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if len(resp.body) > 0 {
		return strings.TrimSpace(string(resp.body))
	}
	return http.StatusText(resp.status)
}
