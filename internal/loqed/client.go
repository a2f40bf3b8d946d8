package loqed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

const (
	DefaultBaseURL = "https://integrations.production.loqed.com/api"

	listLocksKey = "locks"
	maxErrorBody = 256
)

// ErrNoWebhookURL means CreateWebhook was called without a callback URL.
var ErrNoWebhookURL = errors.New("webhook url is not configured")

// Options configures a Client.
type Options struct {
	BaseURL    string
	WebhookURL string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the LOQED integrations API.
type Client struct {
	baseURL    string
	webhookURL string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	locks singleflight.Group
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL:    base,
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With("component", "loqed"),
	}
}

// ListLocks returns every lock visible to the account. Concurrent callers
// share one in-flight request and receive the same result.
func (c *Client) ListLocks(ctx context.Context) ([]model.LockSnapshot, error) {
	value, err, shared := c.locks.Do(listLocksKey, func() (any, error) {
		var payload []lockPayload
		if err := c.do(ctx, "list_locks", http.MethodGet, "/locks", nil, &payload); err != nil {
			return nil, err
		}
		locks := make([]model.LockSnapshot, 0, len(payload))
		for _, item := range payload {
			locks = append(locks, item.snapshot())
		}
		return locks, nil
	})
	if shared {
		c.logger.Debug("list locks shared in-flight request")
	}
	if err != nil {
		return nil, err
	}
	return value.([]model.LockSnapshot), nil
}

// SetBoltState commands a bolt-state change.
func (c *Client) SetBoltState(ctx context.Context, lockID string, state model.BoltState) error {
	if !state.Known() {
		return &GatewayError{Op: "set_bolt_state", Kind: KindRejected, Err: fmt.Errorf("unsupported bolt state %q", state)}
	}
	path := "/locks/" + url.PathEscape(lockID) + "/bolt_state/" + url.PathEscape(string(state))
	return c.do(ctx, "set_bolt_state", http.MethodGet, path, nil, nil)
}

// SetSetting changes a named boolean setting.
func (c *Client) SetSetting(ctx context.Context, lockID string, name string, value bool) error {
	body := settingRequest{Name: name, Value: value}
	return c.do(ctx, "set_setting", http.MethodPost, "/locks/"+url.PathEscape(lockID)+"/setting", body, nil)
}

// CreateWebhook registers the configured callback URL for lockID and returns
// the subscription id.
func (c *Client) CreateWebhook(ctx context.Context, lockID string) (string, error) {
	if c.webhookURL == "" {
		return "", ErrNoWebhookURL
	}
	body := webhookRequest{URL: c.webhookURL, Info: true, GuestAccessMode: true}
	var out webhookPayload
	if err := c.do(ctx, "create_webhook", http.MethodPost, "/locks/"+url.PathEscape(lockID)+"/webhooks", body, &out); err != nil {
		return "", err
	}
	id := strings.TrimSpace(out.ID.String())
	if id == "" {
		return "", &GatewayError{Op: "create_webhook", Kind: KindRejected, Err: errors.New("response carried no webhook id")}
	}
	return id, nil
}

// DeleteWebhook removes a push subscription.
func (c *Client) DeleteWebhook(ctx context.Context, lockID string, webhookID string) error {
	path := "/locks/" + url.PathEscape(lockID) + "/webhooks/" + url.PathEscape(webhookID)
	return c.do(ctx, "delete_webhook", http.MethodDelete, path, nil, nil)
}

// ListKeys returns the keys authorized on a lock.
func (c *Client) ListKeys(ctx context.Context, lockID string) ([]model.Key, error) {
	var keys []model.Key
	if err := c.do(ctx, "list_keys", http.MethodGet, "/locks/"+url.PathEscape(lockID)+"/keys", nil, &keys); err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []model.Key{}
	}
	return keys, nil
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &GatewayError{Op: op, Kind: KindAuth, Err: err}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, string(text))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return networkError(op, fmt.Errorf("decode response: %w", err))
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &GatewayError{Op: op, Kind: KindRejected, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
