package loqed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

const (
	DefaultLegacyBaseURL = "https://production.loqed.com:8080/v1"

	credentialAttempts = 10
	credentialDelay    = 2 * time.Second

	// LockTypeCylinderWithHandle locks report OPEN while the bolt is still
	// retracted only by the handle.
	LockTypeCylinderWithHandle = "CYLINDER_OPERATED_WITH_HANDLE"
)

// ErrCredentialsIncomplete means a fetched credential set is missing a field.
var ErrCredentialsIncomplete = errors.New("legacy credentials incomplete")

// LegacyCredentials authorize state changes against the legacy endpoint.
type LegacyCredentials struct {
	LockType   string `json:"lock_type"`
	APIKey     string `json:"api_key"`
	APIToken   string `json:"api_token"`
	LocalKeyID string `json:"local_key_id"`
}

// Complete reports whether every field needed for a state change is set.
func (c LegacyCredentials) Complete() bool {
	return strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.APIToken) != "" &&
		strings.TrimSpace(c.LocalKeyID) != ""
}

// CredentialFetcher reads post-pairing credentials for a legacy lock. They
// usually appear a few seconds after pairing completes.
type CredentialFetcher interface {
	FetchCredentials(ctx context.Context, lockID string) (LegacyCredentials, error)
}

// CredentialFetcherFunc adapts a function to CredentialFetcher.
type CredentialFetcherFunc func(ctx context.Context, lockID string) (LegacyCredentials, error)

func (f CredentialFetcherFunc) FetchCredentials(ctx context.Context, lockID string) (LegacyCredentials, error) {
	return f(ctx, lockID)
}

// LegacyClient pushes state changes to locks paired through the old flow.
type LegacyClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	attempts int
	delay    time.Duration
}

func NewLegacyClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *LegacyClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultLegacyBaseURL
	}
	return &LegacyClient{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger.With("component", "loqed_legacy"),
		attempts:   credentialAttempts,
		delay:      credentialDelay,
	}
}

// ChangeLockState asks the legacy endpoint to move the bolt.
func (c *LegacyClient) ChangeLockState(ctx context.Context, creds LegacyCredentials, lockID string, state model.BoltState) error {
	const op = "legacy_change_state"
	if !state.Known() {
		return &GatewayError{Op: op, Kind: KindRejected, Err: errors.New("unsupported bolt state " + string(state))}
	}
	if !creds.Complete() {
		return &GatewayError{Op: op, Kind: KindAuth, Err: ErrCredentialsIncomplete}
	}

	query := url.Values{}
	query.Set("lock_api_key", creds.APIKey)
	query.Set("api_token", creds.APIToken)
	query.Set("lock_state", string(state))
	query.Set("local_key_id", creds.LocalKeyID)
	endpoint := c.baseURL + "/locks/" + url.PathEscape(lockID) + "/state?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// AwaitCredentials polls fetch until complete credentials are returned or
// the attempt budget runs out.
func (c *LegacyClient) AwaitCredentials(ctx context.Context, lockID string, fetch CredentialFetcher) (LegacyCredentials, error) {
	attempt := 0
	return utils.Retry(ctx, c.attempts, c.delay, func(ctx context.Context) (LegacyCredentials, error) {
		attempt++
		creds, err := fetch.FetchCredentials(ctx, lockID)
		if err == nil && !creds.Complete() {
			err = ErrCredentialsIncomplete
		}
		if err != nil {
			c.logger.Debug("legacy credentials not ready", "lock_id", lockID, "attempt", attempt, "error", err)
			return LegacyCredentials{}, err
		}
		return creds, nil
	})
}
