// Package metaclient is the outbound client for FS9's one external
// dependency: the metadata service that validates bearer tokens into
// (tenant, user, roles, expiry) claims. The call is wrapped in a retry
// loop (innermost) and a circuit breaker (outermost), per §4.8 — a
// transient blip is retried before it ever counts against the breaker,
// but the breaker still sees (and trips on) the loop's final outcome.
package metaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fs9/fs9/internal/circuit"
	"github.com/fs9/fs9/internal/tokencache"
	"github.com/fs9/fs9/pkg/retry"
)

// Config configures the metadata-service client.
type Config struct {
	BaseURL string
	APIKey  string
	Client  *http.Client

	FailureThreshold    int
	RecoveryTimeout     time.Duration
	MaxRetryAttempts    int
	BaseDelay           time.Duration
}

// statusError carries the HTTP status of a failed meta call so the retry
// loop can classify it: a 5xx or network error is transient and retried; a
// deterministic 4xx (expired token, bad signature) is not.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

// Retryable implements retry.RetryableError: only server errors and
// non-HTTP (network/transport) failures are worth retrying.
func (e *statusError) Retryable() bool {
	return e.status == 0 || e.status >= 500
}

// Client validates bearer tokens against the metadata service, protected
// by a circuit breaker and retry loop.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
}

// New creates a Client. BaseURL must point at the metadata service's root;
// tokens are validated via a POST to "<BaseURL>/validate".
func New(cfg Config) *Client {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}

	breaker := circuit.NewCircuitBreaker("meta-service", circuit.Config{
		Timeout: cfg.RecoveryTimeout,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
	})

	retryer := retry.New(retry.Config{
		MaxAttempts:  cfg.MaxRetryAttempts,
		InitialDelay: cfg.BaseDelay,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable: func(err error) bool {
			se, ok := err.(*statusError)
			return ok && se.Retryable()
		},
	})

	return &Client{cfg: cfg, http: cfg.Client, breaker: breaker, retryer: retryer}
}

// ErrCircuitOpen is returned when the breaker is OPEN and a call fails fast
// without ever reaching the network.
var ErrCircuitOpen = circuit.ErrOpenState

type validateResponse struct {
	Tenant string   `json:"tenant"`
	User   string   `json:"user"`
	Roles  []string `json:"roles"`
	Expiry int64    `json:"expiry"` // unix seconds
}

// ValidateToken validates token against the metadata service, retrying
// transient failures and failing fast if the breaker is open.
func (c *Client) ValidateToken(ctx context.Context, token string) (tokencache.Claims, error) {
	var claims tokencache.Claims

	err := c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			result, callErr := c.call(ctx, token)
			if callErr != nil {
				return callErr
			}
			claims = result
			return nil
		})
	})
	if err != nil {
		if err == circuit.ErrOpenState || err == circuit.ErrTooManyRequests {
			return tokencache.Claims{}, ErrCircuitOpen
		}
		return tokencache.Claims{}, err
	}
	return claims, nil
}

func (c *Client) call(ctx context.Context, token string) (tokencache.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/validate", nil)
	if err != nil {
		return tokencache.Claims{}, &statusError{msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.cfg.APIKey != "" {
		req.Header.Set("X-FS9-Meta-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return tokencache.Claims{}, &statusError{msg: "meta-service unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokencache.Claims{}, &statusError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("meta-service returned status %d", resp.StatusCode),
		}
	}

	var v validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return tokencache.Claims{}, &statusError{status: 200, msg: "malformed meta-service response: " + err.Error()}
	}

	return tokencache.Claims{
		Tenant:  v.Tenant,
		User:    v.User,
		Roles:   v.Roles,
		Expires: time.Unix(v.Expiry, 0),
	}, nil
}

// State reports the circuit breaker's current state, used by /health.
func (c *Client) State() circuit.State {
	return c.breaker.GetState()
}
