package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/fjod/atomic-storefront/internal/metrics"
	"github.com/fjod/atomic-storefront/pkg/circuitbreaker"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

const DefaultTimeout = 10 * time.Second

var (
	// ErrUnavailable wraps transport failures, 5xx answers and an open
	// breaker. The caller may retry.
	ErrUnavailable  = errors.New("remote api unavailable")
	ErrUnauthorized = errors.New("remote api rejected the credentials")
	ErrNotFound     = errors.New("remote resource not found")
	ErrBadResponse  = errors.New("unexpected remote api response")
)

// StatusError is a non-2xx answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote api returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote api returned %d", e.Code)
}

// TokenSource yields the bearer token for authenticated calls. An empty
// token means anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config tunes the client. Zero values pick the defaults.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimit       float64 // requests per second, 0 disables the limiter
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client talks to the remote commerce REST API. Profile stats go through a
// breaker of their own, so failing optional endpoints never block the
// catalog, auth or user calls.
type Client struct {
	baseURL      string
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker[[]byte]
	statsBreaker *gobreaker.CircuitBreaker[[]byte]
	limiter      *rate.Limiter
	tokens       TokenSource
	log          *logrus.Entry
}

// NewClient builds a client. tokens may be nil for anonymous use.
func NewClient(cfg Config, tokens TokenSource, log *logrus.Entry) *Client {
	if log == nil {
		log = logger.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens: tokens,
		log:    log,
	}
	c.breaker = newBreaker("remote-api", cfg, log)
	c.statsBreaker = newBreaker("remote-api-stats", cfg, log)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func newBreaker(name string, cfg Config, log *logrus.Entry) *gobreaker.CircuitBreaker[[]byte] {
	return circuitbreaker.New[[]byte](circuitbreaker.Settings{
		Name:         name,
		Failures:     cfg.BreakerFailures,
		Timeout:      cfg.BreakerTimeout,
		IsSuccessful: countsAsSuccess,
		Log:          log,
	})
}

// countsAsSuccess keeps 4xx answers from tripping the breaker.
func countsAsSuccess(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError
	}
	return err == nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, auth bool) ([]byte, error) {
	return c.do(ctx, c.breaker, endpoint, http.MethodGet, path, query, nil, auth)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, c.breaker, endpoint, http.MethodPost, path, nil, body, false)
}

func (c *Client) do(ctx context.Context, cb *gobreaker.CircuitBreaker[[]byte], endpoint, method, path string, query url.Values, body interface{}, auth bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal %s request failed: %w", endpoint, err)
		}
	}

	token := ""
	if auth && c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return nil, err
		}
	}

	data, err := cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, payload, token)
	})
	metrics.RecordRemoteRequest(endpoint, err)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, token string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func classify(err error) error {
	if circuitbreaker.IsOpen(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		case se.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case se.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
