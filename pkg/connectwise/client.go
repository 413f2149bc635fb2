// Package connectwise provides a client for the ConnectWise PSA REST API.
package connectwise

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when ConnectWise answers 404 or a lookup has no match.
var ErrNotFound = eris.New("connectwise: not found")

// Client defines the ConnectWise operations used by the screenpop service.
type Client interface {
	// ListContacts fetches one page of the contact listing for the cache sync.
	// Pages start at 1. The request is made once with the sync timeout and is
	// never retried.
	ListContacts(ctx context.Context, page, pageSize int) ([]Contact, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	// AddPhoneToContact appends a phone number to a contact's communication
	// items. It is a no-op when the exact value is already present.
	AddPhoneToContact(ctx context.Context, contactID int64, phone, phoneType string) error
	CreateContact(ctx context.Context, in NewContact) (int64, error)

	SearchCompanies(ctx context.Context, query string, limit int) ([]Company, error)
	GetCompany(ctx context.Context, id int64) (*Company, error)
	GetCompanyContacts(ctx context.Context, companyID int64) ([]Contact, error)
	// CreateCompanyAndContact creates a company, activates it in finance and
	// creates its first contact. Finance activation and the default-contact
	// patch are best effort.
	CreateCompanyAndContact(ctx context.Context, in NewCompany) (companyID, contactID int64, err error)
	ActivateCompanyFinance(ctx context.Context, companyID int64) error

	GetCompanyTickets(ctx context.Context, companyID int64, filter string, limit int) ([]Ticket, error)
	CreateTicket(ctx context.Context, in NewTicket) (int64, error)

	// GetMemberByName returns ErrNotFound when no member has that name.
	GetMemberByName(ctx context.Context, firstName, lastName string) (*Member, error)
	GetAllMembers(ctx context.Context) ([]Member, error)
	GetMemberTickets(ctx context.Context, identifier, filter string, limit int) ([]Ticket, error)
}

// Credentials identify the integration to ConnectWise.
type Credentials struct {
	BaseURL    string
	CompanyID  string
	PublicKey  string
	PrivateKey string
	ClientID   string
}

// Option configures the ConnectWise client.
type Option func(*httpClient)

// WithHTTPClient sets the client used for interactive requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the interactive request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithSyncTimeout sets the timeout for contact listing pages.
func WithSyncTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.syncTimeout = d
	}
}

// WithRateLimit sets the steady request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = NewAdaptiveLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithBreaker sets how many consecutive outage responses open the circuit
// and how long it stays open before probing.
func WithBreaker(threshold int, reset time.Duration) Option {
	return func(c *httpClient) {
		c.breaker = NewBreaker(threshold, reset)
	}
}

// WithRetry sets the attempt count and first backoff for retried GETs.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *httpClient) {
		c.maxAttempts = maxAttempts
		c.backoff = backoff
	}
}

type httpClient struct {
	baseURL     string
	auth        string
	clientID    string
	http        *http.Client
	syncTimeout time.Duration
	limiter     *AdaptiveLimiter
	breaker     *Breaker
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
}

// NewClient creates a new ConnectWise client.
func NewClient(creds Credentials, opts ...Option) Client {
	token := creds.CompanyID + "+" + creds.PublicKey + ":" + creds.PrivateKey
	c := &httpClient{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte(token)),
		clientID: creds.ClientID,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		syncTimeout: 60 * time.Second,
		limiter:     NewAdaptiveLimiter(10, 10),
		breaker:     NewBreaker(5, 30*time.Second),
		maxAttempts: 3,
		backoff:     time.Second,
		log:         zap.L().With(zap.String("component", "connectwise")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.onChange = func(from, to BreakerState) {
		c.log.Warn("circuit state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return c
}

// request describes one API call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// retry enables backoff on transient failures. Only idempotent GETs set it.
	retry   bool
	timeout time.Duration
}

func (c *httpClient) newRequest(ctx context.Context, r request) (*http.Request, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, eris.Wrapf(err, "connectwise: marshal %s %s", r.method, r.path)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, eris.Wrap(err, "connectwise: create request")
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("ClientId", c.clientID)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes r and returns the response body and status code.
func (c *httpClient) do(ctx context.Context, r request) ([]byte, int, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, 0, err
	}
	if r.retry {
		return c.retryDo(ctx, req)
	}
	return c.once(ctx, req)
}

func (c *httpClient) once(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if err := c.breaker.allow(); err != nil {
		return nil, 0, eris.Wrapf(err, "connectwise: %s %s", req.Method, req.URL.Path)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.release()
		return nil, 0, eris.Wrap(err, "connectwise: rate limiter wait")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// A cancelled caller says nothing about ConnectWise's health.
		if ctx.Err() != nil {
			c.breaker.release()
		} else {
			c.breaker.record(0, err)
		}
		return nil, 0, eris.Wrapf(err, "connectwise: %s %s", req.Method, req.URL.Path)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		c.breaker.record(0, err)
		return nil, resp.StatusCode, eris.Wrap(err, "connectwise: read response body")
	}
	c.breaker.record(resp.StatusCode, nil)
	c.observe(resp.StatusCode)
	return body, resp.StatusCode, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	attempts := max(1, c.maxAttempts)
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, status, err := c.once(ctx, req.Clone(ctx))
		switch {
		case errors.Is(err, ErrUnavailable):
			return nil, 0, err
		case err != nil:
			lastErr = err
		case retryableStatusCode(status) && attempt < attempts:
			lastErr = eris.Errorf("connectwise: status %d: %s", status, string(body))
		default:
			return body, status, nil
		}

		if attempt == attempts {
			break
		}
		c.log.Warn("request failed, retrying",
			zap.String("path", req.URL.Path),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, 0, lastErr
}

func (c *httpClient) observe(status int) {
	if status == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
		return
	}
	if status < 300 {
		c.limiter.OnSuccess()
	}
}

// decode checks the status against want and unmarshals body into out.
func decode(op string, body []byte, status, want int, out any) error {
	if status == http.StatusNotFound {
		return eris.Wrap(ErrNotFound, op)
	}
	if status != want {
		return &StatusError{Op: op, Code: status, Body: truncate(string(body), 512)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "connectwise: %s: unmarshal response", op)
	}
	return nil
}

// StatusError reports an unexpected HTTP status from ConnectWise.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connectwise: %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
