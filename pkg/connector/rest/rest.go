// Package rest implements the connector.Transport boundary over HTTP.
package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dahlb/kia-hyundai-go/internal/log"
	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// DefaultTimeout bounds a single HTTP exchange, including connection setup and reading the body.
var DefaultTimeout = 30 * time.Second

// DefaultRequestRate paces outbound requests. The vendor backends enforce daily quotas on remote
// services and return rate errors well before HTTP 429, so the client stays polite by default.
var DefaultRequestRate = rate.Limit(2)

// HttpError covers non-2xx responses from a vendor backend.
type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// ReadWithContext reads from r into p, returning early if ctx expires.
func ReadWithContext(ctx context.Context, r io.Reader, p []byte) ([]byte, error) {
	bytesRead := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := r.Read(p[bytesRead:])
		bytesRead += n
		if err == io.EOF {
			return p[:bytesRead], nil
		}
		if err != nil {
			return p[:bytesRead], err
		}
		if bytesRead == len(p) {
			return p[:bytesRead], nil
		}
	}
}

// Connection implements connector.Transport by sending requests with a shared http.Client.
type Connection struct {
	UserAgent string
	client    http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
}

type Option func(*Connection)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Connection) { c.timeout = d }
}

// WithRequestRate overrides the client-side request pacing. Use rate.Inf to disable.
func WithRequestRate(limit rate.Limit) Option {
	return func(c *Connection) { c.limiter = rate.NewLimiter(limit, 1) }
}

// WithClient substitutes the underlying http.Client, e.g. for tests.
func WithClient(client http.Client) Option {
	return func(c *Connection) { c.client = client }
}

// NewConnection creates a Connection.
func NewConnection(userAgent string, opts ...Option) *Connection {
	conn := &Connection{
		UserAgent: userAgent,
		limiter:   rate.NewLimiter(DefaultRequestRate, 1),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Client exposes the underlying http.Client so tests can install mock transports.
func (c *Connection) Client() *http.Client {
	return &c.client
}

// Do performs one HTTP exchange. Network failures are wrapped as temporary protocol.CommandErrors;
// a response that arrives with a non-2xx status is returned alongside an *HttpError so callers can
// still inspect the vendor envelope.
func (c *Connection) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*connector.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
	}
	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	if c.UserAgent != "" && request.Header.Get("User-Agent") == "" {
		request.Header.Set("User-Agent", c.UserAgent)
	}

	log.Debug("Sending %s %s: %s", method, url, scrubBody(body))
	result, err := c.client.Do(request)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: true}
	}
	defer result.Body.Close()

	buffer := make([]byte, connector.MaxResponseLength+1)
	buffer, err = ReadWithContext(ctx, result.Body, buffer)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if len(buffer) == connector.MaxResponseLength+1 {
		return nil, protocol.NewError("response exceeds maximum length", true, true)
	}

	response := &connector.Response{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       buffer,
	}
	log.Debug("Server returned %d: %s: %s", result.StatusCode, http.StatusText(result.StatusCode), scrubBody(buffer))
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return response, &HttpError{Code: result.StatusCode, Message: strings.TrimSpace(string(buffer))}
	}
	return response, nil
}
