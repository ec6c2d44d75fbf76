package connector

import (
	"context"
	"net/http"
)

// MaxResponseLength caps the maximum byte-length of responses that transports must support. The
// vendor status payloads are large (full telemetry trees) but bounded.
const MaxResponseLength = 100000

// Response is the result of one HTTP exchange with a vendor backend. Correlation ids and session
// tokens arrive in response headers, so transports must preserve them.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs a single authenticated HTTP exchange with a vendor backend.
//
// Implementations return an error on connect or timeout failure. A non-2xx status is not a
// transport error; callers inspect Response.StatusCode and the vendor envelope in Body.
//
// Implementations must be thread safe.
type Transport interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)
}
