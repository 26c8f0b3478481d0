// Package transport implements the shared remote HTTPS client: multi-host
// failover, bounded retries with exponential backoff, chunked body writes,
// and connection-reset tolerance. The request/response shape (a plain
// net/http client with a PVEAPIToken header and a `{"data":...}` envelope)
// follows the Proxmox API convention; the retry schedule uses
// github.com/cenkalti/backoff/v4.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// maxAttempts is the bounded retry budget per request.
const maxAttempts = 5

// fixedBackoffSchedule is the fixed delay schedule applied between
// retries, capped at its last entry.
var fixedBackoffSchedule = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	4000 * time.Millisecond,
	8000 * time.Millisecond,
}

// chunkMinBytes/chunkMaxBytes bound the chunked-upload write size; bodies
// <= smallBodyThreshold are written in one shot.
const (
	smallBodyThreshold = 4 * 1024
	chunkMinBytes      = 4 * 1024
	chunkMaxBytes      = 16 * 1024
	interChunkPause    = 5 * time.Millisecond
)

// Endpoint describes a Proxmox remote node.
type Endpoint struct {
	Hosts     []string
	Port      int
	APIToken  string
	Node      string
	TLSVerify bool
	Timeout   time.Duration
}

// Client is the shared transport used by the Proxmox VM backend.
// Scheduling is single-threaded cooperative per invocation: a request
// occupies the caller until success, retry-budget exhaustion, or a fatal
// error.
type Client struct {
	Endpoint Endpoint
	Log      zerolog.Logger
	http     *http.Client
	hostIdx  int
	backoff  backoff.BackOff
}

// NewClient builds a Client with a TLS-aware http.Client honoring
// endpoint.TLSVerify and a per-request timeout (default 30s).
func NewClient(ep Endpoint, log zerolog.Logger) *Client {
	timeout := ep.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ep.Timeout = timeout
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !ep.TLSVerify}, // #nosec G402 -- operator opt-in via tls_verify=false
	}
	return &Client{
		Endpoint: ep,
		Log:      log,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		backoff:  newFixedScheduleBackOff(),
	}
}

// response is the Proxmox wire envelope: {"data":...}
type response struct {
	Data json.RawMessage `json:"data"`
}

// Kind classifies an HTTP status into a small set of retryable/terminal
// buckets the caller can switch on without inspecting raw status codes.
type Kind string

const (
	KindAuth       Kind = "AuthError"
	KindPermission Kind = "PermissionDenied"
	KindNotFound   Kind = "NotFound"
	KindTimeout    Kind = "Timeout"
	KindRemote     Kind = "RemoteFailed"
)

// StatusError reports a non-2xx HTTP response mapped to a Kind.
type StatusError struct {
	Kind       Kind
	StatusCode int
	Body       string
	Retriable  bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote error[%s]: http %d: %s", e.Kind, e.StatusCode, e.Body)
}

func classifyStatus(code int) (Kind, bool) {
	switch {
	case code == 200 || code == 201:
		return "", false
	case code == 401:
		return KindAuth, false
	case code == 403:
		return KindPermission, false
	case code == 404:
		return KindNotFound, false
	case code == 408:
		return KindTimeout, true
	case code >= 500:
		return KindRemote, true
	default:
		return KindRemote, false
	}
}

// Form does a form-urlencoded request against path, retrying per policy and
// failing over across Endpoint.Hosts. body may be nil for GET/DELETE.
func (c *Client) Form(ctx context.Context, method, path string, body map[string]string) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		encoded = []byte(encodeForm(body))
	}
	return c.do(ctx, method, path, "application/x-www-form-urlencoded", encoded)
}

// do executes the request with retries, host failover, and chunked writes
// for large bodies. Deadline cancellation aborts in-flight requests and
// releases sockets without leaving durable local state.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (json.RawMessage, error) {
	if len(c.Endpoint.Hosts) == 0 {
		return nil, fmt.Errorf("transport: no hosts configured")
	}

	c.backoff.Reset()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		host := c.Endpoint.Hosts[c.hostIdx%len(c.Endpoint.Hosts)]
		url := fmt.Sprintf("https://%s:%d/api2/json%s", host, c.Endpoint.Port, path)

		data, statusErr, transportErr := c.attempt(ctx, method, url, contentType, body)
		if transportErr == nil && statusErr == nil {
			return data, nil
		}
		if statusErr != nil && !statusErr.Retriable {
			return nil, statusErr
		}

		lastErr = transportErr
		if lastErr == nil {
			lastErr = statusErr
		}

		c.Log.Warn().Int("attempt", attempt+1).Str("host", host).Err(lastErr).Msg("remote request failed, retrying")

		if wait := c.backoff.NextBackOff(); wait != backoff.Stop {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if len(c.Endpoint.Hosts) > 1 {
			c.hostIdx++
		}
	}
	return nil, fmt.Errorf("transport: retry budget exhausted after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url, contentType string, body []byte) (json.RawMessage, *StatusError, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "PVEAPIToken="+c.Endpoint.APIToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ocirun/1.0")
	if contentType != "" && len(body) > 0 {
		req.Header.Set("Content-Type", contentType)
	}

	if len(body) > smallBodyThreshold {
		// Chunked upload: req.Body is replaced with a chunkedReader
		// that paces writes, mitigating upstream-reset behavior observed
		// against TLS-terminating proxies.
		req.Body = io.NopCloser(newChunkedReader(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if kind, retriable := classifyStatus(resp.StatusCode); kind != "" {
		return nil, &StatusError{Kind: kind, StatusCode: resp.StatusCode, Body: string(raw), Retriable: retriable}, nil
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("transport: malformed response body: %w", err)
	}
	return env.Data, nil, nil
}

// chunkedReader paces writes into 4-16 KiB chunks with a brief inter-chunk
// pause
type chunkedReader struct {
	data []byte
	pos  int
}

func newChunkedReader(data []byte) *chunkedReader { return &chunkedReader{data: data} }

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	chunk := chunkMaxBytes
	if remaining := len(r.data) - r.pos; chunk > remaining && remaining >= chunkMinBytes {
		chunk = remaining
	}
	if chunk > len(p) {
		chunk = len(p)
	}
	if r.pos > 0 {
		time.Sleep(interChunkPause)
	}
	end := r.pos + chunk
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func encodeForm(body map[string]string) string {
	var buf bytes.Buffer
	first := true
	for k, v := range body {
		if !first {
			buf.WriteByte('&')
		}
		first = false
		buf.WriteString(url.QueryEscape(k))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(v))
	}
	return buf.String()
}

// fixedScheduleBackOff implements backoff.BackOff over the exact,
// non-jittered schedule in fixedBackoffSchedule, capped at its last entry
// once the schedule is exhausted (it never returns backoff.Stop on its
// own; the caller's maxAttempts bound ends the retry loop instead).
type fixedScheduleBackOff struct {
	idx int
}

func newFixedScheduleBackOff() *fixedScheduleBackOff { return &fixedScheduleBackOff{} }

func (f *fixedScheduleBackOff) NextBackOff() time.Duration {
	d := fixedBackoffSchedule[f.idx]
	if f.idx < len(fixedBackoffSchedule)-1 {
		f.idx++
	}
	return d
}

func (f *fixedScheduleBackOff) Reset() { f.idx = 0 }

var _ backoff.BackOff = (*fixedScheduleBackOff)(nil)
