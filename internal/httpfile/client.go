// Package httpfile is the HTTP Client Facade (spec §4.1): a thin
// abstraction over net/http exposing HEAD and a streaming GET, with a
// configured timeout and user-agent. It never retries — that policy lives
// in the segment fetcher and the engine's streaming path.
package httpfile

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/fetchcore/fetchcore/internal/model"
)

// TransportErrorClass distinguishes the kinds of low-level failure the
// facade can surface, per spec §4.1.
type TransportErrorClass int

const (
	ErrTimeout TransportErrorClass = iota
	ErrConnection
	ErrTLS
	ErrProtocol
	ErrHTTPStatus
)

// TransportError is returned for any failure the facade cannot complete
// as a normal HTTP round trip.
type TransportError struct {
	Class      TransportErrorClass
	StatusCode int // valid only when Class == ErrHTTPStatus
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Class == ErrHTTPStatus {
		return fmt.Sprintf("http error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if ne, ok := err.(net.Error); ok {
		netErr = ne
	}
	if netErr != nil && netErr.Timeout() {
		return &TransportError{Class: ErrTimeout, Cause: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"), strings.Contains(msg, "x509"):
		return &TransportError{Class: ErrTLS, Cause: err}
	case strings.Contains(msg, "protocol"):
		return &TransportError{Class: ErrProtocol, Cause: err}
	default:
		return &TransportError{Class: ErrConnection, Cause: err}
	}
}

// Client is the facade. One instance is shared across every segment
// fetcher of a job (spec §5): its connection pool handles concurrent
// requests.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client tuned per the given per-request timeout and
// concurrency budget. maxConnsPerHost should be at least the number of
// segment fetchers that will share this client.
func New(timeout time.Duration, userAgent string, maxConnsPerHost int) *Client {
	if maxConnsPerHost < 1 {
		maxConnsPerHost = 1
	}
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConnsPerHost + 2,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) newRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Head performs a HEAD request following redirects and returns the
// metadata spec §3 describes.
func (c *Client) Head(ctx context.Context, url string, headers map[string]string) (model.Metadata, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url, headers)
	if err != nil {
		return model.Metadata{}, classify(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Metadata{}, classify(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return model.Metadata{}, &TransportError{Class: ErrHTTPStatus, StatusCode: resp.StatusCode}
	}

	md := model.Metadata{
		EffectiveURL:    resp.Request.URL.String(),
		ResumeSupported: acceptsRanges(resp.Header),
		ContentType:     resp.Header.Get("Content-Type"),
	}
	if cl := resp.ContentLength; cl >= 0 {
		md.Size = cl
	} else if s := resp.Header.Get("Content-Length"); s != "" {
		if n, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			md.Size = n
		}
	}
	md.Filename = filenameFromDisposition(resp.Header)

	return md, nil
}

func acceptsRanges(h http.Header) bool {
	for _, unit := range httpheader.AcceptRanges(h) {
		if unit == "bytes" {
			return true
		}
	}
	return false
}

func filenameFromDisposition(h http.Header) string {
	_, name, err := httpheader.ContentDisposition(h)
	if err != nil {
		return ""
	}
	return name
}

// Response is the result of Get: the status code, response headers, and a
// streaming body the caller must Close.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Get issues a GET request and returns a streaming response. The caller is
// responsible for closing Body. No retry is attempted here.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, classify(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// RetryAfter parses a Retry-After header (seconds or HTTP-date form),
// returning (duration-until, true) if present and parseable.
func RetryAfter(h http.Header) (time.Duration, bool) {
	now := time.Now()
	at, ok := httpheader.RetryAfter(h, now)
	if !ok {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// ChunkReader wraps an io.Reader, reading in fixed-size chunks (spec §4.1:
// "chunked at a configured size, default 1 MiB"). It is a thin helper, not
// a buffering layer: each Read call fills at most chunkSize bytes.
type ChunkReader struct {
	r         io.Reader
	chunkSize int
}

// NewChunkReader wraps r so that reads are capped at chunkSize bytes.
func NewChunkReader(r io.Reader, chunkSize int) *ChunkReader {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	return &ChunkReader{r: r, chunkSize: chunkSize}
}

func (cr *ChunkReader) Read(p []byte) (int, error) {
	if len(p) > cr.chunkSize {
		p = p[:cr.chunkSize]
	}
	return cr.r.Read(p)
}
