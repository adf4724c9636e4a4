package httpmsg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

// DefaultTimeout bounds a complete request including the response body.
const DefaultTimeout = 30 * time.Second

// DefaultMaxDownload limits description document downloads.
const DefaultMaxDownload = 1 << 20

const (
	defaultDialTimeout     = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultMaxIdleConns    = 16
)

// Client errors.
var (
	ErrTooLarge    = errors.New("response body too large")
	ErrBadResponse = errors.New("bad http response")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout for each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent as USER-AGENT when set.
	UserAgent string

	// Role is recorded in protocol capture events.
	Role log.Role

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends HTTP requests with arbitrary methods.
type Client struct {
	http   *http.Client
	config ClientConfig
	logger *slog.Logger
	plog   log.Logger
}

// NewClient creates a client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	dial := config.Timeout
	if dial > defaultDialTimeout {
		dial = defaultDialTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        defaultMaxIdleConns,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
			// GENA and SOAP never follow redirects.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: config,
		logger: config.Logger,
		plog:   log.OrNoop(config.ProtocolLogger),
	}
}

// HTTP returns the underlying client.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Do sends a request and reads the whole response. The method may be any
// token; header names are sent as given.
func (c *Client) Do(ctx context.Context, method, url string, header Header, body []byte) (*Response, error) {
	return c.do(ctx, method, url, header, body, 0)
}

func (c *Client) do(ctx context.Context, method, url string, header Header, body []byte, maxSize int64) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for _, f := range header {
		if strings.EqualFold(f.Name, "HOST") {
			req.Host = f.Value
			continue
		}
		req.Header.Add(f.Name, f.Value)
	}
	if c.config.UserAgent != "" && !header.Has("USER-AGENT") {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	connID := uuid.New().String()
	start := time.Now()
	c.capture(connID, log.DirectionOut, req.Host, &log.MessageEvent{
		Type:     log.MessageTypeRequest,
		Method:   method,
		Target:   url,
		Headers:  header.Map(),
		BodySize: len(body),
	}, categoryFor(method, header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("http request failed", "method", method, "url", url, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if maxSize > 0 {
		r = io.LimitReader(resp.Body, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadResponse, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}

	elapsed := time.Since(start)
	c.capture(connID, log.DirectionIn, req.Host, &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		Method:         method,
		Status:         resp.StatusCode,
		Headers:        flatten(resp.Header),
		BodySize:       len(data),
		ProcessingTime: &elapsed,
	}, categoryFor(method, header))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Download fetches url with GET and returns the body and its content type.
// Non-2xx answers fail with ErrBadResponse, bodies above maxSize with
// ErrTooLarge. maxSize <= 0 uses DefaultMaxDownload.
func (c *Client) Download(ctx context.Context, url string, maxSize int64) ([]byte, string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxDownload
	}
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil, maxSize)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: %s: status %d", ErrBadResponse, url, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) capture(connID string, dir log.Direction, remote string, msg *log.MessageEvent, cat log.Category) {
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerHTTP,
		Category:     cat,
		LocalRole:    c.config.Role,
		RemoteAddr:   remote,
		Message:      msg,
	})
}

func categoryFor(method string, header Header) log.Category {
	switch MethodFromString(method) {
	case MethodSubscribe, MethodUnsubscribe, MethodNotify:
		return log.CategoryGENA
	case MethodMPost:
		return log.CategorySOAP
	case MethodPost:
		if header.Has("SOAPACTION") {
			return log.CategorySOAP
		}
	}
	return log.CategoryWeb
}

func flatten(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k, v := range h {
		m[strings.ToUpper(k)] = strings.Join(v, ", ")
	}
	return m
}
