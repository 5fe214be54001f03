package httpx

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client is a JSON REST client rooted at one base URL.
type Client struct {
	resty *resty.Client
}

type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
	Logger  *zap.Logger
}

type ClientOption func(*ClientOptions)

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		maps.Copy(o.Headers, headers)
	}
}

// WithClientLogger routes resty's warnings and debug output to logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(o *ClientOptions) {
		o.Logger = logger
	}
}

func NewClient(opts ...ClientOption) *Client {
	cfg := ClientOptions{
		Timeout: 10 * time.Second,
		Headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeaders(cfg.Headers)
	if cfg.Logger != nil {
		rc.SetLogger(cfg.Logger.Sugar())
	}
	return &Client{resty: rc}
}

// BaseURL reports the base URL requests are resolved against.
func (c *Client) BaseURL() string { return c.resty.BaseURL }

type RequestOption func(*resty.Request)

// WithPathParams fills {name} placeholders in the request path.
func WithPathParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) > 0 {
			r.SetPathParams(params)
		}
	}
}

func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) > 0 {
			r.SetQueryParams(params)
		}
	}
}

func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) > 0 {
			r.SetHeaders(headers)
		}
	}
}

// Execute sends the request and returns the raw response. Error statuses are
// not errors here; only transport failures are.
func (c *Client) Execute(ctx context.Context, method, path string, body any, opts ...RequestOption) (*resty.Response, error) {
	return c.request(ctx, body, nil, opts...).Execute(method, path)
}

// Get decodes a 2xx body into result. Any other status is an error carrying
// the response text.
func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.expect(ctx, http.MethodGet, path, nil, result, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.expect(ctx, http.MethodPost, path, body, result, opts...)
}

func (c *Client) expect(ctx context.Context, method, path string, body, result any, opts ...RequestOption) (*resty.Response, error) {
	resp, err := c.request(ctx, body, result, opts...).Execute(method, path)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, body, result any, opts ...RequestOption) *resty.Request {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req
}
