package restclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/qaenablers/qautils/pkg/config"
	"github.com/qaenablers/qautils/pkg/logger"
)

const (
	HeaderContentType   = "content-type"
	HeaderAccept        = "accept"
	HeaderAuthToken     = "X-Auth-Token"
	HeaderTenantID      = "Tenant-Id"
	HeaderTransactionID = "txid"

	RepresentationJSON      = "application/json"
	RepresentationXML       = "application/xml"
	RepresentationTextPlain = "text/plain"

	// APIRootURLArgName is the placeholder the client always fills with its
	// root URL.
	APIRootURLArgName = "api_root_url"

	DefaultTimeout = 30 * time.Second
)

var ErrMissingPathParam = errors.New("missing path parameter")

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Request carries the optional parts of an API call.
type Request struct {
	Body       string
	Headers    map[string]string
	Query      map[string]string
	PathParams map[string]string
}

type options struct {
	tlsVerify     bool
	transactionID bool
	retryCount    int
	retryWait     time.Duration
	timeout       time.Duration
	headers       map[string]string
}

type Option func(*options)

// WithTLSVerify turns certificate verification on or off. It is off by
// default since test environments commonly use self-signed certificates.
func WithTLSVerify(verify bool) Option {
	return func(o *options) {
		o.tlsVerify = verify
	}
}

// WithTransactionID sends a fresh txid header on every request that does
// not set one.
func WithTransactionID() Option {
	return func(o *options) {
		o.transactionID = true
	}
}

// WithRetry retries network errors and retryable status codes.
func WithRetry(count int, wait time.Duration) Option {
	return func(o *options) {
		o.retryCount = count
		o.retryWait = wait
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithHeader sets a header sent on every request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// Client calls a REST API rooted at {protocol}://{host}:{port}{resource}.
type Client struct {
	rootURL       string
	http          *resty.Client
	transactionID bool
}

func New(protocol, host, port, resource string, opts ...Option) *Client {
	o := &options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	client := resty.New().
		SetTimeout(o.timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: !o.tlsVerify}) //nolint:gosec // opt-in verification
	if len(o.headers) > 0 {
		client.SetHeaders(o.headers)
	}
	if o.retryCount > 0 {
		client.
			SetRetryCount(o.retryCount).
			SetRetryWaitTime(o.retryWait).
			SetRetryMaxWaitTime(max(o.retryWait, 2*time.Second))
		client.AddRetryCondition(retryCondition)
	}
	return &Client{
		rootURL:       fmt.Sprintf("%s://%s:%s", protocol, host, port) + resource,
		http:          client,
		transactionID: o.transactionID,
	}
}

// NewFromService builds a client for a configured service.
func NewFromService(svc config.ServiceConfig, opts ...Option) *Client {
	return New(svc.Protocol, svc.Host, svc.Port, svc.Resource, opts...)
}

// RootURL returns the value substituted for {api_root_url}.
func (c *Client) RootURL() string {
	return c.rootURL
}

// ExpandURI fills the {name} placeholders of pattern from params.
func (c *Client) ExpandURI(pattern string, params map[string]string) (string, error) {
	var missing []string
	expanded := placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		name := match[1 : len(match)-1]
		if name == APIRootURLArgName {
			return c.rootURL
		}
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %q", ErrMissingPathParam, strings.Join(missing, ", "), pattern)
	}
	return expanded, nil
}

// LaunchRequest sends method to the URL built from uriPattern. Non-2xx
// responses are returned without error.
func (c *Client) LaunchRequest(
	ctx context.Context,
	method, uriPattern string,
	req Request,
) (*resty.Response, error) {
	log := logger.FromContext(ctx)
	target, err := c.ExpandURI(uriPattern, req.PathParams)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	log.Info("Executing API request", "method", method, "url", target)
	r := c.http.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != "" {
		r.SetBody(req.Body)
	}
	if c.transactionID && r.Header.Get(HeaderTransactionID) == "" {
		r.SetHeader(HeaderTransactionID, uuid.NewString())
	}
	logger.LogRequest(log, method, target, toValues(req.Query), r.Header, req.Body)
	resp, err := r.Execute(method, target)
	if err != nil {
		log.Error("Request crashed", "method", method, "url", target, "error", err)
		return nil, fmt.Errorf("request %s %s failed: %w", method, target, err)
	}
	logger.LogResponse(log, resp.StatusCode(), resp.Header(), resp.String())
	return resp, nil
}

func (c *Client) Get(ctx context.Context, uriPattern string, req Request) (*resty.Response, error) {
	return c.LaunchRequest(ctx, http.MethodGet, uriPattern, req)
}

func (c *Client) Post(ctx context.Context, uriPattern string, req Request) (*resty.Response, error) {
	return c.LaunchRequest(ctx, http.MethodPost, uriPattern, req)
}

func (c *Client) Put(ctx context.Context, uriPattern string, req Request) (*resty.Response, error) {
	return c.LaunchRequest(ctx, http.MethodPut, uriPattern, req)
}

func (c *Client) Delete(ctx context.Context, uriPattern string, req Request) (*resty.Response, error) {
	return c.LaunchRequest(ctx, http.MethodDelete, uriPattern, req)
}

// retryCondition determines if a request should be retried
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func toValues(query map[string]string) url.Values {
	if len(query) == 0 {
		return nil
	}
	values := make(url.Values, len(query))
	for k, v := range query {
		values.Set(k, v)
	}
	return values
}
