package httpapi

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

	"github.com/google/uuid"
	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20

	headerRequestID = "X-Request-Id"
	refreshPath     = "/auth/refresh-token"
)

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Request is a backend call that can be replayed. Body is kept as bytes so a
// request rejected with 401 can be sent again after a refresh.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
	// NoRefresh returns a 401 to the caller without trying to refresh. Used
	// by credential endpoints where a 401 means wrong credentials.
	NoRefresh bool
	// Progress receives upload progress in whole percent.
	Progress func(percent int)
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client sends requests to the backend without any 401 handling. The token
// refresh call goes through it directly.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	logger       zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return nil, errors.New("api base url host is required")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Client{
		baseURL:      parsed,
		httpClient:   opts.HTTPClient,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}, nil
}

// Send performs one round trip. Any status code is returned as a Response;
// only transport failures are errors.
func (c *Client) Send(ctx context.Context, req Request, accessToken string) (*Response, error) {
	endpoint, err := c.endpoint(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		if int64(len(req.Body)) > c.maxBodyBytes {
			return nil, fmt.Errorf("%s %s: request body exceeds %d bytes", method, req.Path, c.maxBodyBytes)
		}
		body = bytes.NewReader(req.Body)
		if req.Progress != nil {
			body = &progressReader{r: body, total: int64(len(req.Body)), report: req.Progress}
		}
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(headerRequestID, requestID)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, req.Path, err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%s %s: response body exceeds %d bytes", method, req.Path, c.maxBodyBytes)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", req.Path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("api request")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// RefreshToken exchanges the refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	if refreshToken == "" {
		return domain.TokenPair{}, domain.ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("encode refresh request: %w", err)
	}

	resp, err := c.Send(ctx, Request{Method: http.MethodPost, Path: refreshPath, Body: body}, "")
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !successful(resp.StatusCode) {
		return domain.TokenPair{}, newStatusError(http.MethodPost, refreshPath, resp)
	}

	var pair domain.TokenPair
	if err := resp.Decode(&pair); err != nil {
		return domain.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return domain.TokenPair{}, errors.New("refresh response missing access token")
	}

	return pair, nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	if path == "" {
		return "", errors.New("api path is required")
	}

	// Paths resolve below the base URL so a base like https://host/api/ keeps
	// its prefix.
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	endpoint := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

func successful(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
