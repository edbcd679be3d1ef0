// Package mlscorer is a client for the external lead scoring service.
package mlscorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/resilience"
)

var quoteEscaper = strings.NewReplacer("\\", "", `"`, "")

const (
	defaultBaseURL       = "http://localhost:8000"
	defaultTimeout       = 120 * time.Second
	defaultHealthTimeout = 5 * time.Second
)

// Client scores customers against the external model.
type Client interface {
	// BulkScore uploads a comma-delimited file and returns the decoded
	// response. A non-2xx status or an unreachable service is a
	// transport failure; a body that does not decode is a contract
	// failure. Interpreting the decoded body is the caller's job.
	BulkScore(ctx context.Context, filename string, payload []byte) (*BulkResponse, error)

	// Score scores one customer. The returned prediction has been checked
	// against the contract.
	Score(ctx context.Context, in model.ScoreInput) (*model.Prediction, error)

	// Health returns the scorer's health document.
	Health(ctx context.Context) (map[string]any, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken sets the bearer credential. It is only attached when the
// service is not on a loopback address.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithTimeout bounds every request made through the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithHealthTimeout bounds the health probe.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.healthTimeout = d
	}
}

// WithRateLimit caps outbound requests. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker guards scoring calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	baseURL       string
	token         string
	timeout       time.Duration
	healthTimeout time.Duration
	http          *http.Client
	limiter       *rate.Limiter
	breaker       *resilience.Breaker
}

// NewClient creates a scorer client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:       defaultBaseURL,
		timeout:       defaultTimeout,
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if c.token != "" && !IsLoopback(c.baseURL) {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http = &http.Client{
			Timeout:       c.http.Timeout,
			CheckRedirect: c.http.CheckRedirect,
			Jar:           c.http.Jar,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token, TokenType: "Bearer"}),
				Base:   base,
			},
		}
	}
	return c
}

// IsLoopback reports whether rawURL points at localhost or a loopback IP.
func IsLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *httpClient) BulkScore(ctx context.Context, filename string, payload []byte) (*BulkResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, quoteEscaper.Replace(filename)))
	hdr.Set("Content-Type", "text/csv")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, eris.Wrap(err, "mlscorer: create multipart part")
	}
	if _, err := part.Write(payload); err != nil {
		return nil, eris.Wrap(err, "mlscorer: write multipart part")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "mlscorer: close multipart writer")
	}

	var out BulkResponse
	err = c.guard(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/bulk-score", mw.FormDataContentType(), body.Bytes(), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Score(ctx context.Context, in model.ScoreInput) (*model.Prediction, error) {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "mlscorer: marshal record")
	}

	var wire Prediction
	err = c.guard(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/score", "application/json", reqBody, &wire)
	})
	if err != nil {
		return nil, err
	}
	if err := wire.Check(false); err != nil {
		return nil, failure.Wrap(failure.KindScoringContract, err, "Invalid prediction from ML service")
	}
	p := wire.Model()
	return &p, nil
}

func (c *httpClient) Health(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// guard applies the rate limit and the breaker around fn.
func (c *httpClient) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failure.ScoringTransport(err, "ML service rate limit wait aborted")
		}
	}
	if c.breaker == nil {
		return fn(ctx)
	}
	err := c.breaker.Do(ctx, fn)
	if eris.Is(err, resilience.ErrOpen) {
		return failure.ScoringTransport(err, "ML service temporarily unavailable")
	}
	return err
}

func (c *httpClient) do(ctx context.Context, method, path, contentType string, reqBody []byte, out any) error {
	var r io.Reader
	if reqBody != nil {
		r = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return eris.Wrap(err, "mlscorer: create request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure.ScoringTransport(err, "ML service timed out")
		}
		return failure.ScoringTransport(err, "ML service unreachable")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure.ScoringTransport(err, "ML service response could not be read")
	}

	zap.L().Debug("mlscorer: response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(respBody)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorDetail(respBody)
		if msg == "" {
			msg = "ML Service error: " + http.StatusText(resp.StatusCode)
		}
		se := resilience.NewStatusError(eris.Errorf("mlscorer: unexpected status %d", resp.StatusCode), resp.StatusCode)
		return failure.ScoringTransport(se, msg)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return failure.Wrap(failure.KindScoringContract, err, "Malformed response from ML service")
	}
	return nil
}

// isTimeout reports whether err is a context deadline or a client timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorDetail extracts the "detail" field of an error body. String details
// are returned as-is; structured details are returned as JSON.
func errorDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 || string(env.Detail) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	return string(env.Detail)
}

// StatusCode returns the HTTP status carried by err, or 0 when the scorer
// was never reached.
func StatusCode(err error) int {
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
