// Package gateway is the single HTTP client every remote API call goes
// through. It attaches the bearer credential, unwraps the response envelope
// and turns every failure into an *Error that is also surfaced as a
// transient notification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/bizdir/internal/logging"
)

// StatusUnknown is the Error status used when no HTTP response was received.
const StatusUnknown = "UNKNOWN_ERROR"

const fallbackNotice = "Something went wrong"

// Credentials yields the bearer token to attach, or "" for none.
type Credentials interface {
	Token() string
}

type CredentialsFunc func() string

func (f CredentialsFunc) Token() string { return f() }

// Error is the uniform failure shape.
type Error struct {
	Status  string `json:"status"`
	Code    int    `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of err, or 0 if err carries none.
func StatusCode(err error) int {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// Request describes one API call. Path is relative to the base URL. At most
// one of Body (sent as JSON) and Form (sent as multipart) is set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Form   *Form
}

type Form struct {
	Fields   []Field
	FileKey  string
	FileName string
	File     io.Reader
}

type Field struct {
	Name  string
	Value string
}

type Client struct {
	baseURL  *url.URL
	http     *http.Client
	creds    Credentials
	notifier Notifier
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: 30 * time.Second},
		notifier: Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do executes req and decodes the unwrapped response into out (which may be
// nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return c.fail(ctx, &Error{Status: StatusUnknown, Message: err.Error()}, "")
	}

	log := logging.FromContext(ctx)
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.fail(ctx, &Error{Status: StatusUnknown, Message: err.Error()}, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(ctx, &Error{Status: StatusUnknown, Message: err.Error()}, "")
	}
	log.Debug("api request",
		slog.String("method", httpReq.Method),
		slog.String("url", httpReq.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
		logging.RequestID(httpReq.Header.Get("X-Request-ID")),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(body)
		gerr := &Error{Status: strconv.Itoa(resp.StatusCode), Code: resp.StatusCode, Message: msg}
		if msg == "" {
			gerr.Message = http.StatusText(resp.StatusCode)
		}
		return c.fail(ctx, gerr, msg)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(body), out); err != nil {
		return c.fail(ctx, &Error{
			Status:  strconv.Itoa(resp.StatusCode),
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("decode response: %v", err),
		}, "")
	}
	return nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return nil, err
	}
	u := c.baseURL.ResolveReference(ref)
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Form != nil:
		buf, ct, err := encodeForm(req.Form)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.creds != nil {
		if token := c.creds.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

func encodeForm(f *Form) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range f.Fields {
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, "", err
		}
	}
	if f.File != nil {
		key := f.FileKey
		if key == "" {
			key = "image"
		}
		part, err := w.CreateFormFile(key, f.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.File); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// fail reports gerr through the notifier and returns it. notice is the
// server-provided message, if any.
func (c *Client) fail(ctx context.Context, gerr *Error, notice string) error {
	if notice == "" {
		notice = fallbackNotice
	}
	logging.FromContext(ctx).Debug("api request failed",
		slog.String("status", gerr.Status),
		slog.String("message", gerr.Message),
	)
	c.notifier.Notify(Notification{Level: LevelError, Text: notice})
	return gerr
}

// unwrap returns the "data" member of an enveloped body, or the body itself.
func unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return body
	}
	if data, ok := env["data"]; ok {
		return data
	}
	return body
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
