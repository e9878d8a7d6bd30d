package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/cancellation"
	"github.com/ChamsBouzaiene/askme/internal/chat"
)

const (
	// ChatPath is the backend endpoint that streams completions.
	ChatPath = "/api/chat"

	// DefaultAssistantRole is the role name the backend expects for assistant turns.
	DefaultAssistantRole = "model"

	defaultReadBufferSize  = 4096
	defaultResponseTimeout = 60 * time.Second
)

// chatRequest is the body sent to the backend. The service is stateless, so
// the whole history travels with every call.
type chatRequest struct {
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// encodeRequest renames assistant turns to assistantRole.
func encodeRequest(messages []chat.Message, assistantRole string) chatRequest {
	req := chatRequest{Messages: make([]wireMessage, len(messages))}
	for i, m := range messages {
		role := string(m.Role)
		if m.Role == chat.RoleAssistant {
			role = assistantRole
		}
		req.Messages[i] = wireMessage{Role: role, Content: m.Content}
	}
	return req
}

// Client streams completions from the backend over plain HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	retry      RetryPolicy
	bufSize    int

	// assistantRole names assistant turns on the wire.
	assistantRole string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy sets the connect retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithReadBufferSize sets how many bytes are requested per read.
func WithReadBufferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// WithAssistantRole sets the role name sent for assistant turns.
func WithAssistantRole(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.assistantRole = name
		}
	}
}

// NewClient creates a streaming client for the backend at baseURL.
// responseTimeout bounds the wait for response headers; the body itself may
// stream for as long as the backend keeps it open.
func NewClient(baseURL string, responseTimeout time.Duration, opts ...Option) *Client {
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseTimeout

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		logger:     zap.NewNop(),
		retry:      DefaultRetryPolicy(),
		bufSize:    defaultReadBufferSize,

		assistantRole: DefaultAssistantRole,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.baseURL + ChatPath
}

// Stream issues one request carrying messages and returns the decoded fragments
// followed by exactly one outcome event, after which the channel is closed.
// The caller must drain the channel. Signalling tok stops the stream at its
// next suspension point; nothing read after that is delivered.
func (c *Client) Stream(ctx context.Context, messages []chat.Message, tok *cancellation.Token) <-chan Event {
	if ctx == nil {
		ctx = tok.Context()
	}
	out := make(chan Event)

	go func() {
		defer close(out)
		emit := func(fragment string) bool {
			if tok.Cancelled() {
				return false
			}
			select {
			case out <- Event{Fragment: fragment}:
				return true
			case <-tok.Done():
				return false
			}
		}

		outcome := c.run(ctx, messages, tok, emit)
		c.logger.Debug("stream finished",
			zap.Stringer("outcome", outcome.Kind),
			zap.String("reason", outcome.Reason))
		out <- Event{Outcome: &outcome}
	}()

	return out
}

func (c *Client) run(ctx context.Context, messages []chat.Message, tok *cancellation.Token, emit func(string) bool) Outcome {
	if tok.Cancelled() {
		return aborted()
	}

	body, err := json.Marshal(encodeRequest(messages, c.assistantRole))
	if err != nil {
		return failed(&Error{Kind: TransportFailure, Code: "encode_request", Err: err})
	}

	// The request must die with the token even when ctx is unrelated to it.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(tok.Context(), cancel)
	defer stop()

	c.logger.Debug("stream request",
		zap.String("url", c.Endpoint()),
		zap.Int("messages", len(messages)))

	resp, err := retryWithPolicy(reqCtx, c.retry, c.open(body), func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("retrying stream request",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retry.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if tok.Cancelled() {
		if resp != nil {
			resp.Body.Close()
		}
		return aborted()
	}
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return failed(se)
		}
		return failed(transportError(err, "connect"))
	}
	defer resp.Body.Close()

	return c.read(resp.Body, tok, emit)
}

// open returns the attempt function used by the retry loop.
func (c *Client) open(body []byte) func(ctx context.Context) (*http.Response, error) {
	return func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
		if err != nil {
			return nil, &Error{Kind: TransportFailure, Code: "bad_request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, transportError(err, "connect")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, statusError(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNoContent || resp.Body == nil {
			if resp.Body != nil {
				resp.Body.Close()
			}
			return nil, decodeError("empty_body")
		}
		return resp, nil
	}
}

// read pulls chunks until EOF, an error or cancellation.
func (c *Client) read(body io.Reader, tok *cancellation.Token, emit func(string) bool) Outcome {
	dec := NewDecoder()
	buf := make([]byte, c.bufSize)

	for {
		if tok.Cancelled() {
			return aborted()
		}
		n, err := body.Read(buf)
		// A read that returns after the abort is discarded, not applied.
		if tok.Cancelled() {
			return aborted()
		}

		if n > 0 {
			if fragment := dec.Decode(buf[:n]); fragment != "" && !emit(fragment) {
				return aborted()
			}
		}

		if errors.Is(err, io.EOF) {
			if pending := dec.Pending(); pending > 0 {
				c.logger.Debug("stream ended inside a character", zap.Int("pending_bytes", pending))
			}
			if tail := dec.Flush(); tail != "" && !emit(tail) {
				return aborted()
			}
			return completed()
		}
		if err != nil {
			c.logger.Debug("stream read failed", zap.Error(err))
			return failed(transportError(err, "stream_reset"))
		}
	}
}
