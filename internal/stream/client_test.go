package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ChamsBouzaiene/askme/internal/cancellation"
	"github.com/ChamsBouzaiene/askme/internal/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var history = []chat.Message{
	{Role: chat.RoleAssistant, Content: chat.Greeting},
	{Role: chat.RoleUser, Content: "Hello"},
}

// chunkServer writes each chunk and flushes it so the client sees separate reads.
func chunkServer(t *testing.T, chunks ...[]byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, c := range chunks {
			_, _ = w.Write(c)
			flusher.Flush()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(ts *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithHTTPClient(ts.Client())}, opts...)
	return NewClient(ts.URL, time.Second, opts...)
}

func collect(t *testing.T, ch <-chan Event) ([]string, Outcome) {
	t.Helper()
	var fragments []string
	var outcome *Outcome
	for ev := range ch {
		if ev.Outcome != nil {
			require.Nil(t, outcome, "exactly one outcome expected")
			outcome = ev.Outcome
			continue
		}
		require.Nil(t, outcome, "no fragment may follow the outcome")
		fragments = append(fragments, ev.Fragment)
	}
	require.NotNil(t, outcome, "stream ended without an outcome")
	return fragments, *outcome
}

func TestStream_RequestShape(t *testing.T) {
	var got chatRequest
	var contentType, method, path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	tok := cancellation.NewController().Begin(context.Background())
	_, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, ChatPath, path)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, []wireMessage{
		{Role: "model", Content: chat.Greeting},
		{Role: "user", Content: "Hello"},
	}, got.Messages)
}

func TestStream_AssistantRoleOverride(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(ts, WithAssistantRole("assistant"))
	tok := cancellation.NewController().Begin(context.Background())
	_, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "assistant", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestStream_FragmentsInOrder(t *testing.T) {
	ts := chunkServer(t, []byte("Hi"), []byte(" there"), []byte("!"))
	c := newTestClient(ts)
	tok := cancellation.NewController().Begin(context.Background())

	fragments, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	assert.Equal(t, "Hi there!", strings.Join(fragments, ""))
	assert.NotContains(t, fragments, "")
}

func TestStream_SplitMultibyteAcrossChunks(t *testing.T) {
	text := []byte("price: 5€ 😀")
	euro := strings.Index(string(text), "€")
	emoji := strings.Index(string(text), "😀")
	ts := chunkServer(t, text[:euro+1], text[euro+1:emoji+2], text[emoji+2:])
	c := newTestClient(ts)
	tok := cancellation.NewController().Begin(context.Background())

	fragments, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	assert.Equal(t, string(text), strings.Join(fragments, ""))
}

func TestStream_TruncatedCharacterAtEOF(t *testing.T) {
	euro := []byte("€")
	ts := chunkServer(t, append([]byte("ok"), euro[:2]...))
	core, logs := observer.New(zapcore.DebugLevel)
	c := newTestClient(ts, WithLogger(zap.New(core)))
	tok := cancellation.NewController().Begin(context.Background())

	fragments, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	assert.Equal(t, "ok\uFFFD\uFFFD", strings.Join(fragments, ""), "each dangling byte becomes a replacement character")
	entries := logs.FilterMessage("stream ended inside a character").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["pending_bytes"])
}

func TestStream_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	tok := cancellation.NewController().Begin(context.Background())
	fragments, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Empty(t, fragments)
	assert.Equal(t, Failed, outcome.Kind)
	assert.Equal(t, "status 500", outcome.Reason)

	var se *Error
	require.True(t, errors.As(outcome.Err, &se))
	assert.Equal(t, ServerFailure, se.Kind)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
}

func TestStream_NoContentIsDecodeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	tok := cancellation.NewController().Begin(context.Background())
	_, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Failed, outcome.Kind)
	var se *Error
	require.True(t, errors.As(outcome.Err, &se))
	assert.Equal(t, DecodeFailure, se.Kind)
}

func TestStream_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(url, time.Second)
	tok := cancellation.NewController().Begin(context.Background())
	_, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Failed, outcome.Kind)
	assert.NotEmpty(t, outcome.Reason)
	var se *Error
	require.True(t, errors.As(outcome.Err, &se))
	assert.Equal(t, TransportFailure, se.Kind)
}

func TestStream_CancelMidStream(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("Hi"))
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
			_, _ = w.Write([]byte(" late"))
		}
	}))
	defer ts.Close()
	defer close(release)

	ctrl := cancellation.NewController()
	tok := ctrl.Begin(context.Background())
	c := newTestClient(ts)
	ch := c.Stream(context.Background(), history, tok)

	first := <-ch
	require.Nil(t, first.Outcome)
	require.Equal(t, "Hi", first.Fragment)

	ctrl.Signal(tok)
	fragments, outcome := collect(t, ch)

	assert.Empty(t, fragments, "nothing may be delivered after the abort")
	assert.Equal(t, Aborted, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrAborted)
}

func TestStream_ResetMidStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		conn.Close()
	}))
	defer ts.Close()

	tok := cancellation.NewController().Begin(context.Background())
	fragments, outcome := collect(t, newTestClient(ts).Stream(context.Background(), history, tok))

	assert.Equal(t, []string{"partial"}, fragments)
	assert.Equal(t, Failed, outcome.Kind)
	assert.Equal(t, "stream_reset", outcome.Reason)
	var se *Error
	require.True(t, errors.As(outcome.Err, &se))
	assert.Equal(t, TransportFailure, se.Kind)
}

func TestStream_CancelledBeforeStart(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	ctrl := cancellation.NewController()
	tok := ctrl.Begin(context.Background())
	ctrl.Signal(tok)

	_, outcome := collect(t, newTestClient(ts).Stream(context.Background(), history, tok))

	assert.Equal(t, Aborted, outcome.Kind)
	assert.Equal(t, int32(0), hits.Load())
}

func TestStream_RetriesServerErrorWhenConfigured(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer ts.Close()

	c := newTestClient(ts, WithRetryPolicy(RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}))
	tok := cancellation.NewController().Begin(context.Background())
	fragments, outcome := collect(t, c.Stream(context.Background(), history, tok))

	assert.Equal(t, Completed, outcome.Kind)
	assert.Equal(t, "recovered", strings.Join(fragments, ""))
	assert.Equal(t, int32(2), hits.Load())
}

func TestStream_DefaultPolicyDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	tok := cancellation.NewController().Begin(context.Background())
	_, outcome := collect(t, newTestClient(ts).Stream(context.Background(), history, tok))

	assert.Equal(t, Failed, outcome.Kind)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEndpoint_TrimsSlash(t *testing.T) {
	c := NewClient("http://localhost:8000/", 0)
	assert.Equal(t, "http://localhost:8000/api/chat", c.Endpoint())
}
