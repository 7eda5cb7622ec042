package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
	"github.com/heyconcierge/relay/internal/upstream"
)

const brandsYAML = `
brands:
  - key: vineyard
    display_name: Vineyard Estate
    assistant_id: asst_1
    api_keys: [vk_test]
    published_phone: "+90 212 345 67 89"
    notify:
      recipient: ops@vineyard.example
      sender: relay@vineyard.example
`

type scriptedStream struct {
	units []*upstream.Unit
	pos   int
}

func (s *scriptedStream) Recv() (*upstream.Unit, error) {
	if s.pos >= len(s.units) {
		return nil, io.EOF
	}
	u := s.units[s.pos]
	s.pos++
	return u, nil
}

func (s *scriptedStream) Close() error { return nil }

// scriptedClient replays a fixed turn for every conversation.
type scriptedClient struct {
	chunks []string
}

func (c *scriptedClient) CreateConversation(ctx context.Context) (string, error) {
	return "conv_test", nil
}
func (c *scriptedClient) AppendMessage(ctx context.Context, conversationID, role, text string) error {
	return nil
}
func (c *scriptedClient) StartTurn(ctx context.Context, conversationID string, opts upstream.TurnOptions) (string, error) {
	return "turn_test", nil
}
func (c *scriptedClient) PollTurn(ctx context.Context, conversationID, turnID string) (upstream.TurnStatus, error) {
	return upstream.StatusCompleted, nil
}
func (c *scriptedClient) ListMessages(ctx context.Context, conversationID string, limit int) ([]upstream.Message, error) {
	return nil, nil
}
func (c *scriptedClient) StartTurnStream(ctx context.Context, conversationID string, opts upstream.TurnOptions) (upstream.Stream, error) {
	units := make([]*upstream.Unit, 0, len(c.chunks)+1)
	for _, ch := range c.chunks {
		units = append(units, &upstream.Unit{Fragments: []string{ch}})
	}
	units = append(units, &upstream.Unit{Done: true})
	return &scriptedStream{units: units}, nil
}

type countingTransport struct {
	mu    sync.Mutex
	calls int
	last  notify.Message
}

func (c *countingTransport) Send(ctx context.Context, msg notify.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = msg
	return "dlv_test", nil
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	srv       *httptest.Server
	transport *countingTransport
	journal   *journal.Store
}

func newTestEnv(t *testing.T, chunks []string, opts ...Option) *testEnv {
	t.Helper()
	reg, err := brand.Parse([]byte(brandsYAML))
	require.NoError(t, err)

	js, err := journal.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { js.Close() })

	ct := &countingTransport{}
	up := &scriptedClient{chunks: chunks}
	opts = append([]Option{WithJournal(js), WithKeepAlive(time.Minute)}, opts...)
	s := NewServer(reg, up, up, notify.NewDispatcher(ct), opts...)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, transport: ct, journal: js}
}

func (e *testEnv) chat(t *testing.T, apiKey, message string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/chat",
		bytes.NewBufferString(`{"message":"`+message+`"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Relay-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestChatRelayAndDispatch(t *testing.T) {
	block := "```handoff {\"kind\":\"order\",\"payload\":{\"items\":[{\"sku_or_name\":\"Wine\",\"qty\":2}],\"full_name\":\"A. Yılmaz\"}}```"
	env := newTestEnv(t, []string{
		"Your order is in! " + block[:20],
		block[20:75],
		block[75:] + " Anything else?",
	})

	resp, body := env.chat(t, "vk_test", "two bottles of wine please")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "conv_test", resp.Header.Get("X-Conversation-ID"))

	// The visible stream never contains the structured block.
	assert.NotContains(t, body, "handoff")
	assert.NotContains(t, body, "sku_or_name")
	assert.Contains(t, body, "Your order is in! ")
	assert.Contains(t, body, "Anything else?")
	assert.Equal(t, 1, strings.Count(body, "data: [DONE]"))

	// Exactly one notification went out.
	assert.Equal(t, 1, env.transport.count())
	assert.Equal(t, "ops@vineyard.example", env.transport.last.To)
	assert.Contains(t, env.transport.last.Subject, "New order")
	assert.Contains(t, env.transport.last.Body, "A. Yılmaz")

	// And the journal recorded the dispatch.
	entries, err := env.journal.List(context.Background(), "vineyard", time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeSent, entries[0].Outcome)
	assert.Equal(t, "keyword_fence", entries[0].Grammar)
}

func TestChatPlainTurnNoDispatch(t *testing.T) {
	env := newTestEnv(t, []string{"We open at 9am ", "and close at 11pm."})

	resp, body := env.chat(t, "vk_test", "opening hours?")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "We open at 9am ")
	assert.Equal(t, 1, strings.Count(body, "data: [DONE]"))
	assert.Equal(t, 0, env.transport.count())

	entries, err := env.journal.List(context.Background(), "vineyard", time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChatRejectedPayloadNotDispatched(t *testing.T) {
	// customer_request without a phone fails validation.
	env := newTestEnv(t, []string{
		"Noted. <handoff>{\"kind\":\"customer_request\",\"payload\":{\"full_name\":\"Ayşe\",\"summary\":\"Wants info about weekend availability.\"}}</handoff>",
	})

	resp, _ := env.chat(t, "vk_test", "please have someone call me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.transport.count())

	entries, err := env.journal.List(context.Background(), "vineyard", time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeRejected, entries[0].Outcome)
}

// Every error response carries the nested {"error":{"type","message"}}
// envelope.
func TestErrorEnvelopeShape(t *testing.T) {
	env := newTestEnv(t, []string{"hi"})

	resp, body := env.chat(t, "", "hello")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var out struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "unauthorized", out.Error.Type)
	assert.NotEmpty(t, out.Error.Message)
}

func TestChatAuthRequired(t *testing.T) {
	env := newTestEnv(t, []string{"hi"})

	resp, body := env.chat(t, "", "hello")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "unauthorized")

	resp, _ = env.chat(t, "wrong-key", "hello")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.transport.count())
}

func TestChatValidationErrors(t *testing.T) {
	env := newTestEnv(t, []string{"hi"})

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/chat", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Relay-Key", "vk_test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, []string{"hi"},
		WithRateLimiter(newTestLimiter(t)))

	resp, _ := env.chat(t, "vk_test", "one")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.chat(t, "vk_test", "two")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "rate_limit_exceeded")
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	reg, err := brand.Parse([]byte(`
brands:
  - key: vineyard
    display_name: Vineyard Estate
    assistant_id: asst_1
    notify: {recipient: r@x, sender: s@x}
`))
	require.NoError(t, err)
	return NewRateLimiter(reg, 1, 1)
}

func TestHealthUnauthenticated(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandoffsListScopedToBrand(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.journal.Record(context.Background(), &journal.Entry{
		CorrelationID: "req-x",
		BrandKey:      "other-brand",
		Kind:          "order",
		Outcome:       journal.OutcomeSent,
	}))

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/handoffs", nil)
	req.Header.Set("X-Relay-Key", "vk_test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":0`)
	assert.NotContains(t, string(body), "other-brand")
}
