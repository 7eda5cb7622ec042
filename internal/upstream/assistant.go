package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const assistantsBetaHeader = "assistants=v2"

// sseBufferSize bounds a single upstream SSE line.
const sseBufferSize = 512 * 1024

// AssistantClient drives the Assistants-style REST surface:
// threads, messages, runs, and streamed run output.
type AssistantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// AssistantOption customizes an AssistantClient.
type AssistantOption func(*AssistantClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) AssistantOption {
	return func(a *AssistantClient) { a.httpClient = c }
}

// NewAssistantClient builds a client for the given API base URL.
func NewAssistantClient(baseURL, apiKey string, opts ...AssistantOption) *AssistantClient {
	a := &AssistantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AssistantClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes a JSON round trip. Upstream error bodies are logged but never
// surfaced in the returned error.
func (a *AssistantClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("upstream_error_response")
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

type idEnvelope struct {
	ID string `json:"id"`
}

// CreateConversation creates a new upstream thread.
func (a *AssistantClient) CreateConversation(ctx context.Context) (string, error) {
	var env idEnvelope
	if err := a.do(ctx, http.MethodPost, "/threads", map[string]any{}, &env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// AppendMessage adds a message to the thread before the next turn.
func (a *AssistantClient) AppendMessage(ctx context.Context, conversationID, role, text string) error {
	body := map[string]any{"role": role, "content": text}
	return a.do(ctx, http.MethodPost, "/threads/"+conversationID+"/messages", body, nil)
}

// StartTurn starts a non-streaming run and returns its ID for polling.
func (a *AssistantClient) StartTurn(ctx context.Context, conversationID string, opts TurnOptions) (string, error) {
	body := map[string]any{"assistant_id": opts.AssistantID}
	if opts.SystemPrompt != "" {
		body["additional_instructions"] = opts.SystemPrompt
	}
	var env idEnvelope
	if err := a.do(ctx, http.MethodPost, "/threads/"+conversationID+"/runs", body, &env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// PollTurn fetches the current status of a run.
func (a *AssistantClient) PollTurn(ctx context.Context, conversationID, turnID string) (TurnStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := "/threads/" + conversationID + "/runs/" + turnID
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return TurnStatus(out.Status), nil
}

// ListMessages returns the newest messages of the thread, newest first.
func (a *AssistantClient) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var out struct {
		Data []struct {
			ID        string `json:"id"`
			Role      string `json:"role"`
			CreatedAt int64  `json:"created_at"`
			Content   []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/threads/%s/messages?limit=%d", conversationID, limit)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(out.Data))
	for _, m := range out.Data {
		var sb strings.Builder
		for _, c := range m.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text.Value)
			}
		}
		msgs = append(msgs, Message{
			ID:        m.ID,
			Role:      m.Role,
			Text:      sb.String(),
			CreatedAt: time.Unix(m.CreatedAt, 0),
		})
	}
	return msgs, nil
}

// StartTurnStream starts a streaming run and returns a Stream over its
// server-sent events.
func (a *AssistantClient) StartTurnStream(ctx context.Context, conversationID string, opts TurnOptions) (Stream, error) {
	body := map[string]any{
		"assistant_id": opts.AssistantID,
		"stream":       true,
	}
	if opts.SystemPrompt != "" {
		body["additional_instructions"] = opts.SystemPrompt
	}
	req, err := a.newRequest(ctx, http.MethodPost, "/threads/"+conversationID+"/runs", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		log.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("upstream_stream_rejected")
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), sseBufferSize)
	return &assistantStream{body: resp.Body, scanner: sc}, nil
}

// assistantStream decodes the Assistants SSE event protocol into Units.
// Event payloads that fail to decode are skipped, not fatal.
type assistantStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	done      bool
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
	Metadata map[string]any `json:"metadata"`
}

func (s *assistantStream) Recv() (*Unit, error) {
	if s.done {
		return nil, io.EOF
	}
	var event, data string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			unit, terminal, err := s.decodeEvent(event, data)
			event, data = "", ""
			if err != nil {
				return nil, err
			}
			if terminal {
				s.done = true
				return &Unit{Done: true}, nil
			}
			if unit != nil {
				return unit, nil
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read upstream stream: %w", err)
	}
	s.done = true
	return nil, io.EOF
}

// decodeEvent turns one completed event block into a Unit. The boolean
// return marks the terminal event of the turn.
func (s *assistantStream) decodeEvent(event, data string) (*Unit, bool, error) {
	if data == "" {
		return nil, false, nil
	}
	if data == "[DONE]" {
		return nil, true, nil
	}
	switch event {
	case "thread.message.delta":
		var md messageDelta
		if err := json.Unmarshal([]byte(data), &md); err != nil {
			log.Debug().Err(err).Msg("skip_malformed_stream_unit")
			return nil, false, nil
		}
		unit := &Unit{}
		for _, c := range md.Delta.Content {
			if c.Type == "text" && c.Text.Value != "" {
				unit.Fragments = append(unit.Fragments, c.Text.Value)
			}
		}
		if hint, ok := md.Metadata["handoff"].(bool); ok && hint {
			unit.HandoffHint = true
		}
		if len(unit.Fragments) == 0 && !unit.HandoffHint {
			return nil, false, nil
		}
		return unit, false, nil
	case "thread.run.completed":
		return nil, true, nil
	case "thread.run.failed", "thread.run.cancelled", "thread.run.expired":
		return nil, false, fmt.Errorf("%w: %s", ErrTurnFailed, event)
	default:
		return nil, false, nil
	}
}

func (s *assistantStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
