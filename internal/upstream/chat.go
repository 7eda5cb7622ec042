package upstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// ChatClient serves brands configured with a plain chat model instead of a
// hosted assistant. Conversation history lives in memory; history is scoped
// to the process lifetime, which matches a relay sitting in front of
// short-lived chat sessions.
type ChatClient struct {
	client *openai.Client

	mu    sync.Mutex
	convs map[string][]openai.ChatCompletionMessage
}

// NewChatClient builds a chat-completions upstream client.
func NewChatClient(apiKey, baseURL string) *ChatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatClient{
		client: openai.NewClientWithConfig(cfg),
		convs:  make(map[string][]openai.ChatCompletionMessage),
	}
}

// CreateConversation allocates a new in-memory conversation.
func (c *ChatClient) CreateConversation(ctx context.Context) (string, error) {
	id := "conv_" + uuid.NewString()
	c.mu.Lock()
	c.convs[id] = nil
	c.mu.Unlock()
	return id, nil
}

// AppendMessage records a message in the conversation history.
func (c *ChatClient) AppendMessage(ctx context.Context, conversationID, role, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist, ok := c.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	c.convs[conversationID] = append(hist, openai.ChatCompletionMessage{
		Role:    role,
		Content: text,
	})
	return nil
}

func (c *ChatClient) history(conversationID string, opts TurnOptions) ([]openai.ChatCompletionMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist, ok := c.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(hist)+1)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	return append(msgs, hist...), nil
}

// StartTurn runs one blocking completion and records the assistant reply.
// The returned turn ID is already terminal; PollTurn reports it completed.
func (c *ChatClient) StartTurn(ctx context.Context, conversationID string, opts TurnOptions) (string, error) {
	msgs, err := c.history(conversationID, opts)
	if err != nil {
		return "", err
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 {
		c.AppendMessage(ctx, conversationID, openai.ChatMessageRoleAssistant, resp.Choices[0].Message.Content)
	}
	return "turn_" + uuid.NewString(), nil
}

// PollTurn always reports completed: chat turns finish inside StartTurn.
func (c *ChatClient) PollTurn(ctx context.Context, conversationID, turnID string) (TurnStatus, error) {
	c.mu.Lock()
	_, ok := c.convs[conversationID]
	c.mu.Unlock()
	if !ok {
		return "", ErrConversationNotFound
	}
	return StatusCompleted, nil
}

// ListMessages returns the newest messages, newest first.
func (c *ChatClient) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist, ok := c.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	msgs := make([]Message, 0, limit)
	for i := len(hist) - 1; i >= 0 && len(msgs) < limit; i-- {
		msgs = append(msgs, Message{
			ID:        "msg_" + uuid.NewString(),
			Role:      hist[i].Role,
			Text:      hist[i].Content,
			CreatedAt: time.Now(),
		})
	}
	return msgs, nil
}

// StartTurnStream opens a streaming completion. The full reply is recorded
// into the conversation when the stream drains to EOF.
func (c *ChatClient) StartTurnStream(ctx context.Context, conversationID string, opts TurnOptions) (Stream, error) {
	msgs, err := c.history(conversationID, opts)
	if err != nil {
		return nil, err
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	return &chatStream{
		stream:         stream,
		client:         c,
		conversationID: conversationID,
	}, nil
}

// chatStream adapts a go-openai completion stream and records the reply on
// normal completion.
type chatStream struct {
	stream         *openai.ChatCompletionStream
	client         *ChatClient
	conversationID string

	reply     []byte
	done      bool
	closeOnce sync.Once
}

func (s *chatStream) Recv() (*Unit, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.record()
			return &Unit{Done: true}, nil
		}
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			if resp.Choices[0].FinishReason != "" {
				s.done = true
				s.record()
				return &Unit{Done: true}, nil
			}
			continue
		}
		s.reply = append(s.reply, delta...)
		return &Unit{Fragments: []string{delta}}, nil
	}
}

func (s *chatStream) record() {
	if len(s.reply) == 0 {
		return
	}
	s.client.AppendMessage(context.Background(), s.conversationID,
		openai.ChatMessageRoleAssistant, string(s.reply))
	s.reply = nil
}

func (s *chatStream) Close() error {
	s.closeOnce.Do(func() {
		s.stream.Close()
	})
	return nil
}
