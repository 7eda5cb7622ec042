// Package upstream talks to the conversational-AI service that generates
// assistant turns. Two implementations exist: an Assistants-style REST client
// (thread/run/poll/messages, SSE streaming) and a chat-completions client for
// brands configured with a plain model. Both yield the same Stream of Units
// consumed by the relay loop.
package upstream

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnFailed           = errors.New("upstream turn failed")
)

// TurnStatus is the lifecycle state of a non-streaming turn.
type TurnStatus string

const (
	StatusQueued     TurnStatus = "queued"
	StatusInProgress TurnStatus = "in_progress"
	StatusCompleted  TurnStatus = "completed"
	StatusFailed     TurnStatus = "failed"
	StatusCancelled  TurnStatus = "cancelled"
	StatusExpired    TurnStatus = "expired"
)

// Terminal reports whether the status is final.
func (s TurnStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// TurnOptions selects the upstream identity for one turn. Exactly one of
// AssistantID or Model is set, per the brand configuration.
type TurnOptions struct {
	AssistantID  string
	Model        string
	SystemPrompt string
}

// Unit is one decoded upstream stream event: zero or more text fragments
// plus optional metadata. Consumed and discarded by the relay loop.
type Unit struct {
	Fragments   []string
	HandoffHint bool // advisory per-unit signal; never substitutes for a parsed record
	Done        bool // upstream signaled normal turn completion
}

// Stream is a handle on one in-flight streaming turn. Recv blocks for the
// next unit and returns io.EOF after the final one. Close releases the
// upstream connection and is safe to call more than once.
type Stream interface {
	Recv() (*Unit, error)
	Close() error
}

// Message is one stored conversation message.
type Message struct {
	ID        string
	Role      string
	Text      string
	CreatedAt time.Time
}

// Client is the upstream collaborator contract: conversation bookkeeping
// plus turn execution in streaming or poll mode.
type Client interface {
	CreateConversation(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, conversationID, role, text string) error
	StartTurn(ctx context.Context, conversationID string, opts TurnOptions) (string, error)
	StartTurnStream(ctx context.Context, conversationID string, opts TurnOptions) (Stream, error)
	PollTurn(ctx context.Context, conversationID, turnID string) (TurnStatus, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
