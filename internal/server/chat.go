package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/handoff"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
	relayotel "github.com/heyconcierge/relay/internal/otel"
	"github.com/heyconcierge/relay/internal/requestctx"
	"github.com/heyconcierge/relay/internal/stream"
	"github.com/heyconcierge/relay/internal/upstream"
)

var tracer = relayotel.Tracer("github.com/heyconcierge/relay/internal/server")

// dispatchTimeout bounds the post-stream extraction and notification work,
// which runs on a context detached from the request.
const dispatchTimeout = 30 * time.Second

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// handleChat relays one streamed assistant turn. The client sees sanitized
// SSE deltas and a single [DONE]; after the stream ends, the raw transcript
// goes through handoff extraction, validation, and at most one notification.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetReqID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = requestctx.SetCorrelationID(ctx, correlationID)

	b, err := s.brands.Get(requestctx.BrandKey(ctx))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown brand")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	model := b.ChatModel
	if model == "" {
		model = b.AssistantID
	}
	ctx, span := tracer.Start(ctx, "relay.chat",
		trace.WithAttributes(
			attribute.String("brand_key", b.Key),
			attribute.String("correlation_id", correlationID),
			relayotel.GenAISystem.String("openai"),
			relayotel.GenAIRequestModel.String(model),
		))
	defer span.End()

	client := s.clientFor(b)
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID, err = client.CreateConversation(ctx)
		if err != nil {
			log.Error().Err(err).Str("brand_key", b.Key).Msg("conversation_create_failed")
			writeError(w, http.StatusBadGateway, "upstream_unavailable", "The assistant is unavailable right now")
			return
		}
	}
	if err := client.AppendMessage(ctx, conversationID, "user", req.Message); err != nil {
		log.Error().Err(err).Str("brand_key", b.Key).Msg("message_append_failed")
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "The assistant is unavailable right now")
		return
	}

	opts := upstream.TurnOptions{
		AssistantID:  b.AssistantID,
		Model:        b.ChatModel,
		SystemPrompt: b.SystemPrompt,
	}
	turn, err := client.StartTurnStream(ctx, conversationID, opts)
	if err != nil {
		log.Error().Err(err).Str("brand_key", b.Key).Msg("turn_start_failed")
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "The assistant is unavailable right now")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conversation-ID", conversationID)
	w.WriteHeader(http.StatusOK)

	acc := stream.NewAccumulator()
	res := stream.Forward(ctx, stream.ForwardParams{
		Stream:      turn,
		Writer:      w,
		Fence:       stream.NewFence(),
		Accumulator: acc,
		KeepAlive:   s.keepAlive,
	})
	finish := "stop"
	if res.Err != nil {
		finish = "error"
	}
	span.SetAttributes(relayotel.GenAIResponseFinishReason.String(finish))
	if res.Err != nil {
		log.Warn().
			Err(res.Err).
			Str("brand_key", b.Key).
			Str("correlation_id", correlationID).
			Msg("relay_stream_ended_with_error")
	}

	// The client already has its [DONE]; extraction and dispatch run on the
	// raw transcript regardless of how the stream ended, on a detached
	// context so a closed client connection cannot cancel them.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	s.processTranscript(dctx, b, correlationID, acc.String(), res.HandoffHint)
}

// processTranscript runs the off-band half of the pipeline: grammar
// extraction, fallback inference, sanitization, notification, journaling.
// Nothing here is ever surfaced to the chat client.
func (s *Server) processTranscript(ctx context.Context, b *brand.Brand, correlationID, text string, hint bool) {
	ctx, span := tracer.Start(ctx, "relay.extract",
		trace.WithAttributes(attribute.String("brand_key", b.Key)))
	defer span.End()

	rec, found := handoff.Extract(text)
	if !found {
		rec, found = handoff.NewInferencer().Infer(text)
	}
	if !found {
		if hint {
			log.Warn().
				Str("brand_key", b.Key).
				Str("correlation_id", correlationID).
				Msg("handoff_hint_without_record")
		}
		return
	}

	entry := &journal.Entry{
		CorrelationID: correlationID,
		BrandKey:      b.Key,
		Kind:          rec.Kind,
		Grammar:       rec.Grammar,
		Inferred:      rec.Inferred,
		Payload:       rec.Payload,
	}

	clean, err := handoff.Sanitize(rec, b)
	if err != nil {
		log.Info().
			Err(err).
			Str("brand_key", b.Key).
			Str("correlation_id", correlationID).
			Str("grammar", rec.Grammar).
			Msg("handoff_rejected")
		entry.Outcome = journal.OutcomeRejected
		entry.Error = err.Error()
		s.journalEntry(ctx, entry)
		return
	}

	if s.dispatcher == nil {
		entry.Outcome = journal.OutcomeSkipped
		s.journalEntry(ctx, entry)
		return
	}

	msg := notify.Compose(b, clean)
	deliveryID, err := s.dispatcher.Dispatch(ctx, correlationID, msg)
	if err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Error = err.Error()
	} else {
		entry.Outcome = journal.OutcomeSent
		entry.DeliveryID = deliveryID
	}
	s.journalEntry(ctx, entry)
}

func (s *Server) journalEntry(ctx context.Context, e *journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, e); err != nil {
		log.Error().
			Err(err).
			Str("correlation_id", e.CorrelationID).
			Msg("journal_write_failed")
	}
}
