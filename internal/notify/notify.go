// Package notify turns validated handoff records into operator email and
// guarantees at most one dispatch per relayed request. Delivery failures are
// logged and journaled; nothing about them ever reaches the chat client.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/handoff"
)

// ErrAlreadyDispatched marks a second dispatch attempt for the same request.
var ErrAlreadyDispatched = errors.New("notification already dispatched for request")

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	Body    string
}

// Transport delivers a message and returns a provider delivery ID.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// maxTracked bounds the dedup set. Entries are per-request correlation IDs,
// so a reset only risks a duplicate for a request still in flight across the
// reset, which cannot happen: the guard is taken before Send.
const maxTracked = 16384

// Dispatcher sends at most one notification per correlation ID, whatever
// the delivery outcome. A failed send still consumes the request's single
// attempt; retrying would risk double-notifying the operator.
type Dispatcher struct {
	transport Transport

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDispatcher wraps a transport with the at-most-once guard.
func NewDispatcher(t Transport) *Dispatcher {
	return &Dispatcher{
		transport: t,
		seen:      make(map[string]struct{}),
	}
}

// Dispatch sends msg unless correlationID was already used. Returns the
// transport's delivery ID on success.
func (d *Dispatcher) Dispatch(ctx context.Context, correlationID string, msg Message) (string, error) {
	d.mu.Lock()
	if _, dup := d.seen[correlationID]; dup {
		d.mu.Unlock()
		return "", ErrAlreadyDispatched
	}
	if len(d.seen) >= maxTracked {
		d.seen = make(map[string]struct{})
	}
	d.seen[correlationID] = struct{}{}
	d.mu.Unlock()

	id, err := d.transport.Send(ctx, msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("correlation_id", correlationID).
			Str("to", msg.To).
			Msg("notification_send_failed")
		return "", err
	}
	log.Info().
		Str("correlation_id", correlationID).
		Str("delivery_id", id).
		Msg("notification_sent")
	return id, nil
}

var kindTitles = map[handoff.Kind]string{
	handoff.KindReservation:     "New reservation",
	handoff.KindOrder:           "New order",
	handoff.KindCustomerRequest: "Customer request",
}

// Compose builds the operator email for one record under one brand.
func Compose(b *brand.Brand, rec *handoff.Record) Message {
	title := kindTitles[rec.Kind]
	subject := fmt.Sprintf("%s - %s", title, b.DisplayName)
	if b.Notify.SubjectPrefix != "" {
		subject = b.Notify.SubjectPrefix + " " + subject
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s for %s\n", title, b.DisplayName)
	if rec.Inferred {
		sb.WriteString("Reconstructed from conversation text, no structured block was present.\n")
	}
	sb.WriteString("\n")
	if body, err := yaml.Marshal(rec.Payload); err == nil {
		sb.Write(body)
	} else {
		fmt.Fprintf(&sb, "%v\n", rec.Payload)
	}

	return Message{
		From:    b.Notify.Sender,
		To:      b.Notify.Recipient,
		ReplyTo: b.Notify.ReplyTo,
		Subject: subject,
		Body:    sb.String(),
	}
}
