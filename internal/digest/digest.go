// Package digest emails operators a daily per-brand summary of journaled
// handoffs.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
)

// Summarizer is the journal slice the digest needs.
type Summarizer interface {
	Summarize(ctx context.Context, brandKey string, from, to time.Time) ([]journal.KindCount, error)
}

// Scheduler runs the digest job on a cron expression.
type Scheduler struct {
	cron      *cron.Cron
	brands    *brand.Registry
	journal   Summarizer
	transport notify.Transport
	recipient string // when set, overrides every brand's notify recipient
}

// NewScheduler builds a digest scheduler. Cron expressions use the standard
// 5-field format: minute hour day-of-month month day-of-week.
func NewScheduler(brands *brand.Registry, j Summarizer, t notify.Transport, recipient string) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		brands:    brands,
		journal:   j,
		transport: t,
		recipient: recipient,
	}
}

// Register adds the digest job under the given cron expression.
func (s *Scheduler) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunOnce(ctx, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("registering digest cron %q: %w", spec, err)
	}
	return nil
}

// Start begins executing the registered job.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running job to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce builds and sends the digest covering the 24 hours before now.
// Each brand's digest goes to its own notify recipient unless an operator
// recipient overrides it. Brands with no activity are skipped. Send failures
// are logged per brand and do not stop the remaining brands.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	from := now.Add(-24 * time.Hour)
	for _, key := range s.brands.Keys() {
		b, err := s.brands.Get(key)
		if err != nil {
			continue
		}
		counts, err := s.journal.Summarize(ctx, key, from, now)
		if err != nil {
			log.Error().Err(err).Str("brand_key", key).Msg("digest_summary_failed")
			continue
		}
		if len(counts) == 0 {
			continue
		}
		msg := composeDigest(b, counts, from, now)
		if s.recipient != "" {
			msg.To = s.recipient
		}
		if _, err := s.transport.Send(ctx, msg); err != nil {
			log.Error().Err(err).Str("brand_key", key).Msg("digest_send_failed")
			continue
		}
		log.Info().Str("brand_key", key).Msg("digest_sent")
	}
}

func composeDigest(b *brand.Brand, counts []journal.KindCount, from, to time.Time) notify.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Handoff digest for %s\n", b.DisplayName)
	fmt.Fprintf(&sb, "Window: %s to %s\n\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
	total := 0
	for _, kc := range counts {
		fmt.Fprintf(&sb, "  %-18s %-10s %d\n", kc.Kind, kc.Outcome, kc.Count)
		total += kc.Count
	}
	fmt.Fprintf(&sb, "\nTotal: %d\n", total)

	subject := fmt.Sprintf("Daily handoff digest - %s", b.DisplayName)
	if b.Notify.SubjectPrefix != "" {
		subject = b.Notify.SubjectPrefix + " " + subject
	}
	return notify.Message{
		From:    b.Notify.Sender,
		To:      b.Notify.Recipient,
		Subject: subject,
		Body:    sb.String(),
	}
}
