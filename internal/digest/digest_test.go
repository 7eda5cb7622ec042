package digest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/handoff"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
)

type fakeSummarizer struct {
	byBrand map[string][]journal.KindCount
}

func (f *fakeSummarizer) Summarize(ctx context.Context, brandKey string, from, to time.Time) ([]journal.KindCount, error) {
	return f.byBrand[brandKey], nil
}

type captureTransport struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *captureTransport) Send(ctx context.Context, msg notify.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return "dlv", nil
}

func testRegistry(t *testing.T) *brand.Registry {
	t.Helper()
	reg, err := brand.Parse([]byte(`
brands:
  - key: vineyard
    display_name: Vineyard Estate
    assistant_id: asst_1
    notify:
      recipient: ops@vineyard.example
      sender: relay@vineyard.example
  - key: bistro
    display_name: Bistro Pera
    chat_model: gpt-4o-mini
    notify:
      recipient: ops@bistro.example
      sender: relay@bistro.example
`))
	require.NoError(t, err)
	return reg
}

func TestRunOnceSendsPerActiveBrand(t *testing.T) {
	sum := &fakeSummarizer{byBrand: map[string][]journal.KindCount{
		"vineyard": {
			{Kind: handoff.KindOrder, Outcome: journal.OutcomeSent, Count: 3},
			{Kind: handoff.KindReservation, Outcome: journal.OutcomeFailed, Count: 1},
		},
		// bistro had no activity
	}}
	ct := &captureTransport{}
	s := NewScheduler(testRegistry(t), sum, ct, "")

	s.RunOnce(context.Background(), time.Now().UTC())

	require.Len(t, ct.sent, 1)
	msg := ct.sent[0]
	assert.Equal(t, "ops@vineyard.example", msg.To)
	assert.Contains(t, msg.Subject, "Vineyard Estate")
	assert.Contains(t, msg.Body, "order")
	assert.Contains(t, msg.Body, "Total: 4")
}

// An operator recipient redirects every brand's digest.
func TestRunOnceOperatorRecipientOverrides(t *testing.T) {
	sum := &fakeSummarizer{byBrand: map[string][]journal.KindCount{
		"vineyard": {{Kind: handoff.KindOrder, Outcome: journal.OutcomeSent, Count: 2}},
		"bistro":   {{Kind: handoff.KindCustomerRequest, Outcome: journal.OutcomeSent, Count: 1}},
	}}
	ct := &captureTransport{}
	s := NewScheduler(testRegistry(t), sum, ct, "all-digests@operator.example")

	s.RunOnce(context.Background(), time.Now().UTC())

	require.Len(t, ct.sent, 2)
	for _, msg := range ct.sent {
		assert.Equal(t, "all-digests@operator.example", msg.To)
	}
}

func TestRegisterRejectsBadCron(t *testing.T) {
	s := NewScheduler(testRegistry(t), &fakeSummarizer{}, &captureTransport{}, "")
	require.Error(t, s.Register("not a cron"))
	require.NoError(t, s.Register("0 7 * * *"))
}
