package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HTTPTransport delivers through a JSON mail API: one POST per message,
// bearer-token auth, delivery ID in the response.
type HTTPTransport struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTransport builds a transport for the given mail API endpoint.
func NewHTTPTransport(url, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	body := map[string]any{
		"from":    msg.From,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"text":    msg.Body,
	}
	if msg.ReplyTo != "" {
		body["reply_to"] = msg.ReplyTo
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal mail request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mail api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("mail_api_rejected")
		return "", fmt.Errorf("mail api returned status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ID == "" {
		return "mail_" + uuid.NewString(), nil
	}
	return out.ID, nil
}

// SMTPTransport delivers through a plain SMTP submission endpoint.
type SMTPTransport struct {
	addr     string // host:port
	username string
	password string
}

// NewSMTPTransport builds a transport speaking SMTP with PLAIN auth.
func NewSMTPTransport(addr, username, password string) *SMTPTransport {
	return &SMTPTransport{addr: addr, username: username, password: password}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	host := t.addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if t.username != "" {
		auth = smtp.PlainAuth("", t.username, t.password, host)
	}
	id := "<" + uuid.NewString() + "@" + host + ">"

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", msg.From)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&sb, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", encodeSubject(msg.Subject))
	fmt.Fprintf(&sb, "Message-ID: %s\r\n", id)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)

	if err := smtp.SendMail(t.addr, auth, msg.From, []string{msg.To}, []byte(sb.String())); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

// encodeSubject RFC2047-encodes subjects with non-ASCII brand names.
func encodeSubject(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}

// LogTransport is the "none" mode: it records the message in the log and
// reports success. Useful in development and in tests of the full pipeline.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("notification_logged_only")
	return "log_" + uuid.NewString(), nil
}
