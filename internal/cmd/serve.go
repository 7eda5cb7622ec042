package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/config"
	"github.com/heyconcierge/relay/internal/digest"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
	"github.com/heyconcierge/relay/internal/server"
	"github.com/heyconcierge/relay/internal/upstream"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server with the daily digest scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// buildTransport picks the mail transport from config.
func buildTransport(cfg *config.Config) notify.Transport {
	switch cfg.MailTransport {
	case "http":
		return notify.NewHTTPTransport(cfg.MailAPIURL, cfg.MailAPIKey)
	case "smtp":
		return notify.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		log.Warn().Msg("mail_transport_none_notifications_logged_only")
		return notify.LogTransport{}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	brands, err := brand.Load(cfg.BrandsFile)
	if err != nil {
		return fmt.Errorf("loading brands: %w", err)
	}
	keyed := 0
	for _, key := range brands.Keys() {
		if b, err := brands.Get(key); err == nil && len(b.APIKeys) > 0 {
			keyed++
		}
	}
	if keyed == 0 {
		log.Warn().Msg("no brand has api_keys configured, every request will return 401")
	}

	assistants := upstream.NewAssistantClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey)
	chats := upstream.NewChatClient(cfg.UpstreamAPIKey, cfg.UpstreamBaseURL)

	transport := buildTransport(cfg)
	dispatcher := notify.NewDispatcher(transport)

	journalStore, err := journal.NewStore(cfg.JournalDBPath())
	if err != nil {
		return fmt.Errorf("initializing journal: %w", err)
	}
	defer journalStore.Close()

	if cfg.DigestCron != "" {
		scheduler := digest.NewScheduler(brands, journalStore, transport, cfg.DigestRecipient)
		if err := scheduler.Register(cfg.DigestCron); err != nil {
			return fmt.Errorf("registering digest: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := server.NewServer(
		brands,
		assistants,
		chats,
		dispatcher,
		server.WithJournal(journalStore),
		server.WithKeepAlive(cfg.KeepAliveInterval),
		server.WithRateLimiter(server.NewRateLimiter(brands, cfg.GlobalRPM, cfg.BrandRPM)),
		server.WithCORSOrigins([]string{"*"}),
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	// WriteTimeout is generous: one relayed stream lives as long as the
	// upstream turn, and keep-alive comments hold the connection open.
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("brands", brands.Len()).
		Str("mail_transport", cfg.MailTransport).
		Str("digest_cron", cfg.DigestCron).
		Msg("relay_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
