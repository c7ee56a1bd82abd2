package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/equilibriocl/agendabot/internal/api/router"
	"github.com/equilibriocl/agendabot/internal/buffer"
	"github.com/equilibriocl/agendabot/internal/calendar"
	"github.com/equilibriocl/agendabot/internal/clinic"
	appconfig "github.com/equilibriocl/agendabot/internal/config"
	"github.com/equilibriocl/agendabot/internal/conversation"
	"github.com/equilibriocl/agendabot/internal/http/handlers"
	"github.com/equilibriocl/agendabot/internal/messaging"
	"github.com/equilibriocl/agendabot/internal/notify"
	"github.com/equilibriocl/agendabot/internal/observability/metrics"
	"github.com/equilibriocl/agendabot/internal/schedule"
	"github.com/equilibriocl/agendabot/internal/store"
	"github.com/equilibriocl/agendabot/pkg/logging"
)

func main() {
	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agendabot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	profile := clinic.Default()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("failed to load clinic timezone", "tz", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	// Postgres: database/sql for conversation history, pgxpool for
	// the appointment repository.
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()
	if err := sqlDB.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}

	cal, err := calendar.New(ctx, []byte(cfg.GoogleServiceAccountJSON), cfg.GoogleCalendarID, cfg.ClinicTimezone, logger)
	if err != nil {
		logger.Error("failed to init google calendar", "error", err)
		os.Exit(1)
	}

	llm, err := buildLLMClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init LLM client", "error", err)
		os.Exit(1)
	}

	messageStore := store.NewMessageStore(sqlDB, cfg.ClientID)
	pendingStore := store.NewPendingStore(rdb, cfg.ClientID, cfg.ConfirmationTTL)
	appointments := store.NewAppointmentRepository(pool, cfg.ClientID)

	sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, logger)

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
	}, logger)
	var notifier conversation.Notifier
	if n := notify.NewEscalationNotifier(emailSender, cfg.EscalationEmail, logger); n != nil {
		notifier = n
	}

	reg := prometheus.NewRegistry()
	botMetrics := metrics.NewBotMetrics(reg)

	orch := conversation.NewOrchestrator(conversation.Deps{
		LLM:          llm,
		Calendar:     cal,
		Resolver:     schedule.NewResolver(cal, loc),
		Pending:      pendingStore,
		MessageLog:   messageStore,
		Appointments: appointments,
		Messenger:    sender,
		Notifier:     notifier,
		Metrics:      botMetrics,
		Profile:      profile,
		Location:     loc,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
		ReplyMax:     cfg.ReplyMaxLength,
	})

	process := func(ctx context.Context, phone, combined string) {
		botMetrics.ObserveFlush()
		orch.HandleTurn(ctx, phone, combined)
	}
	debouncer := buffer.New(cfg.BufferWindow, cfg.SessionIdleTimeout, process, logger)
	defer debouncer.Close()

	webhookURL := cfg.PublicBaseURL + "/whatsapp"
	webhookHandler := handlers.NewWebhookHandler(debouncer, cfg.TwilioAuthToken, webhookURL, logger, botMetrics)
	statusHandler := handlers.NewStatusHandler(messageStore, cfg.GeminiModelID, loc, logger)

	r := router.New(&router.Config{
		Webhook:        webhookHandler,
		Status:         statusHandler,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildLLMClient assembles the provider chain: Gemini primary with an
// optional OpenAI fallback. At least one provider must be configured.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.LLMClient, error) {
	var primary, fallback conversation.LLMClient

	if cfg.GeminiAPIKey != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		primary = gemini
	}

	if cfg.OpenAIAPIKey != "" {
		openai, err := conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIModelID)
		if err != nil {
			return nil, err
		}
		if primary == nil {
			primary = openai
		} else {
			fallback = openai
		}
	}

	if primary == nil {
		return nil, errors.New("no LLM provider configured (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}
	if fallback == nil {
		return primary, nil
	}
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}
