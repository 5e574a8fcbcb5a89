package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eladgs/torbot/internal/assistant"
	"github.com/eladgs/torbot/internal/booking"
	"github.com/eladgs/torbot/internal/calendar"
	"github.com/eladgs/torbot/internal/directive"
	"github.com/eladgs/torbot/internal/handlers"
	"github.com/eladgs/torbot/internal/messaging"
	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/internal/notify"
	"github.com/eladgs/torbot/internal/outbox"
	"github.com/eladgs/torbot/internal/reconcile"
	"github.com/eladgs/torbot/internal/secrets"
	"github.com/eladgs/torbot/internal/storage"
	"github.com/eladgs/torbot/internal/sweeper"
	"github.com/eladgs/torbot/libs/config"
	"github.com/eladgs/torbot/libs/db"
	"github.com/eladgs/torbot/libs/httpx"
	"github.com/eladgs/torbot/libs/kafkax"
	otelx "github.com/eladgs/torbot/libs/otel"
	"github.com/eladgs/torbot/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "torbot")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: config.String("REDIS_ADDR", "localhost:6379")})
	defer rdb.Close()

	tzName := config.String("BUSINESS_TIMEZONE", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		logger.Error("invalid timezone, falling back to UTC", "err", err, "tz", tzName)
		tz = time.UTC
	}

	credsKey, err := config.RequiredString("CREDENTIALS_KEY")
	if err != nil {
		panic(err)
	}
	box, err := secrets.NewBox(credsKey)
	if err != nil {
		logger.Error("credentials key rejected", "err", err)
		panic(err)
	}

	businesses := storage.NewBusinessRepository(pool)
	appointments := storage.NewAppointmentRepository(pool)
	conversations := storage.NewConversationRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	sender := messaging.NewGatewaySender(
		config.String("GATEWAY_SEND_URL", ""),
		config.String("GATEWAY_TOKEN", ""),
	)
	notifier := notify.NewOwnerNotifier(sender, tz)

	calClient := calendar.NewClient(config.String("CALENDAR_API_URL", "https://www.googleapis.com/calendar/v3"), tz)
	oauthCfg := calendar.OAuthConfig{
		AuthURL:      config.String("CALENDAR_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		TokenURL:     config.String("CALENDAR_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		ClientID:     config.String("CALENDAR_CLIENT_ID", ""),
		ClientSecret: config.String("CALENDAR_CLIENT_SECRET", ""),
		RedirectURL:  config.String("CALENDAR_REDIRECT_URL", ""),
		Scope:        config.String("CALENDAR_SCOPE", "https://www.googleapis.com/auth/calendar.events"),
	}

	bookingSvc := booking.NewService(appointments, calClient, box, notifier, outboxRepo, logger, tz)

	openaiKey, err := config.RequiredString("OPENAI_API_KEY")
	if err != nil {
		panic(err)
	}
	responder := assistant.NewResponder(
		openai.NewClient(openaiKey),
		bookingSvc,
		logger,
		tz,
		config.String("OPENAI_MODEL", "gpt-4o-mini"),
	)
	interpreter := directive.NewInterpreter(bookingSvc, logger, tz)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reconciler := reconcile.New(pool, businesses, appointments, bookingSvc, calClient, box, outboxRepo, logger, reconcile.Config{
		AdvisoryLockKey: int64(config.Int("RECONCILE_LOCK_KEY", 0)),
	})
	go reconciler.Run(ctx, config.Duration("RECONCILE_INTERVAL", 15*time.Minute))

	retention := sweeper.New(appointments, conversations, logger)
	go retention.Run(ctx, config.Duration("SWEEP_INTERVAL", 24*time.Hour))

	webhookHandler := handlers.NewWebhookHandler(businesses, conversations, responder, interpreter, sender, rdb, logger)
	calendarHandler := handlers.NewCalendarHandler(businesses, oauthCfg, calendar.NewOAuthExchanger(oauthCfg), box, rdb, logger)
	adminHandler := handlers.NewAdminHandler(&adminStore{appointments: appointments, businesses: businesses}, bookingSvc, logger, config.String("ADMIN_TOKEN", ""))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/webhook/messages", webhookHandler.Inbound)
	mux.HandleFunc("/calendar/connect", calendarHandler.Connect)
	mux.HandleFunc("/calendar/oauth/callback", calendarHandler.Callback)
	mux.HandleFunc("/admin/appointments", adminHandler.ListAppointments)
	mux.HandleFunc("/admin/appointments/complete", adminHandler.CompletePast)
	mux.HandleFunc("/admin/appointments/cancel", adminHandler.CancelAppointment)

	limiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("RATE_LIMIT_PER_MINUTE", 120),
		time.Minute,
		"torbot:rl",
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
		limiter.Middleware(logger, true),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// adminStore stitches the two repositories behind the admin handler's store
// interface.
type adminStore struct {
	appointments *storage.AppointmentRepository
	businesses   *storage.BusinessRepository
}

func (s *adminStore) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	return s.appointments.ListByBusiness(ctx, businessID, limit)
}

func (s *adminStore) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	return s.appointments.CompletePast(ctx, now)
}

func (s *adminStore) Get(ctx context.Context, id string) (model.Business, error) {
	return s.businesses.Get(ctx, id)
}
