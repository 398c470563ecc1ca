package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-concierge/internal/api/router"
	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/calendar"
	"github.com/wolfman30/clinic-concierge/internal/compactor"
	appconfig "github.com/wolfman30/clinic-concierge/internal/config"
	"github.com/wolfman30/clinic-concierge/internal/dialogue"
	"github.com/wolfman30/clinic-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-concierge/internal/http/middleware"
	"github.com/wolfman30/clinic-concierge/internal/localize"
	"github.com/wolfman30/clinic-concierge/internal/messaging"
	"github.com/wolfman30/clinic-concierge/internal/notify"
	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/internal/ratelimit"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/internal/tenant"
	"github.com/wolfman30/clinic-concierge/internal/worker"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	memoryQueueBuffer = 256
	limiterSweepEvery = time.Minute
)

// App is the assembled service: the HTTP surface, the message workers and
// the background loops that keep the stores healthy.
type App struct {
	Handler    http.Handler
	Sessions   *session.Store
	Controller *dialogue.Controller
	Worker     *worker.Worker
	Queue      worker.Queue

	cfg            *appconfig.Config
	limiter        *ratelimit.Limiter
	governor       *budget.Governor
	webhookLimiter *httpmiddleware.IPRateLimiter
	logger         *logging.Logger
	closers        []io.Closer
	redis          *redis.Client
	db             *Database
}

// Build wires every component from cfg. Missing optional backends (Redis,
// Postgres, LLM providers, calendar, email) degrade features instead of
// failing startup.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg *prometheus.Registry) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: clinic timezone %q: %w", cfg.ClinicTimezone, err)
	}

	app := &App{cfg: cfg, logger: logger}

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		awsCfg = &loaded
	}

	messagingMetrics := metrics.NewMessagingMetrics(reg)
	sessionMetrics := metrics.NewSessionMetrics(reg)
	rateMetrics := metrics.NewRateLimitMetrics(reg)
	llmMetrics := metrics.NewLLMMetrics(reg)
	dialogueMetrics := metrics.NewDialogueMetrics(reg)

	// Stores
	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	app.Sessions = BuildSessionStore(app.redis, cfg,
		session.WithLogger(logger.Component("session")),
		session.WithMetrics(sessionMetrics),
	)
	app.limiter = ratelimit.New(app.redis, app.Sessions,
		ratelimit.WithLogger(logger.Component("ratelimit")),
		ratelimit.WithMetrics(rateMetrics),
	)

	app.db, err = OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	toggles := app.db.BuildAutomation()
	messageLog := app.db.BuildMessageLog()

	// LLM
	app.governor = budget.NewGovernor(budget.NewCounters(), budget.Limits{
		HourlyTokens:   cfg.HourlyTokenCap,
		HourlyRequests: cfg.HourlyRequestCap,
		DailyTokens:    cfg.DailyTokenCap,
		DailyRequests:  cfg.DailyRequestCap,
	}, logger.Component("budget"))
	app.governor.RegisterMetrics(reg)
	gateway, gatewayCloser := BuildGateway(ctx, cfg, awsCfg, app.governor, llmMetrics, logger)
	app.closers = append(app.closers, gatewayCloser)

	var summarizer compactor.Summarizer
	if cfg.SummarizeHistory {
		summarizer = gateway
	}

	opts := []dialogue.Option{
		dialogue.WithCompactor(compactor.New(cfg.HistoryCeiling, cfg.HistoryKeepFirst, cfg.HistoryKeepLast, summarizer, logger.Component("compactor"))),
		dialogue.WithLocalizer(localize.New(app.redis, gateway,
			localize.WithCanonical(cfg.CanonicalLanguage),
			localize.WithHealth(app.Sessions),
			localize.WithTimeout(cfg.SessionStoreTimeout),
			localize.WithLogger(logger.Component("localize")),
		)),
		dialogue.WithAutomation(toggles),
		dialogue.WithNotifier(BuildNotifier(cfg, awsCfg, logger)),
		dialogue.WithMetrics(dialogueMetrics),
		dialogue.WithLogger(logger.Component("dialogue")),
	}
	var tenants *tenant.RedisProvider
	if app.redis != nil {
		tenants = tenant.NewRedisProvider(app.redis)
		opts = append(opts, dialogue.WithTenants(tenants))
	}
	if cal := BuildCalendar(ctx, cfg, loc, logger); cal != nil {
		opts = append(opts, dialogue.WithCalendar(cal))
	}
	if messageLog != nil {
		opts = append(opts, dialogue.WithMessageLog(messageLog))
	}

	app.Controller = dialogue.NewController(app.Sessions, app.limiter, gateway, dialogue.Config{
		HumanPhone:      cfg.HumanPhone,
		MaxMessageChars: cfg.MaxMessageChars,
		RepeatThreshold: cfg.RepeatThreshold,
		Location:        loc,
	}, opts...)

	// Transport
	if cfg.UseSQSQueue {
		if awsCfg == nil || strings.TrimSpace(cfg.ConversationQueueURL) == "" {
			return nil, errors.New("bootstrap: USE_SQS_QUEUE requires CONVERSATION_QUEUE_URL")
		}
		app.Queue = worker.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL)
	} else {
		app.Queue = worker.NewMemoryQueue(memoryQueueBuffer)
	}

	workerOpts := []worker.Option{
		worker.WithWorkerCount(cfg.WorkerCount),
		worker.WithReceiveBatchSize(cfg.WorkerBatchSize),
		worker.WithJobTimeout(cfg.WorkerJobTimeout),
		worker.WithHumanPhone(cfg.HumanPhone),
		worker.WithMetrics(messagingMetrics),
	}
	var sender messaging.TextSender
	client, err := messaging.New(messaging.Config{
		BaseURL:     cfg.MessagingBaseURL,
		AccessToken: cfg.MessagingAccessToken,
		Logger:      logger.Component("messaging"),
	})
	if err != nil {
		logger.Warn("messaging transport disabled, replies will only be logged", "error", err)
		sender = logSender{logger: logger.Component("messaging")}
	} else {
		sender = client
		workerOpts = append(workerOpts, worker.WithVoiceNotes(client, gateway))
	}
	replier := messaging.NewPacedSender(sender,
		messaging.WithDelays(cfg.MinPacingDelay, cfg.MaxPacingDelay),
		messaging.WithPacingLogger(logger.Component("pacing")),
		messaging.WithPacingMetrics(messagingMetrics),
	)
	app.Worker = worker.New(app.Controller, app.Queue, replier, logger, workerOpts...)

	// HTTP
	webhook := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Queue:       worker.NewPublisher(app.Queue),
		Dedupe:      toggles,
		AppSecret:   cfg.MessagingAppSecret,
		VerifyToken: cfg.MessagingVerifyToken,
		Logger:      logger.Component("webhook"),
		Metrics:     messagingMetrics,
	})
	adminCfg := handlers.AdminConfig{
		Toggles:  toggles,
		Sessions: app.Sessions,
		Budget:   app.governor,
		Logger:   logger.Component("admin"),
	}
	if messageLog != nil {
		adminCfg.Messages = messageLog
	}
	if tenants != nil {
		adminCfg.Tenants = tenants
	}
	var admin *handlers.AdminHandler
	if strings.TrimSpace(cfg.AdminJWTSecret) != "" {
		admin = handlers.NewAdminHandler(adminCfg)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}
	if cfg.WebhookRatePerSecond > 0 {
		app.webhookLimiter = httpmiddleware.NewIPRateLimiter(cfg.WebhookRatePerSecond, cfg.WebhookBurst)
	}

	app.Handler = router.New(&router.Config{
		Logger:          logger,
		Webhook:         webhook,
		Admin:           admin,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Health:          app.Sessions,
		WebhookLimiter:  app.webhookLimiter,
	})
	return app, nil
}

// Run starts the workers and maintenance loops and blocks until ctx is done
// and every goroutine has exited.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Worker.Start(ctx)
	g.Go(func() error {
		a.Worker.Wait()
		return nil
	})
	g.Go(func() error {
		a.governor.Start(ctx)
		return nil
	})
	g.Go(func() error {
		a.Sessions.StartSweeper(ctx, a.cfg.SessionSweepEvery)
		return nil
	})
	if a.redis != nil {
		g.Go(func() error {
			a.Sessions.StartHealthProbe(ctx, a.cfg.HealthProbeEvery)
			return nil
		})
	}
	g.Go(func() error {
		a.limiter.StartSweeper(ctx, limiterSweepEvery)
		return nil
	})
	if a.webhookLimiter != nil {
		g.Go(func() error {
			a.webhookLimiter.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases connections. Call after Run returns.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	a.db.Close()
	return errors.Join(errs...)
}

func needsAWS(cfg *appconfig.Config) bool {
	return cfg.UseSQSQueue || cfg.UseSES || strings.TrimSpace(cfg.BedrockModelID) != ""
}

// BuildNotifier picks SES, then SendGrid, then a logging stub.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Service {
	log := logger.Component("notify")
	var sender notify.EmailSender
	switch {
	case cfg.UseSES && awsCfg != nil:
		sender = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.SendGridFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, log)
	case strings.TrimSpace(cfg.SendGridAPIKey) != "":
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, log)
	default:
		sender = notify.NewStubEmailSender(log)
	}
	return notify.NewService(sender, cfg.OperatorEmail, log)
}

// BuildCalendar returns nil when no Google credentials are configured.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, loc *time.Location, logger *logging.Logger) calendar.Creator {
	if strings.TrimSpace(cfg.GoogleCredentialsFile) == "" {
		return nil
	}
	cal, err := calendar.NewGoogleCalendar(ctx, loc, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	if err != nil {
		logger.Warn("google calendar disabled", "error", err)
		return nil
	}
	return cal
}

// logSender stands in for the transport when no access token is set.
type logSender struct {
	logger *logging.Logger
}

func (s logSender) SendText(_ context.Context, phoneNumberID, to, body string) (string, error) {
	s.logger.Info("outbound message (transport disabled)", "phone_number_id", phoneNumberID, "to", to, "chars", len(body))
	return "", nil
}
