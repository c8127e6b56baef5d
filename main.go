package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "fleetpulse-cloud/internal/alerts/application"
	alertevents "fleetpulse-cloud/internal/alerts/application/events"
	alertrepo "fleetpulse-cloud/internal/alerts/infrastructure/postgres"
	alertinterfaces "fleetpulse-cloud/internal/alerts/interfaces"
	alerthttp "fleetpulse-cloud/internal/alerts/interfaces/http"
	"fleetpulse-cloud/internal/alerts/notify"
	"fleetpulse-cloud/internal/audit"
	"fleetpulse-cloud/internal/auth"
	commandsapp "fleetpulse-cloud/internal/commands/application"
	commandsevents "fleetpulse-cloud/internal/commands/application/events"
	commandsrepo "fleetpulse-cloud/internal/commands/infrastructure/postgres"
	commandshttp "fleetpulse-cloud/internal/commands/interfaces/http"
	"fleetpulse-cloud/internal/contract"
	deviceapp "fleetpulse-cloud/internal/devices/application"
	devicesrepo "fleetpulse-cloud/internal/devices/infrastructure/postgres"
	devicesinterfaces "fleetpulse-cloud/internal/devices/interfaces"
	deviceshttp "fleetpulse-cloud/internal/devices/interfaces/http"
	"fleetpulse-cloud/internal/eventing"
	"fleetpulse-cloud/internal/eventing/eventbus"
	eventingrepo "fleetpulse-cloud/internal/eventing/infrastructure/postgres"
	ingestapp "fleetpulse-cloud/internal/ingest/application"
	ingestevents "fleetpulse-cloud/internal/ingest/application/events"
	ingestrepo "fleetpulse-cloud/internal/ingest/infrastructure/postgres"
	ingesthttp "fleetpulse-cloud/internal/ingest/interfaces/http"
	"fleetpulse-cloud/internal/observability/metrics"
	policyapp "fleetpulse-cloud/internal/policy/application"
	policyhttp "fleetpulse-cloud/internal/policy/interfaces/http"
	"fleetpulse-cloud/internal/reports"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	policyCfg, err := policyapp.LoadConfig()
	if err != nil {
		logger.Fatalf("policy config error: %v", err)
	}

	schema, err := loadSchema(cfg.ContractSchemaPath)
	if err != nil {
		logger.Fatalf("contract schema error: %v", err)
	}
	contractRegistry, err := contract.NewRegistry(schema)
	if err != nil {
		logger.Fatalf("contract registry error: %v", err)
	}
	logger.Printf("contract v%d active: hash=%s", contractRegistry.Version(), contractRegistry.Hash())

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(ingestevents.TelemetryAccepted{})
	registry.Register(alertevents.AlertTransitioned{})
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAcknowledged{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	tokenRepo := devicesrepo.NewTokenRepository(db)
	deviceService, err := deviceapp.NewService(deviceRepo, tokenRepo)
	if err != nil {
		logger.Fatalf("device service error: %v", err)
	}
	tokenLookup, err := deviceapp.NewTokenLookup(tokenRepo, deviceRepo)
	if err != nil {
		logger.Fatalf("token lookup error: %v", err)
	}
	deviceHandler, err := deviceshttp.NewHandler(deviceService, auditRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	lastSeenConsumer, err := devicesinterfaces.NewLastSeenConsumer(deviceRepo)
	if err != nil {
		logger.Fatalf("last seen consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[ingestevents.TelemetryAccepted](), "devices.last_seen", func(ctx context.Context, event any) error {
		evt, ok := event.(ingestevents.TelemetryAccepted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return lastSeenConsumer.Consume(ctx, evt)
	}, processedStore)

	ingestStore := ingestrepo.NewStore(db)
	batchRepo := ingestrepo.NewBatchRepository(db)
	pipeline, err := ingestapp.NewPipeline(ingestStore, contractRegistry, publisher, ingestapp.WithMismatchMode(cfg.IngestMismatchMode))
	if err != nil {
		logger.Fatalf("ingest pipeline error: %v", err)
	}
	ingestHandler, err := ingesthttp.NewIngestHandler(pipeline, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	batchHandler, err := ingesthttp.NewBatchQueryHandler(batchRepo)
	if err != nil {
		logger.Fatalf("batch handler error: %v", err)
	}

	alertRepo := alertrepo.NewAlertRepository(db)
	decisionRepo := alertrepo.NewDecisionRepository(db)
	alertEngine, err := alertapp.NewEngine(alertRepo, deviceRepo, policyCfg.AlertRules, logger, alertapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("alert engine error: %v", err)
	}
	alertConsumer, err := alertinterfaces.NewTelemetryAcceptedConsumer(alertEngine)
	if err != nil {
		logger.Fatalf("alert consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[ingestevents.TelemetryAccepted](), "alerts.telemetry", func(ctx context.Context, event any) error {
		evt, ok := event.(ingestevents.TelemetryAccepted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return alertConsumer.Consume(ctx, evt)
	}, processedStore)

	var channels []notify.Channel
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatalf("notify webhook error: %v", err)
		}
		channels = append(channels, webhook)
	}
	if cfg.NATSURL != "" {
		natsChannel, err := notify.NewNATSChannel(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			logger.Fatalf("notify nats error: %v", err)
		}
		defer natsChannel.Close()
		channels = append(channels, natsChannel)
	}
	if len(channels) == 0 {
		channels = append(channels, notify.NewLogChannel(logger))
	}

	routerOpts := []notify.RouterOption{
		notify.WithCooldown(time.Duration(policyCfg.NotificationCooldownS) * time.Second),
	}
	if policyCfg.QuietHours != "" {
		start, end, err := policyapp.ParseQuietHours(policyCfg.QuietHours)
		if err != nil {
			logger.Fatalf("quiet hours error: %v", err)
		}
		routerOpts = append(routerOpts, notify.WithQuietHours(notify.QuietHours{Start: start, End: end}))
	}
	router, err := notify.NewRouter(decisionRepo, deviceRepo, notify.NewMultiChannel(channels...), logger, routerOpts...)
	if err != nil {
		logger.Fatalf("notify router error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[alertevents.AlertTransitioned](), "notify.router", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertTransitioned)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return router.HandleAlertTransitioned(ctx, evt)
	}, processedStore)

	commandRepo := commandsrepo.NewCommandRepository(db)
	commandService, err := commandsapp.NewService(commandRepo, deviceRepo, logger,
		commandsapp.WithPublisher(publisher),
		commandsapp.WithDefaultTTL(cfg.CommandTTL),
	)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandHandler, err := commandshttp.NewHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	ackHandler, err := commandshttp.NewAckHandler(commandService)
	if err != nil {
		logger.Fatalf("command ack handler error: %v", err)
	}

	composer, err := policyapp.NewComposer(policyCfg, deviceRepo, commandRepo)
	if err != nil {
		logger.Fatalf("policy composer error: %v", err)
	}
	policyHandler, err := policyhttp.NewPolicyHandler(composer)
	if err != nil {
		logger.Fatalf("policy handler error: %v", err)
	}

	alertQueryHandler, err := alerthttp.NewAlertQueryHandler(alertRepo)
	if err != nil {
		logger.Fatalf("alert query handler error: %v", err)
	}
	exportHandler, err := reports.NewExportHandler(alertRepo, batchRepo)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.OfflineSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			start := time.Now()
			if err := alertEngine.EvaluateOffline(context.Background()); err != nil {
				logger.Printf("offline sweep error: %v", err)
			}
			metrics.ObserveSweep("offline", time.Since(start))
		}
	}()
	go func() {
		ticker := time.NewTicker(cfg.CommandSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			start := time.Now()
			if _, err := commandService.ExpireOverdue(context.Background()); err != nil {
				logger.Printf("command expiry sweep error: %v", err)
			}
			metrics.ObserveSweep("command_expiry", time.Since(start))
		}
	}()
	go func() {
		ticker := time.NewTicker(cfg.OutboxSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			start := time.Now()
			if err := dispatcher.Dispatch(context.Background(), cfg.OutboxBatchSize); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
			metrics.ObserveSweep("outbox", time.Since(start))
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/", "/device/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	deviceMiddleware := auth.NewDeviceMiddleware(tokenLookup)

	mux := http.NewServeMux()
	mux.Handle("/ingest/points", deviceMiddleware.Wrap(ingestHandler))
	mux.Handle("/device/v1/policy", deviceMiddleware.Wrap(policyHandler))
	mux.Handle("/device/v1/commands/ack", deviceMiddleware.Wrap(ackHandler))
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/alerts", alertQueryHandler)
	mux.Handle("/api/v1/batches", batchHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	JWTSecret            string
	ContractSchemaPath   string
	IngestMismatchMode   string
	NotifyWebhookURL     string
	NATSURL              string
	NATSSubject          string
	CommandTTL           time.Duration
	OfflineSweepInterval time.Duration
	CommandSweepInterval time.Duration
	OutboxSweepInterval  time.Duration
	OutboxBatchSize      int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		ContractSchemaPath:   getenvDefault("CONTRACT_SCHEMA", ""),
		IngestMismatchMode:   getenvDefault("INGEST_MISMATCH_MODE", "quarantine"),
		NotifyWebhookURL:     getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		NATSURL:              getenvDefault("NATS_URL", ""),
		NATSSubject:          getenvDefault("NATS_ALERT_SUBJECT", ""),
		CommandTTL:           getenvDuration("COMMAND_DEFAULT_TTL", time.Hour),
		OfflineSweepInterval: getenvDuration("OFFLINE_SWEEP_INTERVAL", time.Minute),
		CommandSweepInterval: getenvDuration("COMMAND_SWEEP_INTERVAL", time.Minute),
		OutboxSweepInterval:  getenvDuration("OUTBOX_SWEEP_INTERVAL", 30*time.Second),
		OutboxBatchSize:      getenvIntDefault("OUTBOX_BATCH_SIZE", 50),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

// loadSchema reads the active metric contract. Without a configured file
// the built-in fleet schema applies.
func loadSchema(path string) (contract.Schema, error) {
	if path == "" {
		return defaultSchema(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return contract.Schema{}, err
	}
	var schema contract.Schema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return contract.Schema{}, err
	}
	return schema, nil
}

func defaultSchema() contract.Schema {
	return contract.Schema{
		Version: 1,
		Fields: map[string]contract.FieldSpec{
			"battery_pct":     {Type: contract.TypeNumber, Unit: "%"},
			"temperature_c":   {Type: contract.TypeNumber, Unit: "C"},
			"pressure_psi":    {Type: contract.TypeNumber, Unit: "psi"},
			"humidity_pct":    {Type: contract.TypeNumber, Unit: "%"},
			"signal_strength": {Type: contract.TypeNumber, Unit: "dBm"},
			"firmware":        {Type: contract.TypeString},
			"pump_running":    {Type: contract.TypeBool},
		},
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
