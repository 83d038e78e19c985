// Package main is the entry point for the Sentinel API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clearharbor/sentinel/internal/api"
	"github.com/clearharbor/sentinel/internal/audit"
	"github.com/clearharbor/sentinel/internal/auth"
	"github.com/clearharbor/sentinel/internal/config"
	"github.com/clearharbor/sentinel/internal/db"
	"github.com/clearharbor/sentinel/internal/detect"
	"github.com/clearharbor/sentinel/internal/health"
	"github.com/clearharbor/sentinel/internal/incident"
	"github.com/clearharbor/sentinel/internal/middleware"
	"github.com/clearharbor/sentinel/internal/response"
	"github.com/clearharbor/sentinel/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Sentinel API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slogArgs(cfg.LogSummary())...)

	ctx := context.Background()

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "sentinel",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: 1.0,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics registry; each package registers its own collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mwMetrics := middleware.NewMetrics()
	auditMetrics := audit.NewMetrics()
	detectMetrics := detect.NewMetrics()
	incidentMetrics := incident.NewMetrics()
	responseMetrics := response.NewMetrics()
	for name, reg := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"middleware": mwMetrics,
		"audit":      auditMetrics,
		"detect":     detectMetrics,
		"incident":   incidentMetrics,
		"response":   responseMetrics,
	} {
		if err := reg.Register(registry); err != nil {
			logger.Error("failed to register metrics", "package", name, "error", err)
			os.Exit(1)
		}
	}

	// Audit store backend
	var (
		store     audit.Store
		dbChecker api.HealthChecker
	)
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		store = audit.NewPostgresStore(pool, logger)
		dbChecker = health.NewDBChecker(pool)
	case config.StorageFile:
		fs, err := audit.NewFileStore(cfg.StorageDir)
		if err != nil {
			logger.Error("failed to open audit file store", "dir", cfg.StorageDir, "error", err)
			os.Exit(1)
		}
		store = fs
	default:
		logger.Warn("using in-memory audit store; entries are lost on restart")
		store = audit.NewMemoryStore()
	}

	// Optional WORM archive mirror
	var archiver audit.Archiver
	if cfg.ArchiveEnabled {
		s3a, err := audit.NewS3Archiver(audit.S3ArchiverConfig{
			Bucket:          cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
		})
		if err != nil {
			logger.Error("failed to initialize audit archive", "error", err)
			os.Exit(1)
		}
		archiver = s3a
		logger.Info("audit archive enabled", "bucket", cfg.ArchiveBucket)
	}

	auditor, err := audit.NewLogger(ctx, audit.LoggerConfig{
		Store:      store,
		SigningKey: []byte(cfg.SigningKey),
		Archiver:   archiver,
		Metrics:    auditMetrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}

	// Activity tracking: Redis when configured so multiple instances share
	// one view of actor behavior, in-memory otherwise.
	var (
		tracker      middleware.ActivityTracker
		redisChecker api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		tracker = middleware.NewRedisActivityTracker(client, middleware.DefaultActivityWindow, mwMetrics)
		redisChecker = health.NewRedisChecker(client)
		logger.Info("using redis activity tracker", "addr", cfg.RedisAddr)
	} else {
		tracker = middleware.NewMemoryActivityTracker(middleware.DefaultActivityWindow)
	}

	// Detection and response pipeline
	engine := detect.NewEngine(detect.BuiltinRules(), detectMetrics, logger)

	var alerts response.AlertSink
	if cfg.AlertWebhookURL != "" {
		alerts = response.NewWebhookSink(cfg.AlertWebhookURL, cfg.AlertCriticalWebhookURL, logger)
	}
	executor, err := response.NewExecutor(response.ExecutorConfig{
		Alerts:  alerts,
		Auditor: auditor,
		Metrics: responseMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialize response executor", "error", err)
		os.Exit(1)
	}

	manager, err := incident.NewManager(incident.ManagerConfig{
		Engine:    engine,
		Auditor:   auditor,
		Responder: executor,
		Metrics:   incidentMetrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialize incident manager", "error", err)
		os.Exit(1)
	}

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	// Handlers
	auditHandlers := api.NewAuditHandlers(auditor)
	incidentHandlers := api.NewIncidentHandlers(manager)
	ruleHandlers := api.NewRuleHandlers(engine)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      dbChecker,
		RedisChecker:   redisChecker,
		MetricsEnabled: true,
	})

	rateLimitStore := middleware.NewInMemoryRateLimitStore()
	exportLimiter := middleware.RateLimiter(rateLimitStore, middleware.RateLimitConfig{
		RequestsPerWindow: cfg.ExportRateLimit,
		WindowDuration:    time.Minute,
	}, middleware.UserKeyFunc(), mwMetrics)

	// Authenticated API surface
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/audit/entries", auditHandlers.Entries)
	apiMux.HandleFunc("/audit/verify", auditHandlers.Verify)
	apiMux.Handle("/audit/export", exportLimiter(http.HandlerFunc(auditHandlers.Export)))
	apiMux.HandleFunc("/audit/chain", auditHandlers.Chain)
	apiMux.HandleFunc("/incidents", incidentHandlers.List)
	apiMux.HandleFunc("/incidents/report", incidentHandlers.Report)
	apiMux.HandleFunc("/incidents/", incidentHandlers.HandleIncident)
	apiMux.HandleFunc("/rules", ruleHandlers.List)

	protected := middleware.Authenticate(jwtService)(
		middleware.AuditTrail(auditor, logger)(apiMux))

	// Root mux: operational endpoints bypass authentication.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", protected)

	// The security monitor sits outside authentication so failed logins and
	// anonymous probing feed the detection engine.
	handler := middleware.SecurityMonitor(tracker, manager, cfg.DetectionLocation(), logger)(mux)
	handler = middleware.RateLimiter(rateLimitStore, middleware.RateLimitConfig{
		RequestsPerWindow: cfg.GlobalRateLimit,
		WindowDuration:    time.Minute,
	}, middleware.IPKeyFunc(), mwMetrics)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowCredentials: true,
	})(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.ProfilingEnabled,
		Environment: cfg.Env,
	})(handler)
	handler = middleware.HTTPMetrics(mwMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing("sentinel")(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// slogArgs flattens a summary map into alternating key/value slog arguments.
func slogArgs(summary map[string]string) []any {
	args := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		args = append(args, k, v)
	}
	return args
}
