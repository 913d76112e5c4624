package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/database"
	"github.com/smarttransit/payment-service/internal/handlers"
	"github.com/smarttransit/payment-service/internal/metrics"
	"github.com/smarttransit/payment-service/internal/middleware"
	"github.com/smarttransit/payment-service/internal/services"
	"github.com/smarttransit/payment-service/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Payment Service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories
	paymentRepository := database.NewPaymentRepository(db.DB)
	transactionRepository := database.NewPaymentTransactionRepository(db.DB, logger)
	refundRepository := database.NewRefundRepository(db.DB)

	// Metrics
	var appMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		appMetrics = metrics.NewMetrics()
		if err := appMetrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Fatalf("Failed to register metrics: %v", err)
		}
	}

	// Providers
	var providers []services.PaymentProvider
	var verifiers []services.WebhookVerifier
	if cfg.PayPal.Enabled {
		paypal := services.NewPayPalProvider(cfg.PayPal, cfg.Payment, logger)
		providers = append(providers, paypal)
		if cfg.PayPal.WebhookID != "" {
			verifiers = append(verifiers, paypal)
		}
		logger.WithField("environment", cfg.PayPal.Environment).Info("✓ PayPal provider enabled")
	}
	if cfg.Stripe.Enabled {
		stripeProvider := services.NewStripeProvider(cfg.Stripe, cfg.Payment, logger)
		providers = append(providers, stripeProvider)
		if cfg.Stripe.WebhookSecret != "" {
			verifiers = append(verifiers, stripeProvider)
		}
		logger.Info("✓ Stripe provider enabled")
	}
	if len(providers) == 0 {
		logger.Warn("⚠️  No payment provider enabled - payments cannot be initiated")
	}
	providerRouter := services.NewProviderRouter(providers...)

	// Callback de-duplication: Redis when configured, in-process otherwise
	var dedupe services.CallbackDedupe
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		dedupe = services.NewRedisCallbackDedupe(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.DedupeTTL)
		logger.Info("✓ Redis callback de-duplication enabled")
	} else {
		dedupe = services.NewMemoryCallbackDedupe(cfg.Redis.DedupeTTL)
		logger.Warn("REDIS_URL not set, using in-memory callback de-duplication")
	}

	// Payment engine
	paymentService := services.NewPaymentService(
		paymentRepository,
		transactionRepository,
		refundRepository,
		providerRouter,
		services.NewCurrencyService(cfg.Currency, logger),
		appMetrics,
		logger,
		cfg.Payment.TTL,
	)

	// Background jobs
	expirationService := services.NewPaymentExpirationService(paymentService, logger, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize)
	expirationService.Start()
	logger.WithFields(logrus.Fields{
		"interval":    cfg.Sweeper.Interval.String(),
		"payment_ttl": cfg.Payment.TTL.String(),
	}).Info("✓ Payment expiration service started")

	cronService := services.NewCronService(paymentService, logger, cfg.Sweeper.PurgeCron, cfg.Sweeper.Retention)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - expired payment purge enabled")

	// Handlers
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)
	callbackHandler := handlers.NewPaymentCallbackHandler(paymentService, dedupe, cfg.Payment.FrontendURL, logger, verifiers...)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if appMetrics != nil {
		router.Use(middleware.Metrics(appMetrics))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db, redisClient, cronService))
	if appMetrics != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		// Public: method discovery and provider callbacks
		v1.GET("/payments/methods", paymentHandler.GetAvailableMethods)

		provider := v1.Group("/payments/provider")
		{
			provider.GET("/success", callbackHandler.Success)
			provider.GET("/cancel", callbackHandler.Cancel)
			provider.GET("/status/:id", callbackHandler.Status)
			for _, name := range []string{"paypal", "stripe"} {
				if callbackHandler.HasWebhook(name) {
					provider.POST("/"+name+"/webhook", callbackHandler.Webhook(name))
					logger.WithField("provider", name).Info("✓ Webhook endpoint registered")
				}
			}
		}

		// Protected: payer operations
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			payments.POST("", paymentHandler.CreatePayment)
			payments.GET("/mine", paymentHandler.GetMyPayments)
			payments.GET("/:id", paymentHandler.GetPayment)
			payments.GET("/:id/history", paymentHandler.GetHistory)
			payments.POST("/:id/initiate", paymentHandler.InitiatePayment)
			payments.POST("/:id/cancel", paymentHandler.CancelPayment)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop background jobs
	logger.Info("Stopping background jobs...")
	expirationService.Stop()
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		// Log incoming request
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   path,
			"ip":     c.ClientIP(),
		}).Debug("Incoming request")

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      redactedQuery(c.Request.URL.Query()),
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// redactedQuery masks the provider tokens carried by callback redirects
func redactedQuery(q url.Values) string {
	for _, key := range []string{"token", "PayerID"} {
		if q.Has(key) {
			q.Set(key, "[redacted]")
		}
	}
	return q.Encode()
}

// jobStatusReporter exposes the scheduled jobs for the health endpoint
type jobStatusReporter interface {
	GetJobStatus() map[string]interface{}
}

// healthCheckHandler reports database, Redis (when configured) and scheduled job health
func healthCheckHandler(db database.DB, redisClient *redis.Client, jobs jobStatusReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		redisStatus := "disabled"
		if redisClient != nil {
			redisStatus = "healthy"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				// de-duplication degrades to the state machine guard, so this is not fatal
				redisStatus = "unhealthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"redis":     redisStatus,
			"jobs":      jobs.GetJobStatus(),
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
