package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/config"
	"github.com/smarttransit/payment-service/internal/database"
	"github.com/smarttransit/payment-service/internal/services"
)

// sweep-payments runs the expiry sweep and the purge job once, outside the server.
func main() {
	var (
		dbURLFlag string
		ttl       time.Duration
		retention time.Duration
		batchSize int
		skipPurge bool
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.DurationVar(&ttl, "ttl", 30*time.Minute, "payment TTL; CREATED/PENDING payments older than this are expired")
	flag.DurationVar(&retention, "retention", 48*time.Hour, "EXPIRED payments untouched for longer than this are purged")
	flag.IntVar(&batchSize, "batch-size", 100, "payments expired per batch")
	flag.BoolVar(&skipPurge, "skip-purge", false, "only expire, do not purge")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Build minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		Driver:             os.Getenv("DATABASE_DRIVER"),
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	// No providers or converter: the sweep only closes payments
	engine := services.NewPaymentService(
		database.NewPaymentRepository(db.DB),
		database.NewPaymentTransactionRepository(db.DB, logger),
		database.NewRefundRepository(db.DB),
		services.NewProviderRouter(),
		nil,
		nil,
		logger,
		ttl,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	total := 0
	for {
		n, err := engine.ExpireStale(ctx, batchSize)
		if err != nil {
			log.Fatalf("expire sweep failed: %v", err)
		}
		total += n
		if n < batchSize {
			break
		}
	}
	fmt.Printf("Expired %d stale payment(s) (ttl %s)\n", total, ttl)

	if skipPurge {
		return
	}

	purged, err := engine.PurgeExpired(ctx, retention)
	if err != nil {
		log.Fatalf("purge failed: %v", err)
	}
	fmt.Printf("Purged %d expired payment(s) older than %s\n", purged, retention)
}
