package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradersutopia/billingd/internal/backup"
	"github.com/tradersutopia/billingd/internal/database"
	"github.com/tradersutopia/billingd/internal/logging"
	"github.com/tradersutopia/billingd/internal/server"
	"github.com/tradersutopia/billingd/internal/store"
	"github.com/tradersutopia/billingd/internal/stripeclient"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	logger := logging.Setup(os.Getenv("BILLING_LOG_LEVEL"), os.Getenv("BILLING_LOG_FORMAT"))

	port := os.Getenv("BILLING_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("BILLING_DB_PATH")
	if dbPath == "" {
		dbPath = "billing.db"
	}

	baseURL := os.Getenv("BILLING_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stripeClient := stripeclient.NewClient(stripeclient.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceID:       os.Getenv("STRIPE_PRICE_ID"),
		AnnualPriceID: os.Getenv("STRIPE_ANNUAL_PRICE_ID"),
		SuccessURL:    baseURL + "/account?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     baseURL + "/pricing",
	})

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BILLING_S3_ENDPOINT"),
			Bucket:    os.Getenv("BILLING_S3_BUCKET"),
			Region:    os.Getenv("BILLING_S3_REGION"),
			AccessKey: os.Getenv("BILLING_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BILLING_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("BILLING_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("BILLING_BACKUP_HOUR", 3),
		RetentionDays: envInt("BILLING_BACKUP_RETENTION_DAYS", 30),
	}, db, store.NewBackupStore(db), logger.With("component", "backup"))

	srv := server.New(db, stripeClient, backupMgr, server.Config{
		APISecret:       os.Getenv("BILLING_API_SECRET"),
		AllowedProducts: splitList(os.Getenv("BILLING_ALLOWED_PRODUCTS")),
		TokenSecret:     os.Getenv("BILLING_TOKEN_SECRET"),
		VAPIDPublicKey:  os.Getenv("BILLING_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("BILLING_VAPID_PRIVATE_KEY"),
		PushSubscriber:  os.Getenv("BILLING_PUSH_SUBSCRIBER"),
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	backupMgr.Start(bgCtx)
	defer backupMgr.Stop()

	// Hourly maintenance: drop expired cache entries.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.Cache().Sweep(); n > 0 {
					slog.Debug("swept expired decisions", "count", n)
				}
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("billing service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
