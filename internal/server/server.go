package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradersutopia/billingd/internal/access"
	"github.com/tradersutopia/billingd/internal/backup"
	"github.com/tradersutopia/billingd/internal/handler"
	"github.com/tradersutopia/billingd/internal/ingest"
	"github.com/tradersutopia/billingd/internal/middleware"
	"github.com/tradersutopia/billingd/internal/notify"
	"github.com/tradersutopia/billingd/internal/reconcile"
	"github.com/tradersutopia/billingd/internal/store"
	"github.com/tradersutopia/billingd/internal/stream"
	"github.com/tradersutopia/billingd/internal/stripeclient"
)

// Config carries everything the server needs beyond its dependencies.
type Config struct {
	// APISecret guards the internal API endpoints.
	APISecret string
	// AllowedProducts is the product allowlist for access decisions. An
	// empty list admits any product.
	AllowedProducts []string
	// TokenSecret signs entitlement tokens. Optional.
	TokenSecret string
	// VAPIDPublicKey and VAPIDPrivateKey enable web push when both set.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// PushSubscriber is the contact address advertised to push services.
	PushSubscriber string
}

// Server wires the billing service together: stores, reconciler,
// evaluator, ingestor, and the HTTP surface.
type Server struct {
	db    *sql.DB
	hub   *stream.Hub
	cache *access.Cache

	accounts *store.AccountStore
	backups  *store.BackupStore

	evaluator *access.Evaluator
	ingestor  *ingest.Ingestor
	notifier  *notify.Service

	webhookH      *handler.WebhookHandler
	accessH       *handler.AccessHandler
	billingH      *handler.BillingHandler
	pushH         *handler.PushHandler
	notificationH *handler.NotificationHandler
	backupH       *handler.BackupHandler

	apiSecret string
	logger    *slog.Logger
}

func New(db *sql.DB, stripeClient *stripeclient.Client, backupMgr *backup.Manager, cfg Config, logger *slog.Logger) *Server {
	hub := stream.NewHub(logger.With("component", "stream"))

	accounts := store.NewAccountStore(db)
	subs := store.NewSubscriptionStore(db)
	events := store.NewEventStore(db)
	pushSubs := store.NewPushSubscriptionStore(db)
	notifications := store.NewNotificationStore(db)
	backups := store.NewBackupStore(db)

	var sender *notify.WebPushSender
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		sender = notify.NewWebPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushSubscriber)
	}
	notifier := notify.NewService(sender, pushSubs, notifications, logger.With("component", "notify"))

	var tokens *access.TokenIssuer
	if cfg.TokenSecret != "" {
		tokens = access.NewTokenIssuer(cfg.TokenSecret, "tradersutopia-billingd")
	}

	cache := access.NewCache(access.DefaultCacheWindow)
	evaluator := access.NewEvaluator(accounts, subs, cache, tokens, cfg.AllowedProducts, logger.With("component", "access"))

	reconciler := reconcile.New(accounts, subs, stripeClient, logger.With("component", "reconcile"))
	ingestor := ingest.New(events, reconciler, evaluator, notifier, hub, logger.With("component", "ingest"))

	return &Server{
		db:            db,
		hub:           hub,
		cache:         cache,
		accounts:      accounts,
		backups:       backups,
		evaluator:     evaluator,
		ingestor:      ingestor,
		notifier:      notifier,
		webhookH:      handler.NewWebhookHandler(stripeClient, ingestor, logger.With("component", "webhook")),
		accessH:       handler.NewAccessHandler(evaluator, logger.With("component", "access_handler")),
		billingH:      handler.NewBillingHandler(stripeClient, accounts, logger.With("component", "billing")),
		pushH:         handler.NewPushHandler(accounts, pushSubs, sender, logger.With("component", "push")),
		notificationH: handler.NewNotificationHandler(accounts, notifications, logger.With("component", "notifications")),
		backupH:       handler.NewBackupHandler(backupMgr, backups, logger.With("component", "backup_handler")),
		apiSecret:     cfg.APISecret,
		logger:        logger,
	}
}

// Cache exposes the decision cache for the maintenance loop.
func (s *Server) Cache() *access.Cache {
	return s.cache
}

// Hub exposes the event stream hub.
func (s *Server) Hub() *stream.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Webhook and health are authenticated by signature and not at all,
	// respectively.
	outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/access/{ref}", s.accessH.Get)
	apiMux.HandleFunc("POST /api/checkout", s.billingH.CreateCheckoutSession)
	apiMux.HandleFunc("POST /api/billing-portal", s.billingH.BillingPortal)
	apiMux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	apiMux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	apiMux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDPublicKey)
	apiMux.HandleFunc("GET /api/notifications/{ref}", s.notificationH.List)
	apiMux.HandleFunc("GET /api/events/stream", stream.Handler(s.hub, s.logger.With("component", "stream")))
	apiMux.HandleFunc("POST /api/admin/backups", s.backupH.Run)
	apiMux.HandleFunc("GET /api/admin/backups", s.backupH.List)
	apiMux.HandleFunc("GET /api/admin/backups/status", s.backupH.Status)

	auth := middleware.RequireBearer(s.apiSecret)
	outerMux.Handle("/api/", auth(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
