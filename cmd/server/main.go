package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agendapro/agenda-api/internal/api"
	"agendapro/agenda-api/internal/config"
	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/notify"
	"agendapro/agenda-api/internal/notify/email"
	"agendapro/agenda-api/internal/notify/telegram"
	"agendapro/agenda-api/internal/notify/webpush"
	"agendapro/agenda-api/internal/notify/whatsapp"
	"agendapro/agenda-api/internal/pending"
	"agendapro/agenda-api/internal/repository"
	"agendapro/agenda-api/internal/repository/memory"
	mongorepo "agendapro/agenda-api/internal/repository/mongo"
	"agendapro/agenda-api/internal/repository/sqldb"
	"agendapro/agenda-api/internal/service"
	"agendapro/agenda-api/internal/storage"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/telebot.v3"
)

// @title Agenda Pro API
// @version 1.0
// @description Tutoring plans confirmed remotely by the student's guardian.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Could not load config: %v", err)
	}
	logger.Init(cfg.Log)
	logger.Log.Info("Starting Agenda Pro server...")

	if cfg.Auth.JWTSecret == "" {
		logger.Log.Fatal("auth.jwt_secret is required")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Database Connection ---
	var mongoClient *mongo.Client
	var appDB *mongo.Database
	if cfg.Database.Driver == "mongo" || cfg.Pending.Backend == "mongo" {
		mongoClient, err = mongorepo.ConnectDB(ctx, cfg.Database.URI)
		if err != nil {
			logger.Log.Fatalf("Could not connect to MongoDB: %v", err)
		}
		defer func() {
			logger.Log.Info("Disconnecting MongoDB...")
			if err := mongorepo.DisconnectDB(mongoClient); err != nil {
				logger.Log.Errorf("Failed to disconnect MongoDB: %v", err)
			}
		}()
		appDB = mongoClient.Database(cfg.Database.Name)
		go func() {
			indexCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			mongorepo.EnsureIndexes(indexCtx, appDB)
		}()
		logger.Log.Info("MongoDB connection established")
	}

	// --- Initialize Repositories ---
	var (
		planRepo    repository.PlanRepository
		contactRepo repository.ContactRepository
	)
	switch cfg.Database.Driver {
	case "memory":
		planRepo = memory.NewPlanRepository()
		contactRepo = memory.NewContactRepository()
		logger.Log.Warn("Using in-memory storage, data is lost on restart")
	case "mongo":
		planRepo = mongorepo.NewMongoPlanRepository(appDB)
		contactRepo = mongorepo.NewMongoContactRepository(appDB)
	case "postgres", "sqlite":
		db, err := sqldb.Open(ctx, sqldb.Dialect(cfg.Database.Driver), cfg.Database.URI)
		if err != nil {
			logger.Log.Fatalf("Could not open %s database: %v", cfg.Database.Driver, err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Log.Fatalf("Could not migrate %s database: %v", cfg.Database.Driver, err)
		}
		planRepo = sqldb.NewPlanRepository(db)
		contactRepo = sqldb.NewContactRepository(db)
	default:
		logger.Log.Fatalf("Unknown database driver %q", cfg.Database.Driver)
	}

	// --- Pending registries ---
	var (
		approvalStore  pending.Store[domain.PlanDraft]
		signatureStore pending.Store[domain.SignatureRequest]
	)
	switch cfg.Pending.Backend {
	case "mongo":
		approvalStore = mongorepo.NewMongoPendingStore[domain.PlanDraft](appDB, mongorepo.PlanApprovalCollectionName)
		signatureStore = mongorepo.NewMongoPendingStore[domain.SignatureRequest](appDB, mongorepo.ClassSignatureCollectionName)
	default:
		approvalStore = pending.NewMemoryStore[domain.PlanDraft]()
		signatureStore = pending.NewMemoryStore[domain.SignatureRequest]()
	}
	approvals := pending.NewRegistry(domain.KindPlanApproval, approvalStore, cfg.Pending.TTL)
	signatures := pending.NewRegistry(domain.KindClassSignature, signatureStore, cfg.Pending.TTL)

	// --- Notification channels ---
	var notifiers []notify.Notifier
	pushPublicKey := ""
	if cfg.Push.Enabled() {
		sender := webpush.New(cfg.Push, nil)
		pushPublicKey = sender.PublicKey()
		notifiers = append(notifiers, sender)
	} else {
		logger.Log.Warn("Web push disabled: VAPID keys are not configured")
	}

	var waSender *whatsapp.Sender
	if cfg.WhatsApp.Enabled() {
		waSender, err = whatsapp.New(cfg.WhatsApp)
		if err != nil {
			logger.Log.Warnf("WhatsApp disabled: %v", err)
			waSender = nil
		} else {
			notifiers = append(notifiers, waSender)
		}
	} else {
		logger.Log.Warn("WhatsApp disabled: Twilio credentials are not configured")
	}

	var bot *telebot.Bot
	if cfg.Telegram.Enabled() {
		bot, err = telegram.NewBot(cfg.Telegram.Token)
		if err != nil {
			logger.Log.Warnf("Telegram disabled: %v", err)
			bot = nil
		} else {
			notifiers = append(notifiers, telegram.NewSender(bot))
		}
	} else {
		logger.Log.Warn("Telegram disabled: bot token is not configured")
	}

	if cfg.Email.Enabled() {
		notifiers = append(notifiers, email.New(cfg.Email.ResendAPIKey, cfg.Email.From))
	} else {
		logger.Log.Warn("Email disabled: Resend is not configured")
	}

	if len(notifiers) == 0 {
		logger.Log.Warn("No notification channel is configured; confirmation requests will fail")
	}
	builder := notify.NewMessageBuilder(cfg.Public.BaseURL, cfg.Public.TutorName)
	dispatcher := notify.NewDispatcher(contactRepo, approvals, signatures, builder, notifiers...)

	// --- Decision archive ---
	var objects storage.ObjectStorage
	switch {
	case cfg.S3.Enabled():
		objects, err = storage.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			logger.Log.Warnf("Decision archive disabled: %v", err)
			objects = nil
		}
	case cfg.Database.Driver == "memory":
		objects = storage.NewMemoryStorage("agenda-receipts")
	default:
		logger.Log.Warn("Decision archive disabled: S3 is not configured")
	}
	archive := service.NewDecisionArchive(objects)

	// --- Initialize Services ---
	locks := service.NewKeyedLocks()
	authService, err := service.NewAuthService(cfg.Auth.OperatorUsername, cfg.Auth.OperatorPassword, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)
	if err != nil {
		logger.Log.Fatalf("Could not initialize auth: %v", err)
	}
	planService := service.NewPlanService(planRepo, contactRepo, approvals, signatures, dispatcher, locks)
	resolver := service.NewResolver(planRepo, approvals, signatures, archive, locks)
	contactService := service.NewContactService(contactRepo, dispatcher, cfg.WhatsApp.DefaultCountryCode)

	// --- Pending sweeper ---
	sweeper := pending.NewSweeper(cfg.Pending.SweepSchedule, time.Minute)
	sweeper.Add("plan-approvals", planService.ExpireApprovals)
	sweeper.Add("class-signatures", planService.ExpireSignatures)
	if err := sweeper.Start(); err != nil {
		logger.Log.Fatalf("Could not start pending sweeper: %v", err)
	}
	defer sweeper.Stop()

	// --- Telegram bot ---
	if bot != nil {
		telegram.RegisterBotHandlers(ctx, bot, telegram.NewHandlers(contactService, resolver))
		go bot.Start()
		defer bot.Stop()
		logger.Log.Info("Telegram bot polling started")
	}

	// --- Initialize Gin Engine ---
	if cfg.Log.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())

	deps := api.Deps{
		JWTSecret:     cfg.Auth.JWTSecret,
		Auth:          authService,
		Plans:         planService,
		Resolver:      resolver,
		Contacts:      contactService,
		Archive:       archive,
		PushPublicKey: pushPublicKey,
	}
	if waSender != nil {
		deps.WhatsApp = waSender
	}
	api.SetupRoutes(router, deps)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.Infof("Server starting on %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("ListenAndServe error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Log.Info("Server exiting.")
}
