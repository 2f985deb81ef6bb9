package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tarot_reading_go_backend/cmd/api/config"
	"tarot_reading_go_backend/internal/api"
	"tarot_reading_go_backend/internal/auth"
	"tarot_reading_go_backend/internal/database"
	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/services"
	"tarot_reading_go_backend/internal/utils/broker"
	"tarot_reading_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	ctx := context.Background()
	m := metrics.New()

	var mirror services.BackupMirror
	if cfg.GCSBucketName != "" {
		gcsService, err := services.NewGCSService(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS service")
		}
		defer gcsService.Close()
		mirror = services.NewGCSBackupMirror(gcsService, cfg.GCSBucketName, services.DefaultBackupPrefix, cfg.BackupRetention)
		log.Info().Str("bucket", cfg.GCSBucketName).Msg("Mirroring backups to Cloud Storage")
	}

	store, err := openStore(cfg, mirror, m)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to open session store")
	}

	var openAI, gemini services.ChatCompleter
	if cfg.OpenAIAPIKey != "" {
		openAI = services.NewOpenAIChatClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	} else {
		log.Warn().Msg("OPENAI_API_KEY is not set, OpenAI models are unavailable")
	}
	if cfg.GeminiAPIKey != "" {
		geminiClient, err := services.NewGeminiChatClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GenAI client")
		}
		defer geminiClient.Close()
		gemini = geminiClient
	}
	llm := services.NewLLMRouter(openAI, gemini, m)

	cards := services.NewCardLibrary(cfg.ImagesDir)
	pdfService := services.NewPDFService(cfg.PDFDir, cards, cfg.PDFFontPath)
	messageBroker := broker.NewBroker()

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Store:      store,
		Generator:  services.NewReadingGenerator(llm, store),
		Premium:    services.NewPremiumService(llm, store, m),
		Compositor: services.NewCompositeService(cards),
		PDF:        pdfService,
		Cards:      cards,
		Events:     messageBroker,
		Metrics:    m,
	})

	cleanup := services.NewPDFCleanupService(cfg.PDFDir, cfg.PDFRetention, cfg.PDFCleanupInterval, m)
	cleanup.Start()

	authenticator := auth.NewAuthenticator(cfg.AdminJWTSecret, cfg.AdminPassword, cfg.AdminTokenTTL)
	if !authenticator.Enabled() {
		log.Warn().Msg("ADMIN_JWT_SECRET is not set, admin routes are unprotected")
	}

	stripeService := services.NewStripeService(services.StripeSettings{
		PublicKey:     cfg.StripePublicKey,
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Amount:        cfg.StripePriceAmount,
		Currency:      cfg.StripeCurrency,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	api.SetupRoutes(r, api.Dependencies{
		Orchestrator: orchestrator,
		Cards:        cards,
		PDF:          pdfService,
		Auth:         authenticator,
		Stripe:       stripeService,
		Metrics:      m,
		AdminWS:      wsocket.NewHandler(upgrader, messageBroker, 30*time.Second),
		URLs:         api.BaseURL{Public: cfg.PublicBaseURL, Production: cfg.IsProduction()},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}
	messageBroker.Close()
	cleanup.Stop()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close session store")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func openStore(cfg *config.Config, mirror services.BackupMirror, m *metrics.Metrics) (services.SessionStore, error) {
	switch cfg.StoreDriver {
	case "postgres", "sqlite":
		db, err := database.InitDB(database.Settings{
			Driver:     cfg.StoreDriver,
			Host:       cfg.DBHost,
			User:       cfg.DBUser,
			Password:   cfg.DBPassword,
			Name:       cfg.DBName,
			Port:       cfg.DBPort,
			SQLitePath: cfg.SQLitePath,
		})
		if err != nil {
			return nil, err
		}
		return services.NewGormStore(db, m), nil
	default:
		return services.OpenJSONStore(services.JSONStoreOptions{
			DataDir:         cfg.DataDir,
			FallbackDir:     cfg.FallbackDataDir,
			BackupRetention: cfg.BackupRetention,
			Mirror:          mirror,
			Metrics:         m,
		}), nil
	}
}
