package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/courseforge/courseforge-api/internal/config"
	"github.com/courseforge/courseforge-api/internal/database"
	"github.com/courseforge/courseforge-api/internal/handler"
	"github.com/courseforge/courseforge-api/internal/middleware"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/observability"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/internal/router"
	"github.com/courseforge/courseforge-api/internal/service"
	"github.com/courseforge/courseforge-api/pkg/vcs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Section{},
		&models.Group{},
		&models.Assignment{},
		&models.SectionDueDate{},
		&models.Grouping{},
		&models.Extension{},
		&models.Membership{},
		&models.GracePeriodDeduction{},
		&models.Submission{},
		&models.Criterion{},
		&models.CriterionTaAssociation{},
		&models.TestBatch{},
		&models.TestRun{},
		&models.TestGroup{},
		&models.TestGroupResult{},
		&models.TestResult{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Drain()

	repoProvider := vcs.NewMemoryProvider()
	repoProvider.OnPermissionSync(func() {
		observability.PermissionSyncs().Inc()
	})

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	groupingRepo := repository.NewGroupingRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	testRunRepo := repository.NewTestRunRepository(db)
	testResultRepo := repository.NewTestResultRepository(db)

	groupingService := service.NewGroupingService(groupingRepo, membershipRepo, userRepo, assignmentRepo, submissionRepo, repoProvider, logger)
	taService := service.NewTAAssignmentService(membershipRepo, groupingRepo, userRepo, repoProvider, logger)
	tokenService := service.NewTokenService(groupingRepo, membershipRepo, testRunRepo, cfg.TokenBufferTime, logger)
	testRunService := service.NewTestRunService(testRunRepo, membershipRepo, userRepo, repoProvider, natsConn, cfg.TestRunSubject, redisClient, cfg.HistoryCacheTTL, logger)
	testResultService := service.NewTestResultService(assignmentRepo, groupRepo, submissionRepo, testResultRepo, logger)
	policyService := service.NewPolicyService(groupingService, tokenService)

	groupingHandler := handler.NewGroupingHandler(groupingService, taService, tokenService, testRunService, policyService, userRepo, validate, logger)
	testResultHandler := handler.NewTestResultHandler(testResultService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GroupingHandler:   groupingHandler,
		TestResultHandler: testResultHandler,
		AssignmentRepo:    assignmentRepo,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
