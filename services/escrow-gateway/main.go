package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/pkg/wallet"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/config"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/handlers"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/middleware"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/services"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. Connect the wallet session
	provider, err := wallet.NewKeyProvider(cfg.SessionPrivateKey, cfg.ChainID)
	if err != nil {
		log.Fatalf("Failed to load session key: %v", err)
	}

	session, err := wallet.Connect(ctx, provider, cfg.ChainID)
	if err != nil {
		log.Fatalf("Failed to connect wallet session: %v", err)
	}
	defer session.Close()
	log.Printf("Wallet session connected: %s (chain %s)", session.Account().Hex(), session.ChainID().String())

	// 3. Initialize the ledger
	var (
		ledger     escrow.Ledger
		watcher    escrow.Watcher
		allowances services.AllowanceReader
		readiness  func() error
	)

	if cfg.MemoryLedger {
		memLedger := escrow.NewMemoryLedger()
		// Seed the session account so local flows can lock funds.
		memLedger.Fund(session.Account(), escrow.NativeToken, big.NewInt(1_000_000_000))
		ledger = memLedger
		watcher = memLedger
		allowances = services.MemoryAllowance{Ledger: memLedger}
		readiness = func() error { return nil }
		log.Println("Running on the in-process memory ledger")
	} else {
		chainLedger, err := services.NewChainLedger(ctx, cfg.EthRPCURL, common.HexToAddress(cfg.EscrowContractAddr), session)
		if err != nil {
			log.Fatalf("Failed to initialize chain ledger: %v", err)
		}
		ledger = chainLedger
		watcher = chainLedger
		allowances = chainLedger
		readiness = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := chainLedger.Client().ChainID(pingCtx)
			return err
		}
	}

	// 4. Initialize services
	cache := services.NewTaskCacheService(ledger, allowances, cfg.CacheTTL, cfg.TaskWindowSize, cfg.FetchTimeout)
	session.OnReset(func() { cache.Invalidate("") })

	var assessor services.ResultAssessor
	if cfg.EvaluatorURL != "" {
		assessor = services.NewRemoteAssessor(cfg.EvaluatorURL, cfg.EvaluatorAPIKey)
	} else {
		log.Println("EVALUATOR_URL not set; every evaluation degrades to manual review")
	}
	evaluations := services.NewEvaluationService(assessor)
	approval := services.NewApprovalService(ledger, cache, evaluations, session, cfg.AutoApproveThreshold)
	escrowService := services.NewEscrowService(ledger, cache, session, approval)

	eventService := services.NewEventService(watcher, cache)
	if err := eventService.Start(ctx); err != nil {
		// Push notifications need a websocket RPC endpoint; the REST
		// surface works without them.
		log.Printf("Task completion watcher unavailable: %v", err)
		eventService = nil
	} else {
		defer eventService.Stop()
	}

	// 5. Initialize handlers
	taskHandler := handlers.NewTaskHandler(escrowService)
	evaluationHandler := handlers.NewEvaluationHandler(approval)
	healthHandler := handlers.NewHealthHandler(readiness)

	var notificationHandler *handlers.NotificationHandler
	if eventService != nil {
		notificationHandler = handlers.NewNotificationHandler(eventService)
	}

	// 6. Setup routes
	router := setupRoutes(taskHandler, evaluationHandler, notificationHandler, healthHandler)

	// 7. Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	log.Printf("EscrowGateway server started on port %s", cfg.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	log.Println("Server exiting")
}

func setupRoutes(
	taskHandler *handlers.TaskHandler,
	evaluationHandler *handlers.EvaluationHandler,
	notificationHandler *handlers.NotificationHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit())

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("/window", taskHandler.GetTaskWindow)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.POST("/:id/complete", taskHandler.CompleteTask)
			tasks.POST("/:id/approve", taskHandler.ApproveTask)
			tasks.POST("/:id/evaluate", evaluationHandler.EvaluateTask)
		}

		v1.GET("/allowance", taskHandler.GetAllowance)

		if notificationHandler != nil {
			v1.GET("/notifications", notificationHandler.GetNotifications)
		}
	}

	return router
}
