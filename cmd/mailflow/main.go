package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/database"
	"mailflow-go/internal/handler"
	"mailflow-go/internal/llm"
	"mailflow-go/internal/lock"
	"mailflow-go/internal/mailbox"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/queue"
	"mailflow-go/internal/repository"
	"mailflow-go/internal/scheduler"
	"mailflow-go/internal/sender"
	"mailflow-go/internal/service"
	"mailflow-go/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Mailflow Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := database.InitDatabase(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	m := metrics.NewMetrics()

	var mb mailbox.Client
	if cfg.Mailbox.UseIMAP {
		mb, err = mailbox.NewIMAPClient(&cfg.Mailbox)
		if err != nil {
			logrus.Fatalf("Failed to create IMAP mailbox client: %v", err)
		}
		logrus.Info("Using IMAP mailbox provider")
	} else {
		mb = mailbox.NewHTTPClient(&cfg.Mailbox, cfg.Pipeline.MaxRetries)
		logrus.Info("Using HTTP mailbox provider")
	}
	defer mb.Close()

	llmClient := llm.NewClient(&cfg.LLM)

	var replySender service.ReplySender
	if cfg.Gmail.Enabled {
		gm, err := sender.NewGmailSender(&cfg.Gmail)
		if err != nil {
			logrus.Fatalf("Failed to create Gmail sender: %v", err)
		}
		replySender = gm
		logrus.Info("Gmail reply transport enabled")
	}

	workspaces := repository.NewWorkspaceRepository(db)
	importJobs := repository.NewImportJobRepository(db)
	staging := repository.NewStagingRepository(db)
	rules := repository.NewSenderRuleRepository(db)
	conversations := repository.NewConversationRepository(db)
	faqs := repository.NewFAQRepository(db)
	drafts := repository.NewDraftRepository(db)
	deadLetters := repository.NewDeadLetterRepository(db)

	q := queue.New(db)
	locks := lock.New(db, hostHolder())

	importer := service.NewImporter(&cfg.Pipeline, mb, importJobs, staging, locks, q, m)
	classifier := service.NewClassifier(&cfg.Pipeline, llmClient, staging, rules, importJobs, q, m)
	consolidator := service.NewConsolidator(&cfg.Pipeline, llmClient, faqs, locks, q, m)
	voice := service.NewVoiceService(&cfg.Pipeline, llmClient, staging, workspaces, m)
	drafter := service.NewDrafter(llmClient, conversations, drafts, workspaces, replySender, m)
	webhook := service.NewWebhookService(cfg.Mailbox.WebhookSecret, workspaces, conversations, mb, q, m)

	dispatcher := worker.NewDispatcher(&cfg.Pipeline, q, importer, classifier, consolidator, voice, drafter, conversations, m)
	sched := scheduler.NewScheduler(&cfg.Scheduler, workspaces, importJobs, q, locks)

	handlers := handler.NewHandlers(db, q, workspaces, importJobs, rules, faqs, deadLetters, webhook, consolidator, drafter)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	dispatcher.Start()
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	dispatcher.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped")
}

// hostHolder identifies this process as a lock holder
func hostHolder() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "mailflow"
	}
	return hostname + "-" + uuid.New().String()[:8]
}
