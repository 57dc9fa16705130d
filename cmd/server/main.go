package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talentscreen-backend/internal/config"
	"talentscreen-backend/internal/database"
	"talentscreen-backend/internal/handlers"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/repository"
	"talentscreen-backend/internal/router"
	"talentscreen-backend/internal/services"
	"talentscreen-backend/internal/websocket"
	"talentscreen-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting TalentScreen Backend...")
	ctx := context.Background()

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("✗ Assessment policy invalid: %v", err)
	}
	log.Printf("✓ Assessment policy loaded (mcq %ds, voice %ds)", policy.MCQDurationSec, policy.VoiceDurationSec)

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.DefaultPoolSettings())
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL, cfg.WorkerCount)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	applied, err := database.RunMigrations(ctx, pool, "migrations")
	if err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Printf("✓ Database migrations applied (%d new)", applied)

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)
	questionRepo := repository.NewQuestionRepo(pool)
	answerRepo := repository.NewAnswerRepo(pool)
	recordingRepo := repository.NewRecordingRepo(pool)
	violationRepo := repository.NewViolationRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Step 5: Initialize Voice Answer Checker ────
	var checker services.AnswerChecker = services.DefaultHeuristic()
	if cfg.GeminiAPIKey != "" {
		transcriber, err := services.NewGeminiTranscriber(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs)
		if err != nil {
			log.Fatalf("✗ Gemini client initialization failed: %v", err)
		}
		defer transcriber.Close()
		checker = transcriber
		log.Println("✓ Gemini transcription enabled")
	} else {
		log.Println("✓ Voice answers checked heuristically (no GEMINI_API_KEY)")
	}

	// ──── Initialize Services ────
	store := services.NewDiskStore(cfg.StoragePath, int64(cfg.MaxUploadMB)<<20)
	events := services.NewRedisEvents(redisClients.Queue)
	cache := services.NewValidationCache(redisClients.Queue)
	jobQueue := services.NewJobQueue(jobRepo, redisClients.Queue)

	assessmentService := services.NewAssessmentService(services.AssessmentDeps{
		Sessions:   sessionRepo,
		Questions:  questionRepo,
		Answers:    answerRepo,
		Recordings: recordingRepo,
		Violations: violationRepo,
		Jobs:       jobQueue,
		Events:     events,
		Cache:      cache,
		Files:      store,
		Checker:    checker,
		Policy:     policy,
	})

	jwtAuth := middleware.NewJWTAuth(cfg.RecruiterJWTSecret)
	sessionTokens := middleware.NewSessionTokens(cfg.SessionTokenSecret)

	// ──── Initialize Handlers ────
	assessmentHandler := handlers.NewAssessmentHandler(assessmentService, sessionTokens, cfg.MaxUploadMB)
	jobHandler := handlers.NewJobHandler(jobRepo)

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, jobRepo, recordingRepo, store, events, cfg.WorkerCount)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	sweeper := services.NewExpirySweeper(sessionRepo, cache, events, policy, cfg.SweepInterval())
	sweeper.Start()
	log.Println("✓ Expiry sweeper started")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(jwtAuth, sessionTokens, assessmentHandler, jobHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Minute, // recording uploads
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()
		sweeper.Stop()
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ TalentScreen Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
