package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"courseTutor/config"
	"courseTutor/core"
	"courseTutor/llm"
	"courseTutor/processors"
	"courseTutor/qa"
	"courseTutor/quiz"
	"courseTutor/rag"
	"courseTutor/server"
	"courseTutor/storage"
	"courseTutor/summary"
)

// lexicalBackend is everything the services need from the chunk store.
type lexicalBackend interface {
	ReplaceChunks(ctx context.Context, video core.Video, chunks []core.Chunk) error
	DeleteVideo(ctx context.Context, videoID string) error
	Search(ctx context.Context, query string, topK int, scope core.Scope) ([]core.Hit, error)
	ExistingChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error)
	VideoChunks(ctx context.Context, videoID string, limit int) ([]core.Hit, error)
	ListVideos(ctx context.Context, chapter string) ([]core.Video, error)
	ListChapters(ctx context.Context) ([]string, error)
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := llm.New(cfg, log)

	vector, err := storage.NewVectorStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("vector store", zap.Error(err))
	}
	defer vector.Close(context.Background())

	var lexical lexicalBackend
	var sessions storage.SessionStore
	if cfg.Store == "memory" {
		lexical = storage.NewMemoryLexicalStore()
		sessions = storage.NewMemorySessionStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
		defer pool.Close()
		lexical, err = storage.NewLexicalStore(ctx, pool, log)
		if err != nil {
			log.Fatal("lexical store", zap.Error(err))
		}
		sessions, err = storage.NewPgSessionStore(ctx, pool)
		if err != nil {
			log.Fatal("session store", zap.Error(err))
		}
	}

	cache := storage.NewSummaryCache(cfg.RedisAddr, log)
	locks := storage.NewVideoLocks()

	indexer := processors.NewIndexer(client, vector, lexical, locks, cache, cfg, log)
	pipeline := processors.NewPipeline(client, indexer, log)

	retriever := rag.NewRetriever(client, lexical, vector, locks, cfg, log)
	reranker := rag.NewReranker(rag.NewLLMScorer(client), cfg, log)

	answers := qa.NewSynthesizer(retriever, reranker, client, sessions, cfg, log)
	summaries := summary.NewService(lexical, client, cache, locks, cfg, log)
	quizzes := quiz.NewService(lexical, client, sessions, locks, cfg, log)

	handlers := server.NewHandlers(pipeline, indexer, answers, summaries, quizzes, lexical, sessions, log)
	router := server.NewRouter(handlers, log)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
