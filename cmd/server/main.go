package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"banknet/internal/handler"
	"banknet/internal/middleware"
	"banknet/internal/repository/postgres"
	"banknet/internal/risk"
	"banknet/internal/sim"
	"banknet/internal/strategic"
	"banknet/internal/stream"
	"banknet/pkg/cache"
	"banknet/pkg/config"
	"banknet/pkg/logger"
	"banknet/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("banknet-server")

	// Run archive is optional; the simulator is fully functional in-memory.
	var archive sim.Archive
	var runHandler *handler.RunHandler
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatal("failed to connect to database", map[string]interface{}{"error": err.Error()})
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer db.Close()

		archive = postgres.NewRunArchive(db)
		runHandler = handler.NewRunHandler(postgres.NewRunRepository(db), postgres.NewEventRepository(db), log)
		log.Info("run archive enabled", nil)
	} else {
		log.Warn("DATABASE_URL not set, runs will not be archived", nil)
	}

	var snapshotCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		c, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect to redis", map[string]interface{}{"error": err.Error()})
		}
		defer c.Close()
		snapshotCache = c
		log.Info("snapshot cache enabled", nil)
	}

	hub := stream.NewHub(log)
	go hub.Run()

	// Advisors are consulted in order; the rule-based assessor is always the
	// last resort before the built-in ladder.
	var advisors []sim.Advisor
	if cfg.Advisor.StrategicURL != "" {
		advisors = append(advisors, strategic.NewClient(cfg.Advisor.StrategicURL, cfg.Advisor.Timeout))
		log.Info("strategic advisor enabled", map[string]interface{}{"url": cfg.Advisor.StrategicURL})
	}
	advisors = append(advisors, risk.NewEngine())

	var sc summaryCache
	if snapshotCache != nil {
		sc = snapshotCache
	}
	publisher := newCachingPublisher(hub, sc, log)
	manager := sim.NewManager(publisher, archive, advisors, cfg.Advisor.Timeout, log)

	sessionHandler := handler.NewSessionHandler(manager, validator.New(), snapshotCacheOrNil(snapshotCache), log)

	r := mux.NewRouter()
	logging := middleware.NewLoggingMiddleware(log)
	r.Use(middleware.CORS)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(logging.Log)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	r.HandleFunc("/ws", hub.HandleWS)

	api := r.PathPrefix("/api/v1").Subrouter()
	sessionHandler.RegisterRoutes(api)
	if runHandler != nil {
		runHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server starting", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

// snapshotCacheOrNil keeps the handler's cache interface a true nil when the
// cache is disabled, instead of a typed nil that would defeat the nil check.
func snapshotCacheOrNil(c *cache.RedisCache) handler.SnapshotCache {
	if c == nil {
		return nil
	}
	return c
}
