package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/fanout"
	fanoutmemory "github.com/supportchat/internal/fanout/memory"
	fanoutnats "github.com/supportchat/internal/fanout/nats"
	fanoutredis "github.com/supportchat/internal/fanout/redis"
	"github.com/supportchat/internal/handler"
	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/repository"
	"github.com/supportchat/internal/service"
	"github.com/supportchat/internal/startup"
	"github.com/supportchat/internal/storage"
	storagememory "github.com/supportchat/internal/storage/memory"
	"github.com/supportchat/internal/ws"
	"github.com/supportchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and demo data (no external services required)")
	flag.Parse()

	logger.Info("starting support chat API")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
		// External brokers make no sense against a throwaway database.
		cfg.FanoutDriver = "memory"
		cfg.SessionStore = "memory"
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var sessions storage.SessionStore
	switch cfg.SessionStore {
	case "redis":
		sessions = startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second)
	default:
		sessions = storagememory.New()
	}
	defer sessions.Close()

	var broker fanout.Broker
	switch cfg.FanoutDriver {
	case "redis":
		brokerCtx, brokerCancel := context.WithTimeout(context.Background(), 10*time.Second)
		broker, err = fanoutredis.New(brokerCtx, cfg.RedisURL)
		brokerCancel()
	case "nats":
		broker, err = fanoutnats.New(cfg.NATSURL)
	default:
		broker = fanoutmemory.New()
	}
	if err != nil {
		logger.Errorf("fanout broker (%s): %v", cfg.FanoutDriver, err)
		os.Exit(1)
	}
	defer broker.Close()
	logger.Infof("fanout driver: %s", cfg.FanoutDriver)

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)

	provider := identity.NewPGProvider(userRepo)
	msgSvc := service.NewMessageService(msgRepo, roomRepo, provider, broker)
	roomSvc := service.NewRoomService(roomRepo, msgRepo, provider, provider)

	if *dev {
		if err := seedDemoData(pool, sessions); err != nil {
			logger.Errorf("seed demo data: %v", err)
			os.Exit(1)
		}
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(roomRepo, provider, msgSvc, broker, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	roomH := handler.NewRoomHandler(roomSvc)
	msgH := handler.NewMessageHandler(msgSvc, roomRepo, provider)
	userH := handler.NewUserHandler(userRepo, provider)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket traffic: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))

		r.Get("/api/users/me", userH.GetMe)

		r.Post("/api/chat/room", roomH.GetOrCreate)
		r.Get("/api/chat/rooms/{id}/messages", msgH.ListMessages)
		r.Post("/api/chat/rooms/{id}/messages", msgH.Send)
		r.Post("/api/chat/rooms/{id}/read", msgH.MarkAsRead)
		r.Get("/api/chat/rooms/{id}/unread", msgH.UnreadCount)

		r.Get("/api/admin/users", userH.ListUsers)
		r.Get("/api/admin/chat/rooms", roomH.ListRooms)
		r.Post("/api/admin/chat/rooms", roomH.CreateForUser)
		r.Post("/api/admin/chat/rooms/{id}/assign", roomH.AssignAdmin)
		r.Post("/api/admin/chat/rooms/{id}/close", roomH.CloseRoom)

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(entries)
	for _, name := range entries {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "supportchat"
		password = "supportchat_secret"
		database = "supportchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}

// seedDemoData creates a demo customer and a demo admin with fixed session
// tokens so a fresh -dev instance is immediately usable from curl or the
// browser console.
func seedDemoData(pool *pgxpool.Pool, sessions storage.SessionStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const q = `
		INSERT INTO users (id, email, display_name, is_admin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	if _, err := pool.Exec(ctx, q, "demo-user", "user@example.com", "Demo Customer", false); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	if _, err := pool.Exec(ctx, q, "demo-admin", "admin@example.com", "Demo Admin", true); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	const ttl = 24 * time.Hour
	if err := sessions.SetSession(ctx, "demo-user-token", "demo-user", ttl); err != nil {
		return fmt.Errorf("seed user session: %w", err)
	}
	if err := sessions.SetSession(ctx, "demo-admin-token", "demo-admin", ttl); err != nil {
		return fmt.Errorf("seed admin session: %w", err)
	}
	logger.Info("demo data ready (X-Session-Id: demo-user-token / demo-admin-token)")
	return nil
}
