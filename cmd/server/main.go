// Package main runs the conferencing control-plane HTTP server: account
// auth, the signaling websocket, the media worker pool, and the recording
// controller, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wirow-io/wirow-server-sub001/config"
	"github.com/wirow-io/wirow-server-sub001/internal/auth"
	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/middleware"
	"github.com/wirow-io/wirow-server-sub001/internal/recording"
	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/internal/signaling"
	"github.com/wirow-io/wirow-server-sub001/internal/workerpool"
	"github.com/wirow-io/wirow-server-sub001/pkg/database"
	"github.com/wirow-io/wirow-server-sub001/pkg/queue"
	"github.com/wirow-io/wirow-server-sub001/pkg/redis"
	"github.com/wirow-io/wirow-server-sub001/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Media graph: registry + event bus + worker-pool bootstrap.
	reg := registry.New(logger)
	bus := rpc.NewEventBus()
	graph := mediagraph.NewGraph(reg, bus, logger)

	resolver := rpc.NewUUIDResolver()
	workerPool, err := workerpool.Spawn(workerpool.Config{
		Size:         cfg.Worker.PoolSize,
		BinaryPath:   cfg.Worker.BinaryPath,
		RTCMinPort:   cfg.Worker.RTCMinPort,
		RTCMaxPort:   cfg.Worker.RTCMaxPort,
		DTLSCertFile: cfg.WebRTC.DTLSCert,
		DTLSKeyFile:  cfg.WebRTC.DTLSKey,
	}, graph, bus, resolver, logger)
	if err != nil {
		logger.Fatal("spawn media workers", zap.Error(err))
	}
	defer workerPool.KillAll()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingSvc := recording.NewService(graph, jobQueue, cfg.Recording.OutputDir, logger)

	// Relay room lifecycle events onto Redis so a process without access to
	// this graph's memory (e.g. a second signaling instance behind the same
	// load balancer) can still observe when a room opens or closes. The room
	// is already gone from the graph by the time EventRoomClosed fires, so
	// its CID is cached from EventRoomCreated instead of looked up fresh.
	redisRelay := rpc.NewRedisRelay(rdb.Client, logger)
	var roomCIDsMu sync.Mutex
	roomCIDs := make(map[uint64]string)
	bus.Subscribe(func(n rpc.Notification) {
		switch n.Kind {
		case rpc.EventRoomCreated:
			if room, ok := graph.RoomByID(n.TargetID); ok {
				roomCIDsMu.Lock()
				roomCIDs[n.TargetID] = room.CID
				roomCIDsMu.Unlock()
				redisRelay.Publish(room.CID, n)
			}
		case rpc.EventRoomClosed:
			roomCIDsMu.Lock()
			cid, ok := roomCIDs[n.TargetID]
			delete(roomCIDs, n.TargetID)
			roomCIDsMu.Unlock()
			if ok {
				redisRelay.Publish(cid, n)
			}
		}
	})

	hub := signaling.NewHub(logger)
	dispatcher := signaling.NewDispatcher(hub, bus)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole("host"), authHandler.List)
	}

	router.GET("/ws", signaling.ServeWs(hub, graph, recordingSvc, dispatcher, jwtValidate, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}
