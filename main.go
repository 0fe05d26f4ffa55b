package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/tahahasan7/yalla-server/api/rest"
	"github.com/tahahasan7/yalla-server/api/sse"
	apows "github.com/tahahasan7/yalla-server/api/ws"
	"github.com/tahahasan7/yalla-server/audit"
	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/config"
	dbadapter "github.com/tahahasan7/yalla-server/db"
	"github.com/tahahasan7/yalla-server/feed"
	"github.com/tahahasan7/yalla-server/goal"
	"github.com/tahahasan7/yalla-server/logger"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/model"
	"github.com/tahahasan7/yalla-server/scheduler"
	"github.com/tahahasan7/yalla-server/social/friendship"
	"github.com/tahahasan7/yalla-server/storage"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	zlog, err := logger.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		zlog.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	zlog.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, zlog)
	defer auditSvc.Stop(nil)

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cache.CacheConfig(cfg.Cache))
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cache.CacheConfig(cfg.Cache))
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}

	// ---- Changefeed ----
	changes := changefeed.NewPublisher(pubsub, zlog)

	// ---- WS registry + router ----
	registry := apows.NewRegistry(zlog)
	defer registry.CloseAll()
	wsRouter := apows.NewRouter(zlog)
	wsRouter.On("ping", func(_ context.Context, s *apows.UserSession, _ json.RawMessage) error {
		s.Send(&apows.Packet{Type: "pong"})
		return nil
	})

	// ---- Services ----
	friendSvc := friendship.NewService(db, changes, registry, zlog)
	feedSvc := feed.NewService(db, c, zlog, cfg.Social.FeedSize)
	goalSvc := goal.NewService(db, c, changes, zlog, cfg.Social.FeedSize)

	// ---- Photo storage ----
	var photos storage.PhotoStore
	if cfg.Storage.Bucket != "" {
		gcs, err := storage.NewGCSStore(context.Background(), cfg.Storage.Bucket, cfg.Storage.UploadTTL)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		defer gcs.Close()
		photos = gcs
	} else {
		zlog.Warn("storage.bucket is not set; photo uploads are held in memory only")
		photos = storage.NewFakeStore()
	}

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(zlog)
	defer sched.Stop()
	sched.AddTicker("streak_rebuild", time.Hour, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := feedSvc.RebuildStreaks(ctx); err != nil {
			zlog.Error("streak rebuild failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(zlog), mw.Recovery(zlog))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	usersH := apirest.NewUsersHandler(db, friendSvc, changes, cfg.Social.SearchLimit)
	friendsH := apirest.NewFriendsHandler(friendSvc, auditSvc)
	goalsH := apirest.NewGoalsHandler(goalSvc, photos)
	feedH := apirest.NewFeedHandler(feedSvc, cfg.Social.StreakTop)
	adminH := apirest.NewAdminHandler(db, registry, sched, zlog)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		authed := api.Group("")
		authed.Use(mw.Auth(cfg.Security, c))

		authed.GET("/users/me", usersH.Me)
		authed.PATCH("/users/me", usersH.UpdateProfile)
		authed.GET("/users/search", usersH.Search)

		authed.GET("/friends", friendsH.List)
		authed.GET("/friends/requests", friendsH.Requests)
		authed.GET("/friends/status/:id", friendsH.Status)
		authed.POST("/friends/request", friendsH.Request)
		authed.POST("/friends/accept/:id", friendsH.Accept)
		authed.POST("/friends/decline/:id", friendsH.Decline)
		authed.DELETE("/friends/:id", friendsH.Remove)

		authed.POST("/goals", goalsH.Create)
		authed.GET("/goals", goalsH.List)
		authed.PUT("/goals/:id", goalsH.Update)
		authed.DELETE("/goals/:id", goalsH.Delete)
		authed.GET("/goals/:id/logs", goalsH.Logs)
		authed.POST("/goals/:id/logs", goalsH.LogProgress)
		authed.POST("/goals/upload-url", goalsH.UploadURL)
		authed.GET("/photos/*key", goalsH.Photo)

		authed.GET("/feed", feedH.Recent)
		authed.GET("/streaks", feedH.Streaks)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminAllowedIPs))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/sessions", adminH.ListSessions)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(db, c, pubsub, cfg.Security, registry, wsRouter, zlog)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, zlog)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zlog.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
