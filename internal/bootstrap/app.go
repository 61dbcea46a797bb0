package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	httpHandler "github.com/vijayakanth06/watchtogether-vk/internal/handler/http"
	"github.com/vijayakanth06/watchtogether-vk/internal/infra/setup"
	redisstate "github.com/vijayakanth06/watchtogether-vk/internal/infra/state/redis"
	"github.com/vijayakanth06/watchtogether-vk/internal/middleware"
	"github.com/vijayakanth06/watchtogether-vk/internal/search"
	"github.com/vijayakanth06/watchtogether-vk/internal/service"
	"github.com/vijayakanth06/watchtogether-vk/internal/tasks"
	"github.com/vijayakanth06/watchtogether-vk/internal/worker"
)

// Config 存储从环境变量或 .env 文件加载的配置。
type Config struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string
	ServerPort      string
	LogLevel        string
	AppEnv          string
	YouTubeAPIKey   string
	RateLimitMax    int
	RateLimitWindow time.Duration
	RoomTimeout     time.Duration
	ReaperSchedule  string
	ThrottleWindow  time.Duration
}

// LoadConfig 从环境变量加载配置。
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件（如果存在），允许只用环境变量
	_ = godotenv.Load()

	cfg := &Config{
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		YouTubeAPIKey: os.Getenv("YOUTUBE_API_KEY"),
		// 默认值
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		RoomTimeout:     worker.DefaultRoomTimeout,
		ReaperSchedule:  "@every 1h",
		ThrottleWindow:  750 * time.Millisecond,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认 0

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wt:"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}

	if v := os.Getenv("ROOM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ROOM_TIMEOUT %q: %w", v, err)
		}
		cfg.RoomTimeout = d
	}
	if v := os.Getenv("REAPER_SCHEDULE"); v != "" {
		cfg.ReaperSchedule = v
	}
	if v := os.Getenv("THROTTLE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid THROTTLE_WINDOW %q: %w", v, err)
		}
		cfg.ThrottleWindow = d
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App 包含应用的所有组件。
type App struct {
	Config      *Config
	Log         *logrus.Logger
	RedisClient *redis.Client
	Store       *redisstate.Client
	Sessions    *service.SessionManager
	AsynqClient *asynq.Client
	Worker      *worker.Server
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp 创建并初始化应用的所有组件。
func NewApp() (*App, error) {
	// 1. 配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Info("Configuration loaded successfully")

	// 3. 基础设施
	log.Info("Initializing infrastructure...")
	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 共享状态存储
	st := redisstate.New(redisClient, redisstate.Options{
		KeyPrefix: cfg.KeyPrefix,
		ClientID:  "server:" + uuid.NewString(),
	}, log)
	log.Info("State store initialized")

	// 5. Services
	playbackCfg := service.DefaultPlaybackConfig()
	playbackCfg.ThrottleWindow = cfg.ThrottleWindow
	// 服务端不做本地会话缓存，那是加入房间的客户端的事
	sessions := service.NewSessionManager(st, nil, playbackCfg, log)
	log.Info("Services initialized")

	// 6. Handlers
	var searcher httpHandler.VideoSearcher
	if cfg.YouTubeAPIKey != "" {
		searcher = search.NewClient(cfg.YouTubeAPIKey, log)
	} else {
		log.Warn("YOUTUBE_API_KEY not set, video search disabled")
	}
	roomHandler := httpHandler.NewRoomHandler(sessions, st, searcher)

	// 7. Worker
	reaper := worker.NewReaperHandler(st, log)
	workerServer := worker.NewServer(redisClientOpt, reaper, log)
	log.Info("Worker server initialized")

	// 8. Gin 路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware())
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	{
		api.POST("/rooms", roomHandler.CreateRoom)
		api.GET("/rooms/:code", roomHandler.GetRoom)
		api.GET("/search", roomHandler.SearchVideos)
	}
	router.GET("/health", roomHandler.Health)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		RedisClient:    redisClient,
		Store:          st,
		Sessions:       sessions,
		AsynqClient:    asynqClient,
		Worker:         workerServer,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// Start 启动所有后台组件和 HTTP 服务器。
func (a *App) Start() {
	go a.Worker.Start()
	a.Log.Info("Worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册周期性的房间回收任务。
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})
	a.scheduler = scheduler

	payload, err := tasks.NewRoomReapTask(a.Config.RoomTimeout)
	if err != nil {
		a.Log.Errorf("Failed to create room reap task payload: %v", err)
		return
	}
	task := asynq.NewTask(tasks.TypeRoomReap, payload)

	entryID, err := scheduler.Register(a.Config.ReaperSchedule, task, asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic room reap task: %v", err)
	} else {
		a.Log.Infof("Periodic room reap task registered with schedule '%s' (EntryID: %s)", a.Config.ReaperSchedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown 优雅关闭应用。顺序：先停入口（HTTP），再停后台（scheduler、
// worker），最后关存储和连接，保证断线删除钩子被执行。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.Worker != nil {
		a.Worker.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Errorf("Error closing state store: %v", err)
		} else {
			a.Log.Info("State store closed.")
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// corsMiddleware 允许浏览器客户端跨域调用 HTTP API。
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
		if allowedOrigin == "" {
			allowedOrigin = "http://localhost:3000"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 记录每个 HTTP 请求的结构化访问日志。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
