package main

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-routine-api/api/swagger"
	"github.com/noah-isme/campus-routine-api/internal/handler"
	"github.com/noah-isme/campus-routine-api/internal/middleware"
	"github.com/noah-isme/campus-routine-api/internal/repository"
	"github.com/noah-isme/campus-routine-api/internal/service"
	"github.com/noah-isme/campus-routine-api/pkg/cache"
	"github.com/noah-isme/campus-routine-api/pkg/config"
	"github.com/noah-isme/campus-routine-api/pkg/database"
	"github.com/noah-isme/campus-routine-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-routine-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-routine-api/pkg/middleware/requestid"
)

// @title Campus Routine API
// @version 1.0.0
// @description Weekly class routine management with conflict-free allocation and auto-scheduling
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, routine cache disabled", zap.Error(err))
		redisClient = nil
	}

	teacherRepo := repository.NewTeacherRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	// One mutex serializes every ledger mutation, manual and scheduled alike.
	var ledgerMu sync.Mutex

	workload := service.AllocationConfig{
		DailyLimit:  cfg.Workload.DailyLimit,
		WeeklyLimit: cfg.Workload.WeeklyLimit,
	}

	metricsService := service.NewMetricsService()
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	teacherService := service.NewTeacherService(teacherRepo, allocationRepo, nil, logr)
	courseService := service.NewCourseService(courseRepo, allocationRepo, nil, logr)
	roomService := service.NewRoomService(roomRepo, nil, logr)
	calendarService := service.NewCalendarService(calendarRepo, logr)
	availabilityService := service.NewAvailabilityService(roomRepo, calendarRepo, logr)
	allocationService := service.NewAllocationService(
		allocationRepo, courseRepo, teacherRepo, roomRepo, calendarRepo,
		db, cacheRepo, nil, logr, workload, &ledgerMu,
	)
	routineService := service.NewRoutineService(
		allocationRepo, calendarRepo, teacherRepo, cacheRepo, logr,
		service.RoutineConfig{CacheEnabled: cfg.Routine.CacheEnabled, CacheTTL: cfg.Routine.CacheTTL},
	)
	schedulerService := service.NewSchedulerService(
		allocationRepo, courseRepo, teacherRepo, roomRepo, calendarRepo,
		db, cacheRepo, logr,
		service.SchedulerConfig{RebuildAll: cfg.Scheduler.RebuildAll, MaxNodes: cfg.Scheduler.MaxNodes},
		workload, &ledgerMu,
	)

	authHandler := handler.NewAuthHandler(authService)
	calendarHandler := handler.NewCalendarHandler(calendarService)
	teacherHandler := handler.NewTeacherHandler(teacherService, routineService)
	courseHandler := handler.NewCourseHandler(courseService)
	roomHandler := handler.NewRoomHandler(roomService, availabilityService)
	allocationHandler := handler.NewAllocationHandler(allocationService, metricsService)
	routineHandler := handler.NewRoutineHandler(routineService, schedulerService, metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)

		api.GET("/days", calendarHandler.Days)
		api.GET("/time-slots", calendarHandler.Slots)

		api.GET("/teachers", teacherHandler.List)
		api.GET("/teachers/:id", teacherHandler.Get)
		api.GET("/teachers/:id/schedule", teacherHandler.Schedule)

		api.GET("/courses", courseHandler.List)
		api.GET("/courses/:id", courseHandler.Get)

		api.GET("/rooms", roomHandler.List)
		api.GET("/room-availability", roomHandler.Availability)

		api.GET("/allocations", allocationHandler.List)
		api.GET("/routine", routineHandler.Get)
		api.GET("/routine/export", routineHandler.Export)

		secured := api.Group("", middleware.JWT(authService))
		{
			secured.POST("/teachers", teacherHandler.Create)
			secured.DELETE("/teachers/:id", teacherHandler.Delete)
			secured.POST("/courses", courseHandler.Create)
			secured.DELETE("/courses/:id", courseHandler.Delete)
			secured.POST("/rooms", roomHandler.Create)
			secured.POST("/allocations", allocationHandler.Create)
			secured.DELETE("/allocations/:id", allocationHandler.Delete)
			secured.POST("/routine/regenerate", routineHandler.Regenerate)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
