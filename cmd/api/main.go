package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qrattend/internal/activity"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/geo"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/scan"
	"qrattend/internal/store"
	"qrattend/internal/timing"
	"qrattend/internal/token"
)

func main() {
	cfg := config.Load()
	log := logging.Init(cfg.Env, cfg.LogLevel)
	defer logging.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx := context.Background()

	var (
		db          *store.DB
		redisClient *store.Redis
		tokenRepo   token.Repository
		activityDir activity.Directory
		records     attendance.Store
		recorder    attendance.Recorder
	)

	if cfg.StoreBackend == "memory" {
		// Dev mode: everything in-process, scans recorded synchronously, one
		// seeded activity to scan against.
		memDir := activity.NewMemoryDirectory()
		seedDemoActivity(memDir, log)
		memRecords := attendance.NewMemoryStore()

		tokenRepo = token.NewMemoryRepository()
		activityDir = memDir
		records = memRecords
		recorder = attendance.NewStoreRecorder(memRecords)
	} else {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		redisClient = store.NewRedis(cfg.RedisAddr)
		var q queue.Queue
		if cfg.QueueBackend == "memory" {
			q = queue.NewInMemory(64)
		} else {
			q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
		}

		tokenRepo = token.NewPGRepository(db.Client)
		activityDir = activity.NewPGDirectory(db.Client)
		records = attendance.NewRepository(db.Client)
		recorder = attendance.NewQueueRecorder(q)
	}

	tokens := token.NewService(tokenRepo)
	validator := scan.NewValidator(tokens, activityDir, recorder, cfg.ScanGrace, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		res := gin.H{"status": "ok"}
		if cfg.StoreBackend != "memory" {
			redisHealthy := redisClient.Healthy(c.Request.Context())
			dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
			res["redis"] = redisHealthy
			res["db"] = dbHealthy
			if !redisHealthy || !dbHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, res)
	})

	// Trust boundary shim: the real identity system authenticates upstream
	// and exchanges its assertion for one of our tokens here.
	r.POST("/v1/sessions", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required,oneof=staff student"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		signed, exp, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"access_token": signed, "expires_at": exp.Unix()})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	staff := authed.Group("", auth.RequireRole(auth.RoleStaff))

	staff.POST("/activities/:id/tokens", func(c *gin.Context) {
		var req struct {
			Label        string     `json:"label"`
			ExpiresAt    *time.Time `json:"expires_at"`
			Anchor       *geo.Point `json:"anchor"`
			RadiusMeters int        `json:"radius_m"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		tok, err := tokens.Mint(c.Request.Context(), token.MintParams{
			ActivityID:   c.Param("id"),
			IssuedBy:     claims.Subject,
			Label:        req.Label,
			ExpiresAt:    req.ExpiresAt,
			Anchor:       req.Anchor,
			RadiusMeters: req.RadiusMeters,
		})
		if err != nil {
			if errors.Is(err, token.ErrInvalidRadius) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"reason": "invalid_radius", "message": err.Error()})
				return
			}
			log.Error("mint failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		metrics.TokensMinted.Inc()
		c.JSON(http.StatusCreated, tok)
	})

	staff.GET("/activities/:id/tokens", func(c *gin.Context) {
		list, err := tokens.ListByActivity(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tokens": list})
	})

	staff.POST("/tokens/:id/revoke", func(c *gin.Context) {
		err := tokens.Revoke(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, token.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	})

	staff.GET("/activities/:id/attendance", func(c *gin.Context) {
		recs, err := records.ListByActivity(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": recs})
	})

	authed.POST("/scans", auth.RequireRole(auth.RoleStudent), func(c *gin.Context) {
		var req struct {
			Payload  string     `json:"payload" binding:"required"`
			Location *geo.Point `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		accepted, err := validator.Validate(c.Request.Context(), scan.Attempt{
			RawPayload:       req.Payload,
			ReportedLocation: req.Location,
			ScannedAt:        time.Now().UTC(),
			ScannedBy:        claims.Subject,
		})
		if err != nil {
			writeScanError(c, err, log)
			return
		}
		c.JSON(http.StatusOK, accepted)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// writeScanError maps the validator's two error kinds onto the wire. A
// rejection carries its reason code; a storage outage is a plain 503 so it
// can never be mistaken for "you scanned wrong".
func writeScanError(c *gin.Context, err error, log *zap.Logger) {
	var rej *scan.Rejection
	if errors.As(err, &rej) {
		status := http.StatusUnprocessableEntity
		switch rej.Reason {
		case scan.ReasonMalformedPayload:
			status = http.StatusBadRequest
		case scan.ReasonTokenNotFound:
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"reason": rej.Reason, "message": rej.Message})
		return
	}
	log.Error("scan storage failure", zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry later"})
}

func seedDemoActivity(dir *activity.MemoryDirectory, log *zap.Logger) {
	now := time.Now().UTC()
	dir.Put("demo", timing.Window{Start: now, End: now.Add(8 * time.Hour)})
	log.Info("memory store: seeded activity", zap.String("activity_id", "demo"))
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
