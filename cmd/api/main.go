package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/account"
	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/authclient"
	"presence/internal/classgroup"
	"presence/internal/config"
	"presence/internal/fault"
	"presence/internal/geo"
	"presence/internal/httpmiddleware"
	"presence/internal/metrics"
	"presence/internal/queue"
	"presence/internal/schedule"
	"presence/internal/session"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// queueNotifier forwards displaced sessions to the worker queue.
type queueNotifier struct {
	q queue.Queue
}

func (n queueNotifier) SessionDisplaced(ctx context.Context, accountID, oldToken, newToken string) {
	metrics.SessionsDisplaced.Inc()
	evt := session.DisplacedEvent{AccountID: accountID, OldToken: oldToken, NewToken: newToken}
	if err := n.q.Publish(ctx, queue.Message{Type: session.TypeDisplaced, Body: evt.Encode()}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:sessions")
	}

	authSvc := authclient.New(cfg.AuthServiceURL, cfg.AuthSkip)
	if !cfg.AuthSkip {
		if err := authSvc.Health(context.Background()); err != nil {
			log.Printf("WARNING: authenticator not reachable: %v", err)
		} else {
			log.Println("authenticator connected")
		}
	}

	sessions := session.NewRegistry(redisClient.Client)

	accountRepo := account.NewRepository(db.Client)
	guard := account.NewGuard(accountRepo, authSvc, sessions, queueNotifier{q: q})

	scheduleRepo := schedule.NewRepository(db.Client)
	scheduleSvc := schedule.NewService(scheduleRepo)
	classRepo := classgroup.NewRepository(db.Client)

	attendanceRepo := attendance.NewRepository(db.Client)
	recorder := attendance.NewService(attendanceRepo, cfg.Location())

	reference := geo.Coordinates{Latitude: cfg.GeofenceLat, Longitude: cfg.GeofenceLng}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	// Anonymous routes are limited per IP; authenticated routes get
	// their own limiter below, after Bearer has parsed the claims, so
	// the per-account keying actually sees an account.
	ipLimit := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware()
	acctLimit := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/login", ipLimit, func(c *gin.Context) {
		var req struct {
			AccountID         string `json:"account_id" binding:"required"`
			Credential        string `json:"credential"`
			DeviceFingerprint string `json:"device_fingerprint" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := guard.Login(c.Request.Context(), req.AccountID, req.Credential, req.DeviceFingerprint)
		if err != nil {
			if fault.Is(err, fault.Authorization) {
				metrics.LoginsRejected.Inc()
			}
			respondErr(c, err)
			return
		}

		tokens, err := auth.Issue(res.Account.ID, string(res.Account.Role), res.SessionToken,
			cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		if err := accountRepo.SaveRefreshToken(c.Request.Context(), res.Account.ID, res.SessionToken, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			log.Printf("refresh token save failed: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"session_token": res.SessionToken,
			"first_binding": res.FirstBinding,
			"role":          res.Account.Role,
		})
	})

	r.POST("/v1/auth/refresh", ipLimit, func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		st, err := accountRepo.GetRefreshToken(c.Request.Context(), req.RefreshToken)
		if errors.Is(err, account.ErrNotFound) || (err == nil && (st.Revoked || time.Now().After(st.ExpiresAt))) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token invalid"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// A displaced session must not be able to refresh itself back in.
		acct, err := accountRepo.Get(c.Request.Context(), st.AccountID)
		if err != nil || acct.SessionToken == nil || *acct.SessionToken != st.SessionToken {
			_ = accountRepo.RevokeRefreshToken(c.Request.Context(), req.RefreshToken)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session superseded, sign in again"})
			return
		}

		tokens, err := auth.Issue(acct.ID, string(acct.Role), st.SessionToken,
			cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = accountRepo.RevokeRefreshToken(c.Request.Context(), req.RefreshToken)
		_ = accountRepo.SaveRefreshToken(c.Request.Context(), acct.ID, st.SessionToken, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer), acctLimit)

	authed.POST("/geofence/evaluate", func(c *gin.Context) {
		var req struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Absent coordinates mean the sensor produced no fix: the
		// verdict is indeterminate and the gated action stays blocked.
		cur, err := geo.ParseFix(req.Latitude, req.Longitude)
		if err != nil {
			respondErr(c, err)
			return
		}
		v := geo.Evaluate(cur, reference, cfg.GeofenceRadius)
		c.JSON(http.StatusOK, v)
	})

	authed.POST("/auth/logout", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		if err := sessions.Clear(c.Request.Context(), claims.Subject); err != nil {
			respondErr(c, fault.Wrap(err, fault.Transient, "session clear failed"))
			return
		}
		// An empty surviving session revokes every outstanding token.
		if _, err := accountRepo.RevokeDisplacedSessions(c.Request.Context(), claims.Subject, ""); err != nil {
			log.Printf("refresh token revoke failed: %v", err)
		}
		if err := authSvc.SignOut(c.Request.Context(), claims.Subject); err != nil {
			log.Printf("authenticator sign-out failed: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "signed out"})
	})

	authed.POST("/attendance/scans", auth.RequireRole(string(account.RoleStaff)), func(c *gin.Context) {
		var req struct {
			ClassID      string   `json:"class_id" binding:"required"`
			LessonPeriod int      `json:"lesson_period" binding:"required"`
			Latitude     *float64 `json:"latitude"`
			Longitude    *float64 `json:"longitude"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		cur, err := geo.ParseFix(req.Latitude, req.Longitude)
		if err != nil {
			respondErr(c, err)
			return
		}
		v := geo.Evaluate(cur, reference, cfg.GeofenceRadius)
		if !v.WithinRadius {
			metrics.ScansOutOfRange.Inc()
			c.JSON(http.StatusForbidden, gin.H{
				"error":           "outside the attendance area",
				"distance_meters": v.DistanceMeters,
			})
			return
		}

		rec, err := recorder.Record(c.Request.Context(), claims.Subject, req.ClassID, req.LessonPeriod, time.Now())
		if err != nil {
			if fault.Is(err, fault.Conflict) {
				metrics.ScansDuplicate.Inc()
			}
			respondErr(c, err)
			return
		}
		metrics.ScansAccepted.Inc()
		c.JSON(http.StatusCreated, rec)
	})

	authed.GET("/attendance", func(c *gin.Context) {
		limit, offset := 50, 0
		if v, err := strconv.Atoi(c.Query("limit")); err == nil {
			limit = v
		}
		if v, err := strconv.Atoi(c.Query("offset")); err == nil {
			offset = v
		}
		records, err := recorder.List(c.Request.Context(), attendance.Filter{
			StaffID: c.Query("staff_id"),
			ClassID: c.Query("class_id"),
			ScanDay: c.Query("day"),
		}, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Long-poll for the single-active-session check: returns once the
	// server-side session token diverges from this client's, or when the
	// poll window closes.
	authed.GET("/session/watch", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		ctx, cancel := context.WithTimeout(c.Request.Context(), 55*time.Second)
		defer cancel()

		diverged, err := sessions.Watch(ctx, claims.Subject, claims.Session)
		if err != nil {
			respondErr(c, fault.Wrap(err, fault.Transient, "session watch failed"))
			return
		}
		select {
		case _, ok := <-diverged:
			if ok {
				c.JSON(http.StatusOK, gin.H{"diverged": true, "action": "sign out"})
				return
			}
		case <-ctx.Done():
		}
		c.JSON(http.StatusOK, gin.H{"diverged": false})
	})

	authed.GET("/schedules", func(c *gin.Context) {
		out, err := scheduleSvc.List(c.Request.Context(), schedule.Filter{
			StaffID: c.Query("staff_id"),
			ClassID: c.Query("class_id"),
			Weekday: schedule.Weekday(c.Query("weekday")),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"schedules": out})
	})

	adminOnly := auth.RequireRole(string(account.RoleAdmin))

	authed.POST("/schedules", adminOnly, func(c *gin.Context) {
		cand, ok := bindSchedule(c)
		if !ok {
			return
		}
		committed, err := scheduleSvc.Submit(c.Request.Context(), cand)
		if err != nil {
			respondScheduleErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, committed)
	})

	authed.PUT("/schedules/:id", adminOnly, func(c *gin.Context) {
		cand, ok := bindSchedule(c)
		if !ok {
			return
		}
		committed, err := scheduleSvc.Update(c.Request.Context(), c.Param("id"), cand)
		if err != nil {
			respondScheduleErr(c, err)
			return
		}
		c.JSON(http.StatusOK, committed)
	})

	authed.DELETE("/schedules/:id", adminOnly, func(c *gin.Context) {
		if err := scheduleSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	admin := authed.Group("/admin", adminOnly)

	admin.POST("/accounts", func(c *gin.Context) {
		var req struct {
			DisplayName string `json:"display_name" binding:"required"`
			Role        string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		acct, err := accountRepo.Insert(c.Request.Context(), account.Account{
			DisplayName: req.DisplayName,
			Role:        account.Role(req.Role),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, acct)
	})

	admin.POST("/accounts/:id/unbind", func(c *gin.Context) {
		if err := guard.Unbind(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "unbound"})
	})

	admin.POST("/classes", func(c *gin.Context) {
		var req struct {
			Name  string `json:"name" binding:"required"`
			Grade int    `json:"grade" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		g, err := classRepo.Insert(c.Request.Context(), classgroup.ClassGroup{Name: req.Name, Grade: req.Grade})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, g)
	})

	admin.DELETE("/classes/:id", func(c *gin.Context) {
		err := classRepo.DeleteCascade(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, classgroup.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// bindSchedule parses the schedule payload shared by create and update.
func bindSchedule(c *gin.Context) (schedule.Schedule, bool) {
	var req struct {
		StaffID      string `json:"staff_id" binding:"required"`
		ClassID      string `json:"class_id" binding:"required"`
		Weekday      string `json:"weekday" binding:"required"`
		LessonPeriod int    `json:"lesson_period" binding:"required"`
		StartTime    string `json:"start_time" binding:"required"`
		EndTime      string `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return schedule.Schedule{}, false
	}
	return schedule.Schedule{
		StaffID:      req.StaffID,
		ClassID:      req.ClassID,
		Weekday:      schedule.Weekday(req.Weekday),
		LessonPeriod: req.LessonPeriod,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	}, true
}

// respondScheduleErr adds the conflicting party and row to conflict
// responses before falling back to the generic mapping.
func respondScheduleErr(c *gin.Context, err error) {
	var ce *schedule.ConflictError
	if errors.As(err, &ce) {
		metrics.ScheduleConflicts.WithLabelValues(string(ce.Conflict.Party)).Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":       ce.Conflict.Message,
			"party":       ce.Conflict.Party,
			"schedule_id": ce.Conflict.ScheduleID,
		})
		return
	}
	respondErr(c, err)
}

// respondErr maps the fault taxonomy onto HTTP statuses. Every rejection
// carries a human-readable reason.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.Conflict:
		status = http.StatusConflict
	case fault.Authorization:
		status = http.StatusForbidden
	case fault.Unavailable:
		status = http.StatusServiceUnavailable
	case fault.Transient:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
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
