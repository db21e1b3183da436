package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/etims"
	"bitbucket.org/mmdatafocus/etims_backend/middlewares"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("etims-backend")

var validate = validator.New()

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		info, err := models.Login(c.Request.Context(), config.GetDB(), input)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := models.CreateUser(c.Request.Context(), config.GetDB(), input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func listSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var settings []models.EtimsSettings
		if err := config.GetDB().WithContext(c.Request.Context()).Find(&settings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

func saveSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var settings models.EtimsSettings
		if err := c.ShouldBindJSON(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validate.Struct(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		db := config.GetDB()
		if err := db.WithContext(c.Request.Context()).Save(&settings).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = settings.RemoveInstanceRedis()

		// Verify the credentials by fetching the gateway account profile.
		details, err := etims.FetchUserDetails(c.Request.Context(), db, etims.TenantContext{
			CompanyName: settings.CompanyName,
			BranchId:    settings.BranchId,
		})
		if err != nil {
			c.JSON(http.StatusOK, gin.H{
				"settings": settings,
				"warning":  "saved, but credential verification failed: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings, "account": details})
	}
}

func listRoutesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var routes []models.EtimsRoute
		if err := config.GetDB().WithContext(c.Request.Context()).Order("route_key asc").Find(&routes).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, routes)
	}
}

func seedRoutesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.SeedRoutes(c.Request.Context(), config.GetDB()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"seeded": len(models.DefaultRoutes)})
	}
}

func listRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		if page < 1 {
			page = 1
		}
		pageSize := 50

		query := config.GetDB().WithContext(c.Request.Context()).Model(&models.IntegrationRequest{})
		if company := c.Query("company_name"); company != "" {
			query = query.Where("company_name = ?", company)
		}
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}

		var total int64
		query.Count(&total)

		var requests []models.IntegrationRequest
		if err := query.Order("id desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&requests).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total, "page": page, "items": requests})
	}
}

func exportRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		to := time.Now().UTC()
		from := to.AddDate(0, -1, 0)
		if v := c.Query("from"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				from = parsed
			}
		}
		if v := c.Query("to"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				to = parsed.AddDate(0, 0, 1)
			}
		}
		company := c.Query("company_name")

		f, err := etims.ExportRequestLog(c.Request.Context(), config.GetDB(), company, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+etims.ExportFileName(company, from, to))
		if err := f.Write(c.Writer); err != nil {
			logger := config.GetLogger()
			config.LogError(logger, "server.go", "exportRequestsHandler", "write xlsx", nil, err)
		}
	}
}

type submitDocumentRequest struct {
	CompanyName  string `json:"company_name" binding:"required"`
	BranchId     string `json:"branch_id"`
	DocumentType string `json:"document_type" binding:"required"`
	DocumentName string `json:"document_name" binding:"required"`
}

func submitStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tenant := etims.TenantContext{CompanyName: req.CompanyName, BranchId: req.BranchId}
		if err := etims.EnqueueStockMovement(c.Request.Context(), tenant, req.DocumentType, req.DocumentName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": req.DocumentName})
	}
}

func submitInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tenant := etims.TenantContext{CompanyName: req.CompanyName, BranchId: req.BranchId}
		if err := etims.EnqueueSalesInvoice(c.Request.Context(), tenant, req.DocumentName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": req.DocumentName})
	}
}

func syncMasterDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := etims.RefreshMasterData(c.Request.Context(), config.GetDB()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

type balanceCheckRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
	BranchId    string `json:"branch_id"`
	ItemCode    string `json:"item_code" binding:"required"`
}

func balanceCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req balanceCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tenant := etims.TenantContext{CompanyName: req.CompanyName, BranchId: req.BranchId}
		if err := etims.EnqueueStep(c.Request.Context(), etims.StepStockBalance, tenant, "Item", req.ItemCode, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": req.ItemCode})
	}
}

func runSweepsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		etims.RunSweeps(c.Request.Context(), config.GetDB())
		c.JSON(http.StatusOK, gin.H{"status": "done"})
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())
	r.POST("/pubsub", etims.PubSubPushHandler())

	api := r.Group("/api", middlewares.RequireAuth())
	{
		api.GET("/settings", listSettingsHandler())
		api.POST("/settings", saveSettingsHandler())
		api.GET("/routes", listRoutesHandler())
		api.GET("/requests", listRequestsHandler())
		api.GET("/requests/export", exportRequestsHandler())
		api.POST("/submit/stock", submitStockHandler())
		api.POST("/submit/invoice", submitInvoiceHandler())
		api.POST("/sync/master-data", syncMasterDataHandler())
		api.POST("/stock/balance-check", balanceCheckHandler())
	}

	admin := r.Group("/internal/ops", middlewares.RequireAuth(), middlewares.RequireAdmin())
	{
		admin.POST("/users", createUserHandler())
		admin.POST("/routes/seed", seedRoutesHandler())
		admin.POST("/sweeps/run", runSweepsHandler())
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.Migrate(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error("migration failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Periodic maintenance sweeps.
	sweepCtx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	sweepInterval := 15 * time.Minute
	if v := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sweepInterval = time.Duration(n) * time.Minute
		}
	}
	go etims.StartSweeper(sweepCtx, db, sweepInterval)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
		"port": port,
	}).Warn("server ready")

	select {
	case <-sigCtx.Done():
		logger.WithFields(logrus.Fields{"field": "shutdown"}).Warn("signal received; draining")
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err.Error())
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "shutdown"}).Error(err.Error())
	}
}
