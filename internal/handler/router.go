package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/middleware"
	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	"github.com/noah-isme/sibudis-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sibudis-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sibudis-api/pkg/middleware/requestid"
)

// RouterDeps holds everything the HTTP surface needs.
type RouterDeps struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditWriter

	Auth      *AuthHandler
	Users     *UserHandler
	Students  *StudentHandler
	Ledger    *TransactionHandler
	Schedules *SavingsScheduleHandler
	Dashboard *DashboardHandler
	Recap     *RecapHandler
	Events    *EventsHandler
	System    *MetricsHandler
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.APIPrefix == "" {
		deps.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.System.Health)
	r.GET("/ready", deps.System.Ready)
	r.GET("/metrics", deps.System.Prometheus)
	if deps.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	api := r.Group(deps.APIPrefix)
	auth := api.Group("/auth")
	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)
	auth.POST("/forgot-password", deps.Auth.ForgotPassword)
	auth.POST("/reset-password", deps.Auth.ResetPassword)
	auth.POST("/register-parent", deps.Users.RegisterParent)

	api.GET("/export/:token", deps.Recap.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))

	secured.POST("/auth/logout", deps.Auth.Logout)
	secured.POST("/auth/change-password", deps.Auth.ChangePassword)
	secured.GET("/auth/me", deps.Auth.Me)
	secured.PUT("/profile", deps.Users.UpdateProfile)

	users := secured.Group("/users", admin)
	users.GET("", deps.Users.List)
	users.POST("", deps.Users.Create)
	users.GET("/:id", deps.Users.Get)
	users.PUT("/:id", deps.Users.Update)
	users.DELETE("/:id", deps.Users.Delete)
	users.PUT("/:id/password", deps.Users.SetPassword)

	students := secured.Group("/students")
	students.GET("", deps.Students.List)
	students.POST("", staff, deps.Students.Create)
	students.GET("/lookup", admin, deps.Students.Lookup)
	students.POST("/import", staff, deps.Students.Import)
	students.GET("/import/template", staff, deps.Students.Template)
	students.GET("/:id", deps.Students.Get)
	students.PUT("/:id", staff, deps.Students.Update)
	students.DELETE("/:id", admin, deps.Students.Delete)

	transactions := secured.Group("/transactions")
	transactions.GET("", deps.Ledger.List)
	transactions.POST("", staff, deps.Ledger.Create)
	transactions.POST("/reset", admin, deps.Ledger.Reset)
	transactions.GET("/drift", admin, deps.Ledger.Drift)

	schedules := secured.Group("/savings-schedules")
	schedules.GET("", deps.Schedules.List)
	schedules.POST("", admin, deps.Schedules.Create)
	schedules.PUT("/:id", admin, deps.Schedules.Update)
	schedules.DELETE("/:id", admin, deps.Schedules.Delete)

	secured.GET("/dashboard", deps.Dashboard.Summary)

	reports := secured.Group("/reports")
	reports.GET("/recap", deps.Recap.Recap)
	var exportAudit []gin.HandlerFunc
	if deps.Audit != nil {
		exportAudit = append(exportAudit, middleware.Audit(deps.Audit, deps.Logger, models.AuditActionRecapExport, "recap"))
	}
	reports.POST("/recap/export", append(exportAudit, deps.Recap.Export)...)

	secured.GET("/events", deps.Events.Stream)
	secured.GET("/system/metrics", admin, deps.System.Snapshot)

	return r
}
