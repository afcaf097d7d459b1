package handler

import (
	"wallet-reconciler/internal/adapter/http/middleware"
	"wallet-reconciler/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxJSONBody   = 1 << 20
	maxImportBody = 64 << 20
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	TokenSvc       ports.TokenService
	MnemonicSvc    ports.MnemonicService
	WalletSvc      ports.WalletService
	ReconcileSvc   ports.ReconciliationService
	ExportSvc      ports.ExportService
	RateLimitStore middleware.Limiter   // nil = rate limiting disabled
	TracerProvider trace.TracerProvider // nil = no request spans
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	if deps.TracerProvider != nil {
		r.Use(middleware.Tracing(deps.TracerProvider))
	}
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	small := middleware.MaxBodySize(maxJSONBody)

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/auth/token", small, rl("auth_token"), authHandler.Token)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	mnemonicHandler := NewMnemonicHandler(deps.MnemonicSvc)
	v1.POST("/mnemonic/correct", jwtAuth, small, rl("mnemonic"), mnemonicHandler.Correct)

	walletHandler := NewWalletHandler(deps.WalletSvc, deps.ReconcileSvc, deps.ExportSvc, deps.Logger)
	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.GET("", rl("wallets_read"), walletHandler.List)
		wallets.POST("", small, rl("wallets_write"), walletHandler.Generate)
		wallets.POST("/import", middleware.MaxBodySize(maxImportBody), rl("wallets_import"), walletHandler.Import)
		wallets.POST("/reconcile", small, rl("reconcile"), walletHandler.Reconcile)
		wallets.GET("/export.csv", rl("export"), walletHandler.ExportCSV)
		wallets.GET("/export.pdf", rl("export"), walletHandler.ExportPDF)
		wallets.GET("/export.yaml", rl("export"), walletHandler.ExportYAML)
		wallets.GET("/:address", rl("wallets_read"), walletHandler.Get)
		wallets.GET("/:address/keystore", rl("export"), walletHandler.Keystore)
	}

	return r
}
