// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/amirphl/plotshare/app/dto"
	"github.com/amirphl/plotshare/app/handlers"
	"github.com/amirphl/plotshare/app/middleware"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups the handlers mounted by the router
type Handlers struct {
	Wallet     *handlers.WalletHandler
	Investment *handlers.InvestmentHandler
	Holding    *handlers.HoldingHandler
	Profit     *handlers.ProfitHandler
}

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown(timeout time.Duration) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app        *fiber.App
	handlers   Handlers
	serverCfg  config.ServerConfig
	metricsCfg config.MetricsConfig
	logger     *zap.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(h Handlers, serverCfg config.ServerConfig, metricsCfg config.MetricsConfig, logger *zap.Logger) Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &FiberRouter{
		handlers:   h,
		serverCfg:  serverCfg,
		metricsCfg: metricsCfg,
		logger:     logger,
	}
	r.app = fiber.New(fiber.Config{
		AppName:      "plotshare API",
		ErrorHandler: r.errorHandler,
		BodyLimit:    serverCfg.BodyLimit,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	r.app.Get("/health", r.healthCheck)
	if r.metricsCfg.Enabled {
		path := r.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")
	api.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
			})
		},
	}))

	wallets := api.Group("/wallets")
	wallets.Get("/:id", r.handlers.Wallet.GetWallet)
	wallets.Get("/:id/transactions", r.handlers.Wallet.ListTransactions)
	wallets.Post("/:id/gateway-confirmations", r.handlers.Wallet.SettleGatewayConfirmation)

	api.Get("/investments/:id", r.handlers.Investment.GetInvestment)

	users := api.Group("/users")
	users.Get("/:id/investments", r.handlers.Investment.ListUserInvestments)
	users.Get("/:id/holdings", r.handlers.Holding.ListUserHoldings)

	api.Get("/plots/:id/eligibility", r.handlers.Holding.GetEligibility)

	sales := api.Group("/sales")
	sales.Get("/:id/profits", r.handlers.Profit.GetSaleProfits)
	sales.Get("/:id/profits.xlsx", r.handlers.Profit.ExportSaleProfits)

	r.app.Use(r.notFoundHandler)
}

func (r *FiberRouter) setupMiddleware() {
	r.app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: utils.NewULID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("panic in handler",
				zap.Any("panic", e),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("request_id", requestid.FromContext(c)),
			)
		},
	}))

	if len(r.serverCfg.AllowedOrigins) > 0 {
		r.app.Use(cors.New(cors.Config{
			AllowOrigins:  r.serverCfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
			MaxAge:        utils.CORSMaxAge,
		}))
	}

	r.app.Use(middleware.Metrics())

	r.app.Use(func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() != "/health" {
			r.logger.Info("request",
				zap.String("request_id", requestid.FromContext(c)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().StatusCode()),
				zap.Duration("latency", time.Since(start)),
			)
		}
		return err
	})
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info("starting HTTP server", zap.String("address", address))
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (r *FiberRouter) Shutdown(timeout time.Duration) error {
	return r.app.ShutdownWithTimeout(timeout)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"service":   "plotshare",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// errorHandler renders errors that escaped the handlers
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	r.logger.Error("unhandled request error", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "An internal server error occurred",
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}
