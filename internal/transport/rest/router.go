package rest

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/expense-approval/internal/auth"
	"github.com/frahmantamala/expense-approval/internal/category"
	"github.com/frahmantamala/expense-approval/internal/core/metrics"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/finance"
	"github.com/frahmantamala/expense-approval/internal/linking"
	"github.com/frahmantamala/expense-approval/internal/organization"
	"github.com/frahmantamala/expense-approval/internal/transport/middleware"
	"github.com/frahmantamala/expense-approval/internal/transport/swagger"
	"github.com/frahmantamala/expense-approval/internal/user"
	"github.com/frahmantamala/expense-approval/pkg/logger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
)

const specPath = "/openapi.yml"

// Handlers groups the HTTP handlers. A nil handler leaves its routes unregistered.
type Handlers struct {
	Auth         *auth.Handler
	User         *user.Handler
	Category     *category.Handler
	Organization *organization.Handler
	Expense      *expense.Handler
	Finance      *finance.Handler
	Linking      *linking.Handler
}

type Options struct {
	DB             *sql.DB
	Redis          redis.Cmdable
	AllowedOrigins []string
	// Limiter throttles mutating requests; nil disables rate limiting.
	Limiter     middleware.Limiter
	Metrics     *metrics.Recorder
	MetricsPath string
	OpenAPISpec []byte
	// BaseURL is the public origin; Swagger UI loads the document from it.
	BaseURL string
	Logger  *slog.Logger
}

func RegisterAllRoutes(router chi.Router, h Handlers, opts Options) error {
	healthHandler := NewHealthHandler(opts.DB, opts.Redis)

	var recorder middleware.RateLimitRecorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	rateLimit := middleware.RateLimit(opts.Limiter, recorder)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{
			"Content-Disposition",
			middleware.RequestIDHeader,
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		MaxAge: 300,
	}))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.LoggingMiddleware)

	if len(opts.OpenAPISpec) > 0 {
		router.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			if _, err := w.Write(opts.OpenAPISpec); err != nil {
				logger.From(r.Context()).Error("failed to write openapi document", "error", err)
			}
		})
		router.Handle("/swagger/*", swagger.Handler(specURL(opts.BaseURL)))
	}

	if opts.Metrics != nil && opts.MetricsPath != "" {
		router.Handle(opts.MetricsPath, opts.Metrics.Handler())
	}

	var validate func(http.Handler) http.Handler
	if len(opts.OpenAPISpec) > 0 {
		v, err := middleware.OpenAPIValidator(opts.OpenAPISpec)
		if err != nil {
			return fmt.Errorf("openapi validator: %w", err)
		}
		validate = v
	}

	router.Route("/api/v1", func(r chi.Router) {
		if validate != nil {
			r.Use(validate)
		}

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if h.Category != nil {
			r.Get("/categories", h.Category.GetCategories)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(ar chi.Router) {
			ar.Use(rateLimit)
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshToken)
			ar.Post("/logout", h.Auth.Logout)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)
			pr.Use(rateLimit)

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
			}

			if h.Organization != nil {
				pr.Route("/organizations", func(or chi.Router) {
					or.Post("/", h.Organization.CreateOrganization)
					or.Get("/managers", h.Organization.GetManagers)
					or.Post("/{id}/members", h.Organization.AddMember)
				})
			}

			if h.Expense != nil {
				pr.Route("/expenses", func(er chi.Router) {
					er.Post("/", h.Expense.CreateExpense)
					er.Get("/", h.Expense.ListMyExpenses)
					er.Get("/review", h.Expense.ListForReview)

					er.Route("/{id}", func(ir chi.Router) {
						ir.Get("/", h.Expense.GetExpense)
						ir.Put("/", h.Expense.UpdateExpense)
						ir.Delete("/", h.Expense.DeleteExpense)
						ir.Get("/audit", h.Expense.GetAuditTrail)
						ir.Get("/attachments/url", h.Expense.GetAttachmentURL)

						ir.Post("/submit", h.Expense.Submit)
						ir.Post("/pre-approve", h.Expense.PreApprove)
						ir.Post("/reject", h.Expense.Reject)
						ir.Post("/request-approval", h.Expense.RequestApproval)
						ir.Post("/approve", h.Expense.Approve)
						ir.Post("/override", h.Expense.Override)
						ir.Patch("/total", h.Expense.OverrideTotal)
					})
				})
			}

			if h.Finance != nil {
				pr.Route("/finance", func(fr chi.Router) {
					fr.Get("/expenses", h.Finance.GetExpenses)
					fr.Post("/reimburse", h.Finance.Reimburse)
					fr.Post("/export", h.Finance.Export)
					fr.Get("/audit-events", h.Finance.GetAuditEvents)
				})
			}

			if h.Linking != nil {
				pr.Get("/reactive-linking", h.Linking.GetPending)
				pr.Post("/reactive-linking", h.Linking.Act)
			}
		})
	})

	return nil
}

// specURL points Swagger UI at the published document, absolute when the
// service runs behind a public origin.
func specURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + specPath
}
