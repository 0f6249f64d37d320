package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimbusdeck/nimbusdeck/app/controllers"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/middleware"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/ratelimit"
)

type ApiRouter struct {
	limiter *ratelimit.Limiter
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	auth := api.Group("/auth", middleware.RateLimit(h.limiter, ratelimit.PolicyAuth))
	auth.Post("/register", controllers.HandleAuthRegister)
	auth.Post("/login", controllers.HandleAuthLogin)
	auth.Post("/logout", controllers.HandleAuthLogout)

	payments := api.Group("/payments")
	// Webhooks carry their own signature auth and must never be starved
	// by client traffic, so they run under the widest policy.
	payments.Post("/webhooks",
		middleware.RateLimit(h.limiter, ratelimit.PolicyPublic),
		controllers.HandleStripeWebhook)
	payments.Post("/create-checkout-session",
		middleware.RateLimit(h.limiter, ratelimit.PolicyPayment),
		middleware.RequireAPISessionAuth,
		controllers.HandleCreateCheckoutSession)

	errorsGroup := api.Group("/errors", middleware.RateLimit(h.limiter, ratelimit.PolicyAPI))
	errorsGroup.Post("/report", middleware.RequireAPISessionAuth, controllers.HandleErrorReport)
	errorsGroup.Get("/recent", middleware.RequireAPIAdmin, controllers.HandleListRecentErrorReports)

	orgs := api.Group("/organizations",
		middleware.RateLimit(h.limiter, ratelimit.PolicyAPI),
		middleware.RequireAPISessionAuth)
	orgs.Post("/", controllers.HandleCreateOrganization)
	orgs.Get("/", controllers.HandleListOrganizations)
	orgs.Post("/:id/members", controllers.HandleAddOrganizationMember)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{limiter: ratelimit.New()}
}
