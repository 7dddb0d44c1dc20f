package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/store"
)

// Services bundles the wired service layer for route registration and the
// background runner.
type Services struct {
	Retention *services.RetentionService
	Abuse     *services.AbuseService
}

// Register wires up all HTTP routes and returns the service layer.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) *Services {
	orderStore := store.NewOrderStore(db)
	ledgerStore := store.NewDeletionRequestStore(db)
	auditStore := store.NewAuditStore(db)
	blockStore := store.NewBlockStore(db)

	mailService := services.NewMailService(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
	abuseService := services.NewAbuseService(blockStore, auditStore, cfg.AbuseAllowlist)

	razorpayService := services.NewRazorpayService(orderStore, mailService, abuseService,
		cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret, cfg.TaxRatePercent)

	shiprocketClient := services.NewShiprocketClient(cfg.ShiprocketBaseURL,
		cfg.ShiprocketEmail, cfg.ShiprocketPassword, cfg.PickupLocation)

	shipmentService := services.NewShipmentService(orderStore, shiprocketClient,
		cfg.AWBMaxAttempts, cfg.AWBBaseDelay, services.DefaultBox{
			LengthCM: cfg.DefaultBoxLengthCM,
			WidthCM:  cfg.DefaultBoxWidthCM,
			HeightCM: cfg.DefaultBoxHeightCM,
		})

	retentionService := services.NewRetentionService(orderStore, ledgerStore, auditStore, mailService,
		services.RetentionWindows{
			AbandonedNoticeAfter: cfg.AbandonedNoticeAfter,
			AbandonedDeleteAfter: cfg.AbandonedDeleteAfter,
			CleanupGracePeriod:   cfg.CleanupGracePeriod,
			DeferredNoticeWindow: cfg.DeferredNoticeWindow,
		})

	erasureService := services.NewErasureService(orderStore, ledgerStore, auditStore, cfg.TaxRetentionPeriod)

	orderHandler := handlers.NewOrderHandler(orderStore, mailService, abuseService,
		shiprocketClient, cfg.RazorpayKeyID, cfg.PickupPincode, cfg.FlatShippingFee)
	paymentHandler := handlers.NewPaymentHandler(razorpayService)
	shipmentHandler := handlers.NewShipmentHandler(shipmentService)
	privacyHandler := handlers.NewPrivacyHandler(erasureService)
	adminHandler := handlers.NewAdminHandler(cfg, orderStore, blockStore, abuseService)
	jobsHandler := handlers.NewJobsHandler(retentionService)

	api := app.Group("/api", middleware.BlocklistMiddleware(abuseService))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})

	// Guest order surface
	api.Post("/orders", orderHandler.CreateOrder)
	api.Get("/orders/:id", orderHandler.GetOrder)
	api.Post("/orders/:id/cancel", orderHandler.RequestCancellation)
	api.Post("/orders/:id/cancel/confirm", orderHandler.ConfirmCancellation)
	api.Post("/orders/:id/return", orderHandler.RequestReturn)
	api.Post("/orders/:id/return/confirm", orderHandler.ConfirmReturn)

	// Payment confirmation triggers
	api.Post("/payments/confirm", paymentHandler.Confirm)
	api.Post("/payments/webhook", paymentHandler.Webhook)

	// Privacy
	api.Post("/privacy/erasure", privacyHandler.RequestErasure)

	// Admin surface
	api.Post("/admin/login", adminHandler.Login)

	admin := api.Group("/admin", middleware.AdminAuthMiddleware(cfg))
	admin.Get("/orders", adminHandler.ListOrders)
	admin.Post("/orders/:id/ship", shipmentHandler.Assign)
	admin.Post("/orders/:id/status", adminHandler.AdvanceStatus)
	admin.Get("/blocks", adminHandler.ListBlocks)
	admin.Post("/blocks/unblock", adminHandler.Unblock)

	// Scheduled job triggers, admin-authenticated
	jobsGroup := api.Group("/internal/jobs", middleware.AdminAuthMiddleware(cfg))
	jobsGroup.Post("/abandoned-cleanup", jobsHandler.AbandonedCleanup)
	jobsGroup.Post("/deferred-erasure", jobsHandler.DeferredErasure)

	return &Services{Retention: retentionService, Abuse: abuseService}
}
