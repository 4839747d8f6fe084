// Package main provides the Approvio API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/approvio/pkg/engine"
	"github.com/dukex/approvio/pkg/eventbus"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/services"
	"github.com/dukex/approvio/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	directory   engine.RoleDirectory
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	directory engine.RoleDirectory,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		directory:   directory,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	definitionService := services.NewDefinition(a.persistence)
	workflowEngine := engine.New(a.persistence, a.directory, a.eventBus, a.logger, nil)

	handlers := web.NewAPIHandlers(definitionService, workflowEngine, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvio API")
	})

	d := app.Group("/definitions")
	d.Get("/", handlers.GetDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Post("/import", handlers.ImportDefinition)
	d.Get("/:id", handlers.GetDefinition)
	d.Put("/:id", handlers.UpdateDefinition)
	d.Delete("/:id", handlers.DeleteDefinition)

	i := app.Group("/instances")
	i.Post("/", handlers.CreateInstance)
	i.Get("/by-document/:documentType/:documentId", handlers.GetInstanceByDocument)
	i.Get("/:id", handlers.GetInstance)
	i.Get("/:id/transitions", handlers.GetAvailableTransitions)
	i.Post("/:id/transitions/:transitionId", handlers.InvokeTransition)
	i.Get("/:id/history", handlers.GetInstanceHistory)
	i.Get("/:id/approvals", handlers.GetInstanceApprovals)

	ap := app.Group("/approvals")
	ap.Get("/pending", handlers.GetPendingApprovals)
	ap.Post("/:id/respond", handlers.RespondToApproval)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
