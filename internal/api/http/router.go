package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicq/queue-service/internal/api/http/handlers"
	"github.com/civicq/queue-service/internal/auth"
	"github.com/civicq/queue-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Departments    *handlers.DepartmentsHandler
	Appointments   *handlers.AppointmentsHandler
	Waitlist       *handlers.WaitlistHandler
	Queue          *handlers.QueueHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/departments", cfg.Departments.List)
	app.Get("/departments/:id/slots", cfg.Departments.Slots)

	authed := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	staff := auth.RequireStaff()

	authed.Post("/appointments", cfg.Appointments.Book)
	authed.Get("/appointments/:id", cfg.Appointments.Get)
	authed.Get("/appointments/:id/status", cfg.Appointments.Status)
	authed.Post("/appointments/:id/check-in", cfg.Appointments.CheckIn)
	authed.Post("/appointments/:id/cancel", cfg.Appointments.Cancel)
	authed.Post("/appointments/:id/reschedule", cfg.Appointments.Reschedule)
	authed.Post("/appointments/:id/no-show", staff, cfg.Appointments.MarkNoShow)
	authed.Post("/appointments/:id/reactivate", staff, cfg.Appointments.Reactivate)

	authed.Post("/waitlist", cfg.Waitlist.Join)
	authed.Delete("/waitlist/:id", cfg.Waitlist.Leave)
	authed.Get("/waitlist/:departmentId/:serviceId", staff, cfg.Waitlist.List)

	authed.Post("/queue/no-shows/sweep", auth.RequireRole(domain.RoleAdmin), cfg.Queue.SweepNoShows)
	authed.Post("/queue/tokens/:token/complete", staff, cfg.Queue.Complete)
	authed.Post("/queue/:departmentId/:serviceId/call-next", staff, cfg.Queue.CallNext)
	authed.Get("/queue/:departmentId/:serviceId", staff, cfg.Queue.Live)
}
