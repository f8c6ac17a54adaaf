package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openfield/eventlog-pipeline/api/controllers"
	"github.com/openfield/eventlog-pipeline/api/middleware"
	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

// RouterParams carries everything the HTTP surface depends on. Pingers may
// contain nil entries for dependencies a deployment does not wire.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Users       controllers.UserService
	OutboxAdmin controllers.OutboxAdmin
	Pingers     map[string]controllers.Pinger
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.Pingers))
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/", controllers.CreateUser(p.Users, p.Logger))
		r.Get("/{id}", controllers.GetUser(p.Users, p.Logger))
	})

	r.Route("/api/admin/v1/outbox", func(r chi.Router) {
		r.Get("/parked", controllers.OutboxParked(p.OutboxAdmin, p.Config.Outbox.MaxRetries, p.Logger))
		r.Post("/reset", controllers.OutboxResetFailed(p.OutboxAdmin, p.Logger))
	})

	return r
}
