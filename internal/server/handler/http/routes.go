package http

import (
	"net/http"

	"github.com/atinyakov/ejauth/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the admin HTTP handler.
//
// Routes:
//
//	POST /api/users                          → usersHandler.Register
//	GET  /api/users/{server}/{user}          → usersHandler.Get
//	PUT  /api/users/{server}/{user}/active   → usersHandler.SetActive
//	GET  /api/events                         → eventsHandler.List
//	GET  /metrics                            → metricsHandler
//	GET  /healthz                            → 200 "ok"
//
// Request bodies must be JSON. When requireClientCert is set every route
// except /healthz and /metrics requires a client certificate.
func NewRouter(
	usersHandler *UsersHandler,
	eventsHandler *EventsHandler,
	metricsHandler http.Handler,
	logger *zap.Logger,
	requireClientCert bool,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	if requireClientCert {
		r.Use(middleware.CertAuth)
	}
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", usersHandler.Register)
		r.Get("/users/{server}/{user}", usersHandler.Get)
		r.Put("/users/{server}/{user}/active", usersHandler.SetActive)
		r.Get("/events", eventsHandler.List)
	})

	return r
}
