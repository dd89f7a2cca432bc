package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/imagevault/imagevault/internal/api"
	apimiddleware "github.com/imagevault/imagevault/internal/api/middleware"
)

// setupRouter builds the HTTP routing table. Read routes are public;
// everything that mutates state sits behind the admin JWT middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	queueHandler := api.NewQueueHandler(app.queue, app.logger)
	endpointHandler := api.NewEndpointHandler(app.registry, app.logger)
	imageHandler := api.NewImageHandler(
		app.db,
		app.imageStore,
		app.locationStore,
		app.registry,
		app.engine,
		app.queue,
		app.logger,
	)
	authMiddleware := apimiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)

	r.Route("/api", func(r chi.Router) {
		// Public read surface
		r.Get("/queue/status", queueHandler.Status)
		r.Get("/images/{id}", imageHandler.Get)
		r.Get("/images/{id}/url", imageHandler.GetURL)

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/queue/add", queueHandler.Add)
			r.Post("/queue/start", queueHandler.Start)
			r.Post("/queue/stop", queueHandler.Stop)
			r.Delete("/queue/clear", queueHandler.Clear)
			r.Delete("/queue/clear-completed", queueHandler.ClearCompleted)
			r.Put("/queue/config", queueHandler.Configure)
			r.Get("/queue/tasks/{taskID}", queueHandler.GetTask)
			r.Post("/queue/tasks/{taskID}/retry", queueHandler.Retry)
			r.Post("/queue/tasks/{taskID}/cancel", queueHandler.Cancel)

			r.Post("/endpoints", endpointHandler.Create)
			r.Get("/endpoints", endpointHandler.List)
			r.Put("/endpoints/{id}", endpointHandler.Update)
			r.Post("/endpoints/{id}/set-default", endpointHandler.SetDefault)

			r.Post("/images", imageHandler.Upload)
			r.Delete("/images/{id}", imageHandler.Delete)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
