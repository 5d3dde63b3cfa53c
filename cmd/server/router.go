package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/lookbook/internal/api"
	apiMiddleware "github.com/phrazzld/lookbook/internal/api/middleware"
)

// routerDeps are the handlers the router mounts
type routerDeps struct {
	handler *api.Handler
	auth    *apiMiddleware.AuthMiddleware
	metrics http.Handler

	// artifacts is mounted under artifactsPath when set
	artifacts http.Handler
	logger    *slog.Logger
}

// newRouter creates the application router with all routes and middleware
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(d.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(d.auth.Authenticate)
			r.Post("/generate", d.handler.Generate)
			r.Get("/requests/{id}", d.handler.GetRequest)
			r.Get("/queue/status", d.handler.QueueStatus)
		})
	})

	r.Get("/health", api.Health)
	r.Method(http.MethodGet, "/metrics", d.metrics)

	if d.artifacts != nil {
		r.Method(http.MethodGet, artifactsPath+"/*", http.StripPrefix(artifactsPath, d.artifacts))
	}
	return r
}
