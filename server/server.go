// Package server exposes the validation engine over HTTP.
package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/studiocloud/mailprobe"
	"github.com/studiocloud/mailprobe/config"
)

// Server wires the validation engine into a Fiber application.
type Server struct {
	app       *fiber.App
	validator *mailprobe.Validator
	validate  *validator.Validate
	log       *logrus.Logger
	cfg       config.Config
}

// New builds the HTTP surface around an engine instance.
func New(v *mailprobe.Validator, cfg config.Config, log *logrus.Logger) *Server {
	limit := cfg.BulkLimitMB
	if limit <= 0 {
		limit = 10
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             limit * 1024 * 1024,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:       app,
		validator: v,
		validate:  validator.New(),
		log:       log,
		cfg:       cfg,
	}

	app.Use(CORS(cfg.CORSOrigin))

	app.Get("/health", s.handleHealth)
	app.Post("/validate", s.handleValidate)
	app.Post("/validate/batch", s.handleValidateBatch)
	app.Post("/validate/bulk", s.handleValidateBulk)

	return s
}

// App returns the underlying Fiber application (used by tests).
func (s *Server) App() *fiber.App { return s.app }

// Listen starts serving on the configured port and blocks until the
// server stops; a failure to bind the listener is returned as the error.
func (s *Server) Listen() error {
	s.log.WithField("port", s.cfg.ServerPort).Info("server starting")
	return s.app.Listen(":" + s.cfg.ServerPort)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error { return s.app.Shutdown() }
