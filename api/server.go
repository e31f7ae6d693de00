// Package api exposes a World over HTTP and forwards dispatched jobs to an
// HTTP processor.
package api

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/sicko7947/world"
)

// Server serves the record, queue and stream operations of a World
type Server struct {
	world  *world.World
	app    *fiber.App
	logger zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server with all routes registered
func NewServer(w *world.World, opts ...Option) *Server {
	s := &Server{
		world: w,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger().
			Level(zerolog.InfoLevel),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "worldd",
		ErrorHandler: s.handleError,
	})
	s.registerRoutes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops the server, waiting up to timeout for open requests
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	app := s.app

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	runs := app.Group("/runs")
	runs.Post("/", s.createRun)
	runs.Get("/", s.listRuns)
	runs.Get("/:runId", s.getRun)
	runs.Patch("/:runId", s.updateRun)
	runs.Post("/:runId/cancel", s.cancelRun)
	runs.Post("/:runId/pause", s.pauseRun)
	runs.Post("/:runId/resume", s.resumeRun)
	runs.Post("/:runId/events", s.createEvent)
	runs.Get("/:runId/events", s.listRunEvents)
	runs.Post("/:runId/steps", s.createStep)
	runs.Get("/:runId/steps", s.listSteps)
	runs.Post("/:runId/hooks", s.createHook)
	runs.Get("/:runId/hooks", s.listRunHooks)

	app.Get("/events", s.listCorrelatedEvents)
	app.Get("/events/:eventId", s.getEvent)

	app.Get("/steps/:stepId", s.getStep)
	app.Patch("/steps/:stepId", s.updateStep)

	app.Get("/hooks", s.listHooks)
	app.Get("/hooks/by-token/:token", s.getHookByToken)
	app.Get("/hooks/:hookId", s.getHook)

	app.Post("/queue/:queueName", s.queue)

	app.Put("/streams/:name", s.writeStream)
	app.Post("/streams/:name/close", s.closeStream)
	app.Get("/streams/:name", s.readStream)
	app.Get("/streams", s.listStreams)
}

// handleError maps world errors onto status codes and a JSON error body
func (s *Server) handleError(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": &world.Error{Code: codeForStatus(fe.Code), Message: fe.Message},
		})
	}

	status := world.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": world.From(err)})
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return world.ErrCodeNotFound
	case fiber.StatusConflict:
		return world.ErrCodeConflict
	case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed, fiber.StatusUnprocessableEntity:
		return world.ErrCodeInvalidArgument
	case fiber.StatusServiceUnavailable:
		return world.ErrCodeUnavailable
	default:
		return world.ErrCodeInternal
	}
}

// listParams reads limit, cursor and sortOrder from the query string
func listParams(c fiber.Ctx) (world.ListParams, error) {
	params := world.ListParams{
		Cursor:    c.Query("cursor"),
		SortOrder: world.SortOrder(c.Query("sortOrder")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return params, world.InvalidArgument("limit must be a positive integer")
		}
		params.Limit = limit
	}
	return params, nil
}

// bindJSON decodes the request body, reporting malformed input as
// INVALID_ARGUMENT
func bindJSON(c fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return world.InvalidArgument("request body is required")
	}
	if err := c.Bind().JSON(out); err != nil {
		return &world.Error{Code: world.ErrCodeInvalidArgument, Message: "invalid request body", Err: err}
	}
	return nil
}
