package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sicko7947/world"
)

// Runs

func (s *Server) createRun(c fiber.Ctx) error {
	var req world.CreateRunRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	run, err := s.world.CreateRun(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(run)
}

func (s *Server) getRun(c fiber.Ctx) error {
	run, err := s.world.GetRun(c.Context(), c.Params("runId"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) updateRun(c fiber.Ctx) error {
	var update world.RunUpdate
	if err := bindJSON(c, &update); err != nil {
		return err
	}
	run, err := s.world.UpdateRun(c.Context(), c.Params("runId"), update)
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) listRuns(c fiber.Ctx) error {
	params, err := listParams(c)
	if err != nil {
		return err
	}
	filter := world.RunFilter{
		WorkflowName: c.Query("workflowName"),
		Status:       world.RunStatus(c.Query("status")),
	}
	page, err := s.world.ListRuns(c.Context(), filter, params)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *Server) cancelRun(c fiber.Ctx) error {
	run, err := s.world.CancelRun(c.Context(), c.Params("runId"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) pauseRun(c fiber.Ctx) error {
	run, err := s.world.PauseRun(c.Context(), c.Params("runId"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) resumeRun(c fiber.Ctx) error {
	run, err := s.world.ResumeRun(c.Context(), c.Params("runId"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

// Events

func (s *Server) createEvent(c fiber.Ctx) error {
	var req world.CreateEventRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.RunID = c.Params("runId")
	event, err := s.world.CreateEvent(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

func (s *Server) getEvent(c fiber.Ctx) error {
	event, err := s.world.GetEvent(c.Context(), c.Params("eventId"))
	if err != nil {
		return err
	}
	return c.JSON(event)
}

func (s *Server) listRunEvents(c fiber.Ctx) error {
	return s.listEvents(c, world.EventFilter{
		RunID:         c.Params("runId"),
		CorrelationID: c.Query("correlationId"),
	})
}

func (s *Server) listCorrelatedEvents(c fiber.Ctx) error {
	return s.listEvents(c, world.EventFilter{CorrelationID: c.Query("correlationId")})
}

func (s *Server) listEvents(c fiber.Ctx, filter world.EventFilter) error {
	params, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.world.ListEvents(c.Context(), filter, params)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// Steps

func (s *Server) createStep(c fiber.Ctx) error {
	var req world.CreateStepRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.RunID = c.Params("runId")
	step, err := s.world.CreateStep(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(step)
}

func (s *Server) getStep(c fiber.Ctx) error {
	step, err := s.world.GetStep(c.Context(), c.Params("stepId"))
	if err != nil {
		return err
	}
	return c.JSON(step)
}

func (s *Server) updateStep(c fiber.Ctx) error {
	var update world.StepUpdate
	if err := bindJSON(c, &update); err != nil {
		return err
	}
	step, err := s.world.UpdateStep(c.Context(), c.Params("stepId"), update)
	if err != nil {
		return err
	}
	return c.JSON(step)
}

func (s *Server) listSteps(c fiber.Ctx) error {
	params, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.world.ListSteps(c.Context(), world.StepFilter{RunID: c.Params("runId")}, params)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// Hooks

func (s *Server) createHook(c fiber.Ctx) error {
	var req world.CreateHookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.RunID = c.Params("runId")
	hook, err := s.world.CreateHook(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(hook)
}

func (s *Server) getHook(c fiber.Ctx) error {
	hook, err := s.world.GetHook(c.Context(), c.Params("hookId"))
	if err != nil {
		return err
	}
	return c.JSON(hook)
}

func (s *Server) getHookByToken(c fiber.Ctx) error {
	token, err := url.PathUnescape(c.Params("token"))
	if err != nil {
		return world.InvalidArgument("malformed token")
	}
	hook, err := s.world.GetHookByToken(c.Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(hook)
}

func (s *Server) listRunHooks(c fiber.Ctx) error {
	return s.listHooksFor(c, c.Params("runId"))
}

func (s *Server) listHooks(c fiber.Ctx) error {
	return s.listHooksFor(c, c.Query("runId"))
}

func (s *Server) listHooksFor(c fiber.Ctx, runID string) error {
	params, err := listParams(c)
	if err != nil {
		return err
	}
	page, err := s.world.ListHooks(c.Context(), world.HookFilter{RunID: runID}, params)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// Queue

type queueRequest struct {
	Message        json.RawMessage `json:"message"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

func (s *Server) queue(c fiber.Ctx) error {
	var req queueRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Message) == 0 {
		return world.InvalidArgument("message is required")
	}
	messageID, err := s.world.Queue(c.Context(), c.Params("queueName"), req.Message, world.QueueOptions{
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"messageId": messageID})
}

// Streams

// Stream names may contain slashes and arrive path-escaped
func streamName(c fiber.Ctx) (string, error) {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return "", world.InvalidArgument("malformed stream name")
	}
	return name, nil
}

func (s *Server) writeStream(c fiber.Ctx) error {
	name, err := streamName(c)
	if err != nil {
		return err
	}
	chunk := bytes.Clone(c.Body())
	if err := s.world.WriteToStream(c.Context(), name, chunk); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) closeStream(c fiber.Ctx) error {
	name, err := streamName(c)
	if err != nil {
		return err
	}
	if err := s.world.CloseStream(c.Context(), name); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// readStream streams the chunks from startIndex in order
func (s *Server) readStream(c fiber.Ctx) error {
	name, err := streamName(c)
	if err != nil {
		return err
	}
	startIndex := 0
	if raw := c.Query("startIndex"); raw != "" {
		startIndex, err = strconv.Atoi(raw)
		if err != nil {
			return world.InvalidArgument("startIndex must be an integer")
		}
	}

	reader, err := s.world.ReadFromStream(name, startIndex)
	if err != nil {
		return err
	}
	ctx := c.Context()
	remaining, err := reader.Remaining(ctx)
	if err != nil {
		return err
	}

	c.Set("X-Chunk-Count", strconv.Itoa(remaining))
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	logger := s.logger.With().Str("stream", name).Logger()
	return c.SendStreamWriter(func(w *bufio.Writer) {
		for chunk, err := range reader.All(ctx) {
			if err != nil {
				// Headers are already sent, so the body ends short
				logger.Error().Err(err).Msg("Failed to read stream chunk")
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

func (s *Server) listStreams(c fiber.Ctx) error {
	names, err := s.world.ListStreams(c.Context(), c.Query("prefix"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"streams": names})
}
