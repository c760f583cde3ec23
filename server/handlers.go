package server

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/studiocloud/mailprobe"
	"github.com/studiocloud/mailprobe/internal/csvio"
	"github.com/studiocloud/mailprobe/types"
)

type validateRequest struct {
	Email string `json:"email" validate:"required"`
}

type batchRequest struct {
	Emails []string `json:"emails" validate:"required,min=1"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) handleValidate(c *fiber.Ctx) error {
	var req validateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(mailprobe.Invalid("", "Email address is required"))
	}
	if err := s.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(mailprobe.Invalid("", "Email address is required"))
	}

	result, _ := s.validator.Validate(c.UserContext(), req.Email)
	return c.JSON(result)
}

func (s *Server) handleValidateBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "emails array is required",
		})
	}
	if err := s.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "emails array is required",
		})
	}

	results := s.validator.ValidateMany(c.UserContext(), req.Emails)
	return c.JSON(results)
}

// handleValidateBulk accepts a multipart CSV upload and answers with a
// chunked stream of newline-delimited JSON progress events, ending in
// a complete event.
func (s *Server) handleValidateBulk(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "CSV file upload is required",
		})
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "only .csv files are accepted",
		})
	}

	tmp, err := os.CreateTemp("", "mailprobe-bulk-*.csv")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store upload",
		})
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := c.SaveFile(fh, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store upload",
		})
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read upload",
		})
	}
	file, err := csvio.Read(f)
	_ = f.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	emails := file.Emails()
	s.log.WithField("rows", len(emails)).Info("bulk validation started")

	// The stream writer runs after this handler returns, so it gets
	// its own context; a failed write means the client went away and
	// cancels the scheduler at the next batch boundary.
	ctx, cancel := context.WithCancel(context.Background())

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer os.Remove(tmpPath)
		defer cancel()

		enc := json.NewEncoder(w)
		for ev := range s.validator.ValidateStream(ctx, emails) {
			if err := enc.Encode(ev); err != nil {
				cancel()
				return
			}
			if err := w.Flush(); err != nil {
				cancel()
				return
			}
			if ev.Type == types.EventComplete {
				s.log.WithField("rows", len(ev.Results)).Info("bulk validation complete")
			}
		}
	})

	return nil
}
