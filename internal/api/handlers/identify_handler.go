package handlers

import (
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/identify"
	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/internal/storage/sqlite"
	"github.com/plantpal/backend/pkg/logger"
)

type IdentifyHandler struct {
	orchestrator *identify.Orchestrator
	db           *sqlite.Client
}

func NewIdentifyHandler(orchestrator *identify.Orchestrator, db *sqlite.Client) *IdentifyHandler {
	return &IdentifyHandler{
		orchestrator: orchestrator,
		db:           db,
	}
}

func (h *IdentifyHandler) HandleIdentify(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Expected multipart form with images",
		})
	}

	files := form.File["images"]
	images := make([]identify.ImageInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Failed to read uploaded image",
			})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Failed to read uploaded image",
			})
		}
		images = append(images, identify.ImageInput{Data: data, Filename: fh.Filename})
	}

	organs := form.Value["organs"]
	if len(organs) == 0 {
		organs = []string{string(identify.OrganUnspecified)}
	}

	start := time.Now()
	result, err := h.orchestrator.Identify(c.Context(), identify.Request{
		UserID:  c.Get("X-User-ID"),
		Images:  images,
		Organs:  organs,
		Persist: true,
	})
	if err != nil {
		return identifyError(c, err)
	}
	metrics.IdentificationDuration.Observe(time.Since(start).Seconds())

	return c.JSON(fiber.Map{
		"id":         result.Identification.ID,
		"species":    result.Identification.Species,
		"confidence": result.Identification.Confidence,
		"source":     result.Identification.Source,
		"candidates": result.Candidates,
		"images":     len(result.Images),
	})
}

func (h *IdentifyHandler) GetIdentification(c *fiber.Ctx) error {
	id := c.Params("id")

	ident, images, err := h.db.GetIdentification(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load identification", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load identification",
		})
	}
	if ident == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Identification not found",
		})
	}

	return c.JSON(fiber.Map{
		"identification": ident,
		"images":         images,
	})
}

func (h *IdentifyHandler) ListIdentifications(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	results, err := h.db.ListIdentifications(c.Context(), userID, limit)
	if err != nil {
		logger.Error("Failed to list identifications", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list identifications",
		})
	}

	return c.JSON(fiber.Map{
		"identifications": results,
	})
}

func (h *IdentifyHandler) ConfirmSpecies(c *fiber.Ctx) error {
	var req struct {
		Species string `json:"species"`
	}
	if err := c.BodyParser(&req); err != nil || req.Species == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Species is required",
		})
	}

	if err := h.db.ConfirmSpecies(c.Context(), c.Params("id"), req.Species); err != nil {
		logger.Error("Failed to confirm species", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to confirm species",
		})
	}

	return c.JSON(fiber.Map{
		"status": "confirmed",
	})
}

func identifyError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, identify.ErrInvalidImageCount),
		errors.Is(err, identify.ErrOrganCountMismatch),
		errors.Is(err, identify.ErrInvalidOrganValue):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, identify.ErrUploadFailed),
		errors.Is(err, identify.ErrExternalService):
		logger.Error("Identification failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Identification is temporarily unavailable. Please try again.",
		})
	case errors.Is(err, identify.ErrPersistenceFailed):
		logger.Error("Identification persistence failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Identification could not be saved. Please try again.",
		})
	default:
		logger.Error("Identification failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process identification",
		})
	}
}
