package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/assistant"
	"github.com/plantpal/backend/internal/quota"
	"github.com/plantpal/backend/pkg/logger"
)

type ChatHandler struct {
	orchestrator *assistant.Orchestrator
}

func NewChatHandler(orchestrator *assistant.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		UserID         string `json:"user_id"`
		ConversationID string `json:"conversation_id"`
		Question       string `json:"question"`
		Plant          *struct {
			Name    string `json:"name"`
			Species string `json:"species"`
			Notes   string `json:"notes"`
		} `json:"plant"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	askReq := assistant.AskRequest{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
	}
	if req.Plant != nil {
		askReq.Plant = &assistant.PlantContext{
			Name:    req.Plant.Name,
			Species: req.Plant.Species,
			Notes:   req.Plant.Notes,
		}
	}

	result, err := h.orchestrator.Ask(c.Context(), askReq)
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Assistant usage limit reached. Please try again later.",
				"scope": string(exceeded.Scope),
			})
		}
		if errors.Is(err, assistant.ErrExternalService) {
			logger.Error("Assistant call failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "The assistant is temporarily unavailable. Please try again.",
			})
		}
		logger.Error("Failed to process question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process question",
		})
	}

	return c.JSON(fiber.Map{
		"id":     result.ExchangeID,
		"answer": result.Answer,
		"cached": result.Cached,
	})
}
