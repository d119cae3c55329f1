package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/llm"
	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/internal/storage/models"
	"github.com/plantpal/backend/pkg/logger"
)

// ErrExternalService means the conversational service could not produce an
// answer. The caller shows a generic "try again" message, never the vendor
// error text.
var ErrExternalService = errors.New("assistant service failed")

const systemPrompt = `You are a friendly plant-care assistant. Answer questions about watering,
light, soil, fertilizing, pests and general plant health. Be concise and
practical. If a question is not about plants or plant care, say so politely.`

// Responder is the external conversational service.
type Responder interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// QuotaChecker gates external conversational calls. A denial is returned
// as a *quota.ExceededError naming the exhausted scope.
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, userID string) error
}

// ExchangeStore persists finished exchanges and serves the bounded context
// window.
type ExchangeStore interface {
	SaveExchange(ctx context.Context, exchange *models.ChatExchange) error
	RecentExchanges(ctx context.Context, userID, conversationID string, limit int) ([]models.ChatExchange, error)
}

// PlantContext is the structured subject-entity data for the conversation,
// typically the plant being discussed.
type PlantContext struct {
	Name    string
	Species string
	Notes   string
}

type AskRequest struct {
	UserID         string
	ConversationID string
	Question       string
	Plant          *PlantContext
}

type AskResult struct {
	ExchangeID string
	Answer     string
	Cached     bool
}

type Orchestrator struct {
	cache    *ResponseCache
	quota    QuotaChecker
	chat     Responder
	store    ExchangeStore
	maxTurns int
}

func NewOrchestrator(cache *ResponseCache, quota QuotaChecker, chat Responder, store ExchangeStore, maxTurns int) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = 6
	}
	return &Orchestrator{
		cache:    cache,
		quota:    quota,
		chat:     chat,
		store:    store,
		maxTurns: maxTurns,
	}
}

// Ask answers a question, consulting the cache first (a hit is free and
// consumes no quota), then the quota enforcer, then the external service.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	start := time.Now()

	entry, hit, err := o.cache.Lookup(ctx, req.Question)
	if err != nil {
		// A broken cache must not block answering; treat as a miss.
		logger.Warn("Answer cache lookup failed", zap.Error(err))
	}
	if hit {
		logger.Info("Answer served from cache",
			zap.String("user_id", req.UserID),
			zap.Int("hit_count", entry.HitCount),
		)
		metrics.ChatTotal.WithLabelValues("cache_hit").Inc()
		exchangeID := o.persistExchange(ctx, req, entry.Answer, true, nil, start)
		return &AskResult{ExchangeID: exchangeID, Answer: entry.Answer, Cached: true}, nil
	}

	if err := o.quota.CheckAndReserve(ctx, req.UserID); err != nil {
		metrics.ChatTotal.WithLabelValues("quota_denied").Inc()
		return nil, err
	}

	resp, err := o.chat.Chat(ctx, llm.ChatRequest{
		System:   o.buildSystem(req.Plant),
		Messages: o.buildMessages(ctx, req),
	})
	if err != nil {
		metrics.ChatTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	if err := o.cache.Store(ctx, req.Question, resp.Content); err != nil {
		logger.Warn("Failed to store answer in cache", zap.Error(err))
	}

	exchangeID := o.persistExchange(ctx, req, resp.Content, false, &resp.Usage, start)

	metrics.ChatTotal.WithLabelValues("ok").Inc()
	return &AskResult{ExchangeID: exchangeID, Answer: resp.Content, Cached: false}, nil
}

func (o *Orchestrator) buildSystem(plant *PlantContext) string {
	if plant == nil {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nThe user is asking about this plant:\n")
	if plant.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", plant.Name)
	}
	if plant.Species != "" {
		fmt.Fprintf(&b, "Species: %s\n", plant.Species)
	}
	if plant.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", plant.Notes)
	}
	return b.String()
}

// buildMessages bounds the context to the most recent turns so request
// size stays predictable regardless of conversation length.
func (o *Orchestrator) buildMessages(ctx context.Context, req AskRequest) []llm.ChatMessage {
	var messages []llm.ChatMessage

	history, err := o.store.RecentExchanges(ctx, req.UserID, req.ConversationID, o.maxTurns)
	if err != nil {
		logger.Warn("Failed to load conversation history", zap.Error(err))
	}

	// RecentExchanges returns newest first.
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages,
			llm.ChatMessage{Role: llm.RoleUser, Content: history[i].Question},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: history[i].Answer},
		)
	}

	return append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: req.Question})
}

// persistExchange records the exchange. A failure here is logged loudly
// but does not take the already-produced answer away from the user.
func (o *Orchestrator) persistExchange(ctx context.Context, req AskRequest, answer string, cached bool, usage *llm.Usage, start time.Time) string {
	exchange := &models.ChatExchange{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
		Answer:         answer,
		Cached:         cached,
		LatencyMS:      int(time.Since(start).Milliseconds()),
		CreatedAt:      time.Now(),
	}
	if usage != nil {
		exchange.PromptTokens = usage.PromptTokens
		exchange.CompletionTokens = usage.CompletionTokens
	}

	if err := o.store.SaveExchange(ctx, exchange); err != nil {
		logger.Error("Failed to persist chat exchange",
			zap.String("exchange_id", exchange.ID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}

	return exchange.ID
}
