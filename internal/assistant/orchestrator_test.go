package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantpal/backend/internal/llm"
	"github.com/plantpal/backend/internal/quota"
	"github.com/plantpal/backend/internal/storage/models"
)

type fakeResponder struct {
	calls   int
	lastReq llm.ChatRequest
	answer  string
	err     error
}

func (f *fakeResponder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Content: f.answer,
		Usage:   llm.Usage{PromptTokens: 50, CompletionTokens: 30, TotalTokens: 80},
	}, nil
}

type fakeQuota struct {
	calls int
	err   error
}

func (f *fakeQuota) CheckAndReserve(ctx context.Context, userID string) error {
	f.calls++
	return f.err
}

type fakeExchangeStore struct {
	saved   []*models.ChatExchange
	history []models.ChatExchange
}

func (f *fakeExchangeStore) SaveExchange(ctx context.Context, exchange *models.ChatExchange) error {
	f.saved = append(f.saved, exchange)
	return nil
}

func (f *fakeExchangeStore) RecentExchanges(ctx context.Context, userID, conversationID string, limit int) ([]models.ChatExchange, error) {
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func newTestOrchestrator(cacheStore CacheStore, q QuotaChecker, chat Responder, store ExchangeStore) *Orchestrator {
	return NewOrchestrator(newTestCache(cacheStore), q, chat, store, 3)
}

func TestAskCallsServiceOnMiss(t *testing.T) {
	responder := &fakeResponder{answer: "Water it weekly."}
	q := &fakeQuota{}
	store := &fakeExchangeStore{}
	o := newTestOrchestrator(newMemCacheStore(), q, responder, store)

	result, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-1",
		Question: "How often should I water a monstera?",
	})
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "Water it weekly.", result.Answer)
	assert.Equal(t, 1, q.calls)
	assert.Equal(t, 1, responder.calls)

	require.Len(t, store.saved, 1)
	assert.Equal(t, 50, store.saved[0].PromptTokens)
	assert.False(t, store.saved[0].Cached)
}

func TestAskSecondCallHitsCacheAndSkipsQuota(t *testing.T) {
	responder := &fakeResponder{answer: "Water it weekly."}
	q := &fakeQuota{}
	store := &fakeExchangeStore{}
	o := newTestOrchestrator(newMemCacheStore(), q, responder, store)

	_, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-1",
		Question: "How often should I water a monstera?",
	})
	require.NoError(t, err)

	result, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-2",
		Question: "how often should I water a MONSTERA?",
	})
	require.NoError(t, err)

	assert.True(t, result.Cached)
	assert.Equal(t, "Water it weekly.", result.Answer)
	assert.Equal(t, 1, responder.calls, "external service called exactly once")
	assert.Equal(t, 1, q.calls, "a cache hit consumes no quota")

	require.Len(t, store.saved, 2)
	assert.True(t, store.saved[1].Cached)
}

func TestAskQuotaDenialShortCircuits(t *testing.T) {
	responder := &fakeResponder{answer: "should never be produced"}
	q := &fakeQuota{err: &quota.ExceededError{Scope: quota.ScopePerMinute}}
	cacheStore := newMemCacheStore()
	store := &fakeExchangeStore{}
	o := newTestOrchestrator(cacheStore, q, responder, store)

	_, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-1",
		Question: "a question nobody asked before",
	})

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, quota.ScopePerMinute, exceeded.Scope)

	assert.Equal(t, 0, responder.calls, "no external call on quota denial")
	assert.Empty(t, cacheStore.entries, "no cache write on quota denial")
	assert.Empty(t, store.saved, "nothing to persist on quota denial")
}

func TestAskExternalFailureLeavesNoCacheEntry(t *testing.T) {
	responder := &fakeResponder{err: errors.New("model overloaded")}
	q := &fakeQuota{}
	cacheStore := newMemCacheStore()
	o := newTestOrchestrator(cacheStore, q, responder, &fakeExchangeStore{})

	_, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-1",
		Question: "why are the leaves yellow?",
	})
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Empty(t, cacheStore.entries, "failures must not consume a cache slot")
}

func TestAskBoundsConversationContext(t *testing.T) {
	responder := &fakeResponder{answer: "ok"}
	store := &fakeExchangeStore{
		history: []models.ChatExchange{
			{Question: "q5", Answer: "a5"},
			{Question: "q4", Answer: "a4"},
			{Question: "q3", Answer: "a3"},
			{Question: "q2", Answer: "a2"},
			{Question: "q1", Answer: "a1"},
		},
	}
	o := newTestOrchestrator(newMemCacheStore(), &fakeQuota{}, responder, store)

	_, err := o.Ask(context.Background(), AskRequest{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Question:       "q6",
	})
	require.NoError(t, err)

	// 3 prior turns (question+answer each) plus the new question.
	require.Len(t, responder.lastReq.Messages, 7)
	assert.Equal(t, "q3", responder.lastReq.Messages[0].Content, "oldest kept turn first")
	assert.Equal(t, "q6", responder.lastReq.Messages[6].Content)
}

func TestAskIncludesPlantContext(t *testing.T) {
	responder := &fakeResponder{answer: "ok"}
	o := newTestOrchestrator(newMemCacheStore(), &fakeQuota{}, responder, &fakeExchangeStore{})

	_, err := o.Ask(context.Background(), AskRequest{
		UserID:   "user-1",
		Question: "how much light does it need?",
		Plant: &PlantContext{
			Name:    "Fred",
			Species: "Monstera deliciosa",
		},
	})
	require.NoError(t, err)

	assert.Contains(t, responder.lastReq.System, "Monstera deliciosa")
	assert.Contains(t, responder.lastReq.System, "Fred")
}
