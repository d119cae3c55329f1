package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/internal/storage/models"
	"github.com/plantpal/backend/pkg/logger"
	"github.com/plantpal/backend/pkg/utils"
)

// CacheStore is the persistence behind the answer cache. GetEntry returns
// nil without error when no row exists.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, hash string) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error
	RecordCacheHit(ctx context.Context, hash string, savings float64) error
}

// ResponseCache stores previous assistant answers keyed by the digest of
// the normalized question. Its whole purpose is to avoid paying for the
// external conversational call twice for the same question.
type ResponseCache struct {
	store       CacheStore
	ttl         time.Duration
	costPerCall float64
	now         func() time.Time
}

func NewResponseCache(store CacheStore, ttl time.Duration, costPerCall float64) *ResponseCache {
	return &ResponseCache{
		store:       store,
		ttl:         ttl,
		costPerCall: costPerCall,
		now:         time.Now,
	}
}

// Lookup returns the cached answer for the question if a live entry
// exists, bumping the hit counter and savings accounting. An expired row
// behaves as a miss; the next Store overwrites it.
func (c *ResponseCache) Lookup(ctx context.Context, question string) (*models.CacheEntry, bool, error) {
	hash := utils.HashText(utils.NormalizeText(question))

	entry, err := c.store.GetCacheEntry(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || !c.now().Before(entry.ExpiresAt) {
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	if err := c.store.RecordCacheHit(ctx, hash, c.costPerCall); err != nil {
		// The answer is still good; losing one hit-count bump is not.
		logger.Warn("Failed to record cache hit", zap.String("hash", hash), zap.Error(err))
	}
	entry.HitCount++
	entry.CostSaved += c.costPerCall

	metrics.CacheHits.Inc()
	metrics.CacheCostSaved.Add(c.costPerCall)

	return entry, true, nil
}

// Store upserts the answer under a fresh TTL window starting now, not at
// the question's first-seen time.
func (c *ResponseCache) Store(ctx context.Context, question, answer string) error {
	now := c.now()
	entry := &models.CacheEntry{
		QuestionHash: utils.HashText(utils.NormalizeText(question)),
		Answer:       answer,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}
	return c.store.UpsertCacheEntry(ctx, entry)
}
