package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/quota"
	"github.com/plantpal/backend/internal/storage/models"
	"github.com/plantpal/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	// Immediate transactions take the write lock up front, which keeps
	// the quota check-then-increment atomic under concurrent callers.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		species TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		raw_result TEXT,
		validated INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_identifications_user ON identifications(user_id);
	CREATE INDEX IF NOT EXISTS idx_identifications_created ON identifications(created_at);

	CREATE TABLE IF NOT EXISTS identification_images (
		id TEXT PRIMARY KEY,
		identification_id TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		organ TEXT NOT NULL,
		filename TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (identification_id) REFERENCES identifications(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_images_identification ON identification_images(identification_id);

	CREATE TABLE IF NOT EXISTS answer_cache (
		question_hash TEXT PRIMARY KEY,
		answer TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		cost_saved REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answer_cache_expires ON answer_cache(expires_at);

	CREATE TABLE IF NOT EXISTS quota_counters (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quota_counters_expires ON quota_counters(expires_at);

	CREATE TABLE IF NOT EXISTS chat_exchanges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		cached INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_user ON chat_exchanges(user_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON chat_exchanges(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created ON chat_exchanges(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// CreateIdentification writes the identification and all of its images in
// one transaction.
func (c *Client) CreateIdentification(ctx context.Context, ident *models.Identification, images []*models.IdentificationImage) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	validated := 0
	if ident.Validated {
		validated = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identifications (id, user_id, species, confidence, source, raw_result, validated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		ident.UserID,
		ident.Species,
		ident.Confidence,
		ident.Source,
		ident.RawResult,
		validated,
		ident.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert identification: %w", err)
	}

	for _, img := range images {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identification_images (id, identification_id, storage_key, organ, filename, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			img.ID,
			img.IdentificationID,
			img.StorageKey,
			img.Organ,
			img.Filename,
			img.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert identification image: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identification: %w", err)
	}

	logger.Debug("Identification stored",
		zap.String("identification_id", ident.ID),
		zap.Int("images", len(images)),
	)
	return nil
}

func (c *Client) GetIdentification(ctx context.Context, id string) (*models.Identification, []*models.IdentificationImage, error) {
	var ident models.Identification
	var validated int
	var createdAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, user_id, species, confidence, source, raw_result, validated, created_at
		FROM identifications WHERE id = ?`, id).Scan(
		&ident.ID,
		&ident.UserID,
		&ident.Species,
		&ident.Confidence,
		&ident.Source,
		&ident.RawResult,
		&validated,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get identification: %w", err)
	}
	ident.Validated = validated != 0
	ident.CreatedAt = time.Unix(createdAt, 0)

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, identification_id, storage_key, organ, filename, created_at
		FROM identification_images WHERE identification_id = ?`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get identification images: %w", err)
	}
	defer rows.Close()

	var images []*models.IdentificationImage
	for rows.Next() {
		var img models.IdentificationImage
		var imgCreatedAt int64
		if err := rows.Scan(&img.ID, &img.IdentificationID, &img.StorageKey, &img.Organ, &img.Filename, &imgCreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		img.CreatedAt = time.Unix(imgCreatedAt, 0)
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate image rows: %w", err)
	}

	return &ident, images, nil
}

func (c *Client) ListIdentifications(ctx context.Context, userID string, limit int) ([]models.Identification, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, species, confidence, source, validated, created_at
		FROM identifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list identifications: %w", err)
	}
	defer rows.Close()

	var results []models.Identification
	for rows.Next() {
		var ident models.Identification
		var validated int
		var createdAt int64
		if err := rows.Scan(&ident.ID, &ident.UserID, &ident.Species, &ident.Confidence, &ident.Source, &validated, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan identification row: %w", err)
		}
		ident.Validated = validated != 0
		ident.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, ident)
	}
	return results, rows.Err()
}

// ConfirmSpecies records a human-confirmed species and flips the validated
// flag. This and the validated flag are the only mutations an
// identification sees after creation.
func (c *Client) ConfirmSpecies(ctx context.Context, id, species string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE identifications SET species = ?, validated = 1 WHERE id = ?`,
		species, id)
	if err != nil {
		return fmt.Errorf("failed to confirm species: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check confirm result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identification %s not found", id)
	}

	logger.Info("Species confirmed", zap.String("identification_id", id), zap.String("species", species))
	return nil
}

func (c *Client) GetCacheEntry(ctx context.Context, hash string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	var createdAt, expiresAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT question_hash, answer, hit_count, cost_saved, created_at, expires_at
		FROM answer_cache WHERE question_hash = ?`, hash).Scan(
		&entry.QuestionHash,
		&entry.Answer,
		&entry.HitCount,
		&entry.CostSaved,
		&createdAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.CreatedAt = time.Unix(createdAt, 0)
	entry.ExpiresAt = time.Unix(expiresAt, 0)
	return &entry, nil
}

// UpsertCacheEntry replaces whatever lives under the hash, starting a fresh
// TTL window and resetting the hit accounting.
func (c *Client) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO answer_cache (question_hash, answer, hit_count, cost_saved, created_at, expires_at)
		VALUES (?, ?, 0, 0, ?, ?)
		ON CONFLICT(question_hash) DO UPDATE SET
			answer = excluded.answer,
			hit_count = 0,
			cost_saved = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.QuestionHash,
		entry.Answer,
		entry.CreatedAt.Unix(),
		entry.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (c *Client) RecordCacheHit(ctx context.Context, hash string, savings float64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE answer_cache SET hit_count = hit_count + 1, cost_saved = cost_saved + ?
		WHERE question_hash = ?`, savings, hash)
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

// ReserveAll implements quota.CounterStore. SQLite serializes writers, so
// checking and incrementing the whole reservation set inside one immediate
// transaction is atomic for every caller sharing this database.
func (c *Client) ReserveAll(ctx context.Context, reservations []quota.Reservation) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin quota transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	for i, r := range reservations {
		var count int64
		var expiresAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT count, expires_at FROM quota_counters WHERE key = ?`, r.Key).
			Scan(&count, &expiresAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to read quota counter: %w", err)
		}
		if err == nil && now.Unix() < expiresAt && count >= r.Limit {
			return i, nil
		}
	}

	for _, r := range reservations {
		expiresAt := now.Add(r.Window).Unix()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_counters (key, count, expires_at) VALUES (?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				count = CASE WHEN quota_counters.expires_at <= ? THEN 1 ELSE quota_counters.count + 1 END,
				expires_at = CASE WHEN quota_counters.expires_at <= ? THEN excluded.expires_at ELSE quota_counters.expires_at END`,
			r.Key, expiresAt, now.Unix(), now.Unix())
		if err != nil {
			return 0, fmt.Errorf("failed to increment quota counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quota reservation: %w", err)
	}

	return -1, nil
}

// PruneExpiredCounters drops counters whose window has passed. Counters
// reset by key rotation; this only keeps the table from growing.
func (c *Client) PruneExpiredCounters(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM quota_counters WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to prune quota counters: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		logger.Debug("Pruned expired quota counters", zap.Int64("count", affected))
	}
	return nil
}

func (c *Client) SaveExchange(ctx context.Context, exchange *models.ChatExchange) error {
	cached := 0
	if exchange.Cached {
		cached = 1
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO chat_exchanges (id, user_id, conversation_id, question, answer, cached, prompt_tokens, completion_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exchange.ID,
		exchange.UserID,
		exchange.ConversationID,
		exchange.Question,
		exchange.Answer,
		cached,
		exchange.PromptTokens,
		exchange.CompletionTokens,
		exchange.LatencyMS,
		exchange.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}

	logger.Debug("Exchange saved",
		zap.String("exchange_id", exchange.ID),
		zap.Bool("cached", exchange.Cached),
	)
	return nil
}

// RecentExchanges returns the newest exchanges first.
func (c *Client) RecentExchanges(ctx context.Context, userID, conversationID string, limit int) ([]models.ChatExchange, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, question, answer, cached, prompt_tokens, completion_tokens, latency_ms, created_at
		FROM chat_exchanges
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []models.ChatExchange
	for rows.Next() {
		var e models.ChatExchange
		var cached int
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConversationID, &e.Question, &e.Answer, &cached, &e.PromptTokens, &e.CompletionTokens, &e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange row: %w", err)
		}
		e.Cached = cached != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}
