package models

import "time"

// Identification is one attempt to determine a plant species from a set of
// uploaded images. Immutable after creation except for Species/Validated,
// which a human may confirm later.
type Identification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Species    *string   `json:"species"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	RawResult  string    `json:"raw_result,omitempty"`
	Validated  bool      `json:"validated"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdentificationImage is one uploaded image belonging to an Identification.
// IdentificationID stays empty until the batched identification call has
// succeeded and the row is written.
type IdentificationImage struct {
	ID               string    `json:"id"`
	IdentificationID string    `json:"identification_id"`
	StorageKey       string    `json:"storage_key"`
	Organ            string    `json:"organ"`
	Filename         string    `json:"filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// CacheEntry is a previously computed assistant answer, keyed by the
// digest of the normalized question. At most one live entry per hash.
type CacheEntry struct {
	QuestionHash string    `json:"question_hash"`
	Answer       string    `json:"answer"`
	HitCount     int       `json:"hit_count"`
	CostSaved    float64   `json:"cost_saved"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// QuotaCounter is consumption against one scope/window. Rows are created
// lazily and superseded once their window has passed.
type QuotaCounter struct {
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ChatExchange struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	Cached           bool      `json:"cached"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LatencyMS        int       `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}
