package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/metrics"
	"github.com/plantpal/backend/internal/storage/models"
	"github.com/plantpal/backend/pkg/logger"
)

// Candidate is one species suggestion from the identification service.
// Score is on a 0-100 scale.
type Candidate struct {
	ScientificName string   `json:"scientific_name"`
	CommonNames    []string `json:"common_names,omitempty"`
	Score          float64  `json:"score"`
}

// ImagePart is one image as submitted to the identification service, with
// its resolved organ value.
type ImagePart struct {
	Data     []byte
	Filename string
	Organ    Organ
}

// Recognizer is the external identification service. All images of one
// request go out as a single batch; the service uses multiple views of the
// same specimen to improve accuracy.
type Recognizer interface {
	Identify(ctx context.Context, images []ImagePart) ([]Candidate, error)
	Source() string
}

// ObjectStore is the blob storage collaborator. A locator returned by Put
// is durable.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, filename string) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
}

// Store persists an identification together with its images in one
// transaction.
type Store interface {
	CreateIdentification(ctx context.Context, ident *models.Identification, images []*models.IdentificationImage) error
}

type Orchestrator struct {
	blobs         ObjectStore
	recognizer    Recognizer
	store         Store
	minConfidence float64
	maxCandidates int
}

type Request struct {
	UserID  string
	Images  []ImageInput
	Organs  []string
	Persist bool
}

type Result struct {
	Identification *models.Identification
	Images         []*models.IdentificationImage
	Candidates     []Candidate
}

func NewOrchestrator(blobs ObjectStore, recognizer Recognizer, store Store, minConfidence float64, maxCandidates int) *Orchestrator {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &Orchestrator{
		blobs:         blobs,
		recognizer:    recognizer,
		store:         store,
		minConfidence: minConfidence,
		maxCandidates: maxCandidates,
	}
}

// Identify validates the request, uploads the images, calls the
// identification service once with the whole batch, ranks the candidates
// and optionally persists the result. Validation failures happen before
// any I/O; an upload failure aborts before the external call is paid for.
func (o *Orchestrator) Identify(ctx context.Context, req Request) (*Result, error) {
	organs, err := ValidateImageSet(req.Images, req.Organs)
	if err != nil {
		return nil, err
	}
	resolved := ResolveOrgans(organs, len(req.Images))

	locators, err := o.uploadAll(ctx, req.Images)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	parts := make([]ImagePart, len(req.Images))
	for i, img := range req.Images {
		parts[i] = ImagePart{Data: img.Data, Filename: img.Filename, Organ: resolved[i]}
	}

	candidates, err := o.recognizer.Identify(ctx, parts)
	if err != nil {
		metrics.IdentificationTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	ident := &models.Identification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Source:    o.recognizer.Source(),
		RawResult: summarizeCandidates(candidates, o.maxCandidates),
		CreatedAt: time.Now(),
	}

	if len(candidates) > 0 {
		top := candidates[0]
		ident.Confidence = top.Score
		if top.Score >= o.minConfidence {
			species := top.ScientificName
			ident.Species = &species
		}
		metrics.CandidateScore.Observe(top.Score)
	}

	images := make([]*models.IdentificationImage, len(req.Images))
	for i, img := range req.Images {
		images[i] = &models.IdentificationImage{
			ID:         uuid.New().String(),
			StorageKey: locators[i],
			Organ:      string(resolved[i]),
			Filename:   img.Filename,
			CreatedAt:  ident.CreatedAt,
		}
	}

	if req.Persist {
		for _, img := range images {
			img.IdentificationID = ident.ID
		}
		if err := o.store.CreateIdentification(ctx, ident, images); err != nil {
			// The external call already happened and the blobs are
			// durable; surface the failure loudly instead of retrying
			// or cleaning up.
			logger.Error("Identification persisted nothing after successful external call",
				zap.String("identification_id", ident.ID),
				zap.Error(err),
			)
			metrics.IdentificationTotal.WithLabelValues("persist_error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
	}

	logger.Info("Identification completed",
		zap.String("identification_id", ident.ID),
		zap.String("user_id", req.UserID),
		zap.Int("images", len(images)),
		zap.Int("candidates", len(candidates)),
		zap.Float64("top_score", ident.Confidence),
		zap.Bool("species_resolved", ident.Species != nil),
	)
	metrics.IdentificationTotal.WithLabelValues("ok").Inc()

	return &Result{
		Identification: ident,
		Images:         images,
		Candidates:     candidates,
	}, nil
}

// uploadAll uploads every image concurrently. Any single failure fails the
// whole batch; locators already acquired are simply left behind for a
// background sweep, never deleted inline.
func (o *Orchestrator) uploadAll(ctx context.Context, images []ImageInput) ([]string, error) {
	locators := make([]string, len(images))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, img := range images {
		wg.Add(1)
		go func(i int, img ImageInput) {
			defer wg.Done()
			locator, err := o.blobs.Put(ctx, img.Data, img.Filename)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			locators[i] = locator
		}(i, img)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return locators, nil
}

// summarizeCandidates keeps a bounded top-N summary rather than the full
// vendor payload.
func summarizeCandidates(candidates []Candidate, max int) string {
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return "[]"
	}
	return string(data)
}
