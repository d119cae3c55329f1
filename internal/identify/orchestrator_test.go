package identify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantpal/backend/internal/storage/models"
)

// --- fakes ---

type fakeBlobs struct {
	puts    atomic.Int64
	failPut bool
}

func (f *fakeBlobs) Put(ctx context.Context, data []byte, filename string) (string, error) {
	n := f.puts.Add(1)
	if f.failPut {
		return "", errors.New("bucket unreachable")
	}
	return fmt.Sprintf("uploads/test/%d", n), nil
}

func (f *fakeBlobs) Get(ctx context.Context, locator string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

type fakeRecognizer struct {
	calls      int
	gotParts   []ImagePart
	candidates []Candidate
	err        error
}

func (f *fakeRecognizer) Identify(ctx context.Context, images []ImagePart) ([]Candidate, error) {
	f.calls++
	f.gotParts = images
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func (f *fakeRecognizer) Source() string { return "testvision" }

type fakeStore struct {
	calls     int
	gotIdent  *models.Identification
	gotImages []*models.IdentificationImage
	err       error
}

func (f *fakeStore) CreateIdentification(ctx context.Context, ident *models.Identification, images []*models.IdentificationImage) error {
	f.calls++
	f.gotIdent = ident
	f.gotImages = images
	return f.err
}

func newTestOrchestrator(blobs *fakeBlobs, rec *fakeRecognizer, store *fakeStore) *Orchestrator {
	return NewOrchestrator(blobs, rec, store, 30, 5)
}

// --- tests ---

func TestIdentifyRejectsBeforeAnyIO(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	_, err := o.Identify(context.Background(), Request{
		Images: makeImages(6),
		Organs: []string{"leaf"},
	})
	assert.ErrorIs(t, err, ErrInvalidImageCount)

	_, err = o.Identify(context.Background(), Request{
		Images: makeImages(2),
		Organs: []string{"leaf", "nonsense"},
	})
	assert.ErrorIs(t, err, ErrInvalidOrganValue)

	assert.Equal(t, int64(0), blobs.puts.Load(), "no uploads on validation failure")
	assert.Equal(t, 0, rec.calls, "no external call on validation failure")
	assert.Equal(t, 0, store.calls, "no persistence on validation failure")
}

func TestIdentifyUploadFailureAbortsExternalCall(t *testing.T) {
	blobs := &fakeBlobs{failPut: true}
	rec := &fakeRecognizer{}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	_, err := o.Identify(context.Background(), Request{
		Images: makeImages(3),
		Organs: []string{"leaf"},
	})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, 0, rec.calls, "external service must not be called after upload failure")
	assert.Equal(t, 0, store.calls)
}

func TestIdentifyBatchWithResolvedOrgans(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{
		candidates: []Candidate{
			{ScientificName: "Monstera deliciosa", Score: 92},
			{ScientificName: "Epipremnum aureum", Score: 4},
		},
	}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	result, err := o.Identify(context.Background(), Request{
		UserID:  "user-1",
		Images:  makeImages(3),
		Organs:  []string{"leaf", "unspecified", "flower"},
		Persist: true,
	})
	require.NoError(t, err)

	// One batched call carrying every image with its resolved organ.
	require.Equal(t, 1, rec.calls)
	require.Len(t, rec.gotParts, 3)
	assert.Equal(t, OrganLeaf, rec.gotParts[0].Organ)
	assert.Equal(t, OrganAuto, rec.gotParts[1].Organ)
	assert.Equal(t, OrganFlower, rec.gotParts[2].Organ)

	// 92 clears the floor of 30.
	require.NotNil(t, result.Identification.Species)
	assert.Equal(t, "Monstera deliciosa", *result.Identification.Species)
	assert.Equal(t, 92.0, result.Identification.Confidence)
	assert.Equal(t, "testvision", result.Identification.Source)

	require.Equal(t, 1, store.calls)
	require.Len(t, store.gotImages, 3)
	for _, img := range store.gotImages {
		assert.Equal(t, result.Identification.ID, img.IdentificationID)
		assert.NotEmpty(t, img.StorageKey)
	}
}

func TestIdentifyBelowConfidenceFloor(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{
		candidates: []Candidate{
			{ScientificName: "Ficus lyrata", Score: 18},
			{ScientificName: "Ficus elastica", Score: 12},
		},
	}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	result, err := o.Identify(context.Background(), Request{
		Images:  makeImages(1),
		Organs:  []string{"leaf"},
		Persist: true,
	})
	require.NoError(t, err)

	assert.Nil(t, result.Identification.Species, "low-confidence match must not become the species")
	assert.Equal(t, 18.0, result.Identification.Confidence)
	assert.True(t, strings.Contains(result.Identification.RawResult, "Ficus lyrata"),
		"top candidates must survive as metadata")
	assert.Equal(t, 1, store.calls)
}

func TestIdentifyExternalFailure(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{err: errors.New("upstream 500")}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	_, err := o.Identify(context.Background(), Request{
		Images:  makeImages(2),
		Organs:  []string{"bark"},
		Persist: true,
	})
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, 0, store.calls)
}

func TestIdentifyPersistenceFailureIsDistinct(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{
		candidates: []Candidate{{ScientificName: "Monstera deliciosa", Score: 80}},
	}
	store := &fakeStore{err: errors.New("disk full")}
	o := newTestOrchestrator(blobs, rec, store)

	_, err := o.Identify(context.Background(), Request{
		Images:  makeImages(1),
		Organs:  []string{"leaf"},
		Persist: true,
	})
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.NotErrorIs(t, err, ErrExternalService)
	assert.Equal(t, 1, rec.calls, "external call already happened")
}

func TestIdentifyWithoutPersist(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{
		candidates: []Candidate{{ScientificName: "Monstera deliciosa", Score: 80}},
	}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	result, err := o.Identify(context.Background(), Request{
		Images: makeImages(2),
		Organs: []string{"leaf"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.calls)
	assert.Len(t, result.Images, 2)
	for _, img := range result.Images {
		assert.Empty(t, img.IdentificationID, "images stay unlinked until persisted")
	}
}

func TestIdentifyRanksCandidates(t *testing.T) {
	blobs := &fakeBlobs{}
	rec := &fakeRecognizer{
		candidates: []Candidate{
			{ScientificName: "Epipremnum aureum", Score: 40},
			{ScientificName: "Monstera deliciosa", Score: 75},
		},
	}
	store := &fakeStore{}
	o := newTestOrchestrator(blobs, rec, store)

	result, err := o.Identify(context.Background(), Request{
		Images: makeImages(1),
		Organs: []string{"auto"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Identification.Species)
	assert.Equal(t, "Monstera deliciosa", *result.Identification.Species)
	assert.Equal(t, "Monstera deliciosa", result.Candidates[0].ScientificName)
}
