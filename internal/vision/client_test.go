package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantpal/backend/internal/identify"
)

const sampleResponse = `{
	"results": [
		{"score": 0.924, "species": {"scientificNameWithoutAuthor": "Monstera deliciosa", "commonNames": ["Swiss cheese plant"]}},
		{"score": 0.051, "species": {"scientificNameWithoutAuthor": "Epipremnum aureum", "commonNames": ["Pothos"]}}
	]
}`

func testParts() []identify.ImagePart {
	return []identify.ImagePart{
		{Data: []byte("jpeg-1"), Filename: "a.jpg", Organ: identify.OrganLeaf},
		{Data: []byte("jpeg-2"), Filename: "b.jpg", Organ: identify.OrganAuto},
	}
}

func TestIdentifySendsOneMultipartRequest(t *testing.T) {
	var calls atomic.Int64
	var gotOrgans []string
	var gotFiles int
	var gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotKey = r.URL.Query().Get("api-key")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotOrgans = r.MultipartForm.Value["organs"]
		gotFiles = len(r.MultipartForm.File["images"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-key", 5*time.Second)
	candidates, err := client.Identify(context.Background(), testParts())
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "a batch maps to exactly one upstream call")
	assert.Equal(t, "secret-key", gotKey)
	assert.Equal(t, 2, gotFiles)
	assert.Equal(t, []string{"leaf", "auto"}, gotOrgans, "one organ value per image, in order")

	require.Len(t, candidates, 2)
	assert.Equal(t, "Monstera deliciosa", candidates[0].ScientificName)
	assert.InDelta(t, 92.4, candidates[0].Score, 0.001, "scores rescale to 0-100")
	assert.Equal(t, []string{"Swiss cheese plant"}, candidates[0].CommonNames)
}

func TestIdentifyRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	var bodies [][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		bodies = append(bodies, r.MultipartForm.Value["organs"])

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second)
	client.retryConfig.InitialDelay = time.Millisecond
	client.retryConfig.MaxDelay = 5 * time.Millisecond

	candidates, err := client.Identify(context.Background(), testParts())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, int64(3), calls.Load())
	// Every attempt resends the identical payload.
	require.Len(t, bodies, 3)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestIdentifyFailsAfterRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second)
	client.retryConfig.InitialDelay = time.Millisecond
	client.retryConfig.MaxDelay = 5 * time.Millisecond

	_, err := client.Identify(context.Background(), testParts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSource(t *testing.T) {
	assert.Equal(t, "plantnet", NewClient("http://localhost", "", 0).Source())
}
