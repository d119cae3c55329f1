package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/plantpal/backend/internal/identify"
	"github.com/plantpal/backend/pkg/circuitbreaker"
	"github.com/plantpal/backend/pkg/logger"
	"github.com/plantpal/backend/pkg/retry"
)

const sourceName = "plantnet"

// Client talks to the external visual-identification service. It accepts
// 1-5 images plus one organ value per image in a single multipart request
// and returns a ranked candidate list.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.New("vision", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Source() string {
	return sourceName
}

func (c *Client) Identify(ctx context.Context, images []identify.ImagePart) ([]identify.Candidate, error) {
	body, contentType, err := buildRequestBody(images)
	if err != nil {
		return nil, fmt.Errorf("failed to build identification request: %w", err)
	}

	var candidates []identify.Candidate

	err = c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			result, err := c.post(ctx, body, contentType)
			if err != nil {
				return err
			}
			candidates = result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Identification service responded",
		zap.Int("images", len(images)),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

func (c *Client) post(ctx context.Context, body []byte, contentType string) ([]identify.Candidate, error) {
	endpoint := c.endpoint
	if c.apiKey != "" {
		endpoint = fmt.Sprintf("%s?api-key=%s", c.endpoint, url.QueryEscape(c.apiKey))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.Warn("Identification service returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data),
		)
		return nil, fmt.Errorf("identification service returned status %d", resp.StatusCode)
	}

	var parsed identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode identification response: %w", err)
	}

	candidates := make([]identify.Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		candidates = append(candidates, identify.Candidate{
			ScientificName: r.Species.ScientificNameWithoutAuthor,
			CommonNames:    r.Species.CommonNames,
			Score:          r.Score * 100,
		})
	}

	return candidates, nil
}

type identifyResponse struct {
	Results []struct {
		Score   float64 `json:"score"`
		Species struct {
			ScientificNameWithoutAuthor string   `json:"scientificNameWithoutAuthor"`
			CommonNames                 []string `json:"commonNames"`
		} `json:"species"`
	} `json:"results"`
}

// buildRequestBody assembles the multipart payload once so retries can
// resend the identical bytes.
func buildRequestBody(images []identify.ImagePart) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, img := range images {
		part, err := writer.CreateFormFile("images", img.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
		if err := writer.WriteField("organs", string(img.Organ)); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}
